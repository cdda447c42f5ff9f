package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sqlext/internal/ir"
)

func TestCompileValidSpecs(t *testing.T) {
	out, _, err := execute(t, "compile", projectSpecs)
	require.NoError(t, err)

	assert.Contains(t, out, "✓ Compiled 2 extension(s), 8 method(s)")
	assert.Contains(t, out, "SomethingDAO")
	assert.Contains(t, out, "PersonDAO")
	assert.Contains(t, out, "insert(string)")
	assert.Contains(t, out, "generated_key")
}

func TestCompileValidSpecsJSON(t *testing.T) {
	out, _, err := execute(t, "--format", "json", "compile", projectSpecs)
	require.NoError(t, err)

	var resp struct {
		Status string            `json:"status"`
		Data   CompilationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, ir.IRVersion, resp.Data.IRVersion)
	require.Len(t, resp.Data.Extensions, 2)

	for _, ext := range resp.Data.Extensions {
		assert.NotEmpty(t, ext.Hash, ext.Name)
		for _, m := range ext.Methods {
			assert.NotEmpty(t, m.Hash, m.Name)
			assert.NotEmpty(t, m.Signature, m.Name)
		}
	}
}

func TestCompileOutputToFile(t *testing.T) {
	outFile := filepath.Join(t.TempDir(), "ir.json")

	out, _, err := execute(t, "compile", projectSpecs, "-o", outFile)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote IR to "+outFile)

	data, err := os.ReadFile(outFile)
	require.NoError(t, err)

	var result CompilationResult
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Len(t, result.Extensions, 2)
}

func TestCompileDeterministicHashes(t *testing.T) {
	first, _, err := execute(t, "--format", "json", "compile", projectSpecs)
	require.NoError(t, err)
	second, _, err := execute(t, "--format", "json", "compile", projectSpecs)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestCompileNonExistentDirectory(t *testing.T) {
	out, _, err := execute(t, "compile", filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, ErrCodeNotFound)
}

func TestCompileEmptyDirectory(t *testing.T) {
	out, _, err := execute(t, "compile", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, ErrCodeNoFiles)
}

func TestCompileInvalidSpecs(t *testing.T) {
	tests := []struct {
		name     string
		spec     string
		wantCode string
	}{
		{
			name: "no methods",
			spec: `package specs

extension: Empty: {}
`,
			wantCode: ErrCodeNoMethods,
		},
		{
			name: "query and update",
			spec: `package specs

extension: Both: method: m: {
	query:  "select 1"
	update: "delete from t"
}
`,
			wantCode: ErrCodeInvalidMethod,
		},
		{
			name:     "unresolved placeholder",
			spec:     brokenSpec,
			wantCode: "E112",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeFiles(t, map[string]string{"spec.cue": tt.spec})

			out, _, err := execute(t, "compile", dir)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, out, "✗ Compilation failed")
			assert.Contains(t, out, tt.wantCode)
		})
	}
}

func TestCompileInvalidSpecJSON(t *testing.T) {
	dir := writeFiles(t, map[string]string{"spec.cue": brokenSpec})

	out, _, err := execute(t, "--format", "json", "compile", dir)
	require.Error(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E112", resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "extension.Broken.methods[0].sql")
}

func TestBuildCompilationResult(t *testing.T) {
	exts := []ir.ExtensionSpec{{
		Name: "SomethingDAO",
		Methods: []ir.MethodSpec{{
			Name:      "findNameById",
			Kind:      ir.KindQuery,
			SQL:     "select name from something where id = :id",
			Params:    []ir.ParamSpec{{Name: "id", Type: ir.TypeInt}},
			Returns: ir.ShapeScalar,
		}},
	}}

	first, err := BuildCompilationResult(exts)
	require.NoError(t, err)
	second, err := BuildCompilationResult(exts)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	require.Len(t, first.Extensions, 1)
	require.Len(t, first.Extensions[0].Methods, 1)
	assert.Equal(t, "findNameById(int)", first.Extensions[0].Methods[0].Signature)

	exts[0].Methods[0].SQL = "select name from something where id = :id limit 1"
	changed, err := BuildCompilationResult(exts)
	require.NoError(t, err)
	assert.NotEqual(t, first.Extensions[0].Hash, changed.Extensions[0].Hash)
	assert.NotEqual(t, first.Extensions[0].Methods[0].Hash, changed.Extensions[0].Methods[0].Hash)
}

func TestFindCUEFiles(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"a.cue":        "package specs",
		"nested/b.cue": "package specs",
		"notes.txt":    "ignored",
	})

	files, err := FindCUEFiles(dir)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		filepath.Join(dir, "a.cue"),
		filepath.Join(dir, "nested", "b.cue"),
	}, files)
}

func TestMapFieldToErrorCode(t *testing.T) {
	tests := []struct {
		field string
		want  string
	}{
		{"method", ErrCodeNoMethods},
		{"type", ErrCodeInvalidType},
		{"literal", ErrCodeInvalidLiteral},
		{"method.insert", ErrCodeInvalidMethod},
		{"cue", ErrCodeGeneric},
		{"", ErrCodeGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			assert.Equal(t, tt.want, MapFieldToErrorCode(tt.field))
		})
	}
}
