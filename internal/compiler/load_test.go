package compiler

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"cuelang.org/go/cue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const twoExtensions = `package specs

extension: SomethingDAO: method: all: query: "select id, name from something"
extension: PersonDAO: method: count: {
	query:   "select count(*) from person"
	returns: "scalar"
}
`

func writeCUE(t *testing.T, dir, name, src string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

func extensionNames(t *testing.T, v cue.Value) []string {
	t.Helper()
	var names []string
	require.NoError(t, EachExtension(v, func(name string, _ cue.Value) error {
		names = append(names, name)
		return nil
	}))
	return names
}

func TestLoad_Directory(t *testing.T) {
	dir := t.TempDir()
	writeCUE(t, dir, "specs.cue", twoExtensions)

	v, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"SomethingDAO", "PersonDAO"}, extensionNames(t, v))
}

func TestLoad_SingleFile(t *testing.T) {
	dir := t.TempDir()
	path := writeCUE(t, dir, "a.cue", `package a

extension: A: method: one: query: "select 1"
`)
	writeCUE(t, dir, "b.cue", `package b

extension: B: method: two: query: "select 2"
`)

	v, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, extensionNames(t, v))
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err))

	dir := t.TempDir()
	writeCUE(t, dir, "bad.cue", "package specs\n\nextension: {")
	_, err = Load(dir)
	var lerr *LoadError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, StageLoad, lerr.Stage)

	dir = t.TempDir()
	writeCUE(t, dir, "undefined.cue", "package specs\n\nx: y\n")
	_, err = Load(dir)
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, StageBuild, lerr.Stage)
}

func TestEachExtension_StopsOnError(t *testing.T) {
	dir := t.TempDir()
	writeCUE(t, dir, "specs.cue", twoExtensions)
	v, err := Load(dir)
	require.NoError(t, err)

	boom := errors.New("boom")
	calls := 0
	err = EachExtension(v, func(string, cue.Value) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestEachExtension_NoExtensions(t *testing.T) {
	dir := t.TempDir()
	writeCUE(t, dir, "empty.cue", "package specs\n\nother: 1\n")
	v, err := Load(dir)
	require.NoError(t, err)
	assert.Empty(t, extensionNames(t, v))
}
