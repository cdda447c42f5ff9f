package sqlext_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sqlext"
	"github.com/roach88/sqlext/internal/store"
	"github.com/roach88/sqlext/internal/testutil"
)

var somethingDAO = sqlext.ExtensionSpec{
	Name: "SomethingDAO",
	Methods: []sqlext.MethodSpec{
		{
			Name:          "insert",
			Kind:          "update",
			SQL:           "insert into something (name) values (:name)",
			Params:        []sqlext.ParamSpec{{Name: "name", Type: "string"}},
			Returns:       "generated_key",
			GeneratedKeys: []string{"id"},
		},
		{
			Name:    "findNameById",
			Kind:    "query",
			SQL:     "select name from something where id = :id",
			Params:  []sqlext.ParamSpec{{Name: "id", Type: "int64"}},
			Returns: "scalar",
		},
		{
			Name:    "findName",
			Kind:    "query",
			SQL:     "select name from something where id = :id",
			Params:  []sqlext.ParamSpec{{Name: "id", Type: "int64"}},
			Returns: "optional",
		},
		{
			Name:    "all",
			Kind:    "query",
			SQL:     "select id, name from something order by id",
			Returns: "rows",
		},
		{
			Name:    "rename",
			Kind:    "update",
			SQL:     "update something set name = ? where name = ?",
			Params:  []sqlext.ParamSpec{{Name: "to", Type: "string"}, {Name: "from", Type: "string"}},
			Returns: "none",
		},
	},
}

type something struct {
	ID   int64  `db:"id"`
	Name string `db:"name"`
}

func openDB(t *testing.T, opts ...sqlext.Option) *sqlext.DB {
	t.Helper()
	db, err := sqlext.Open("sqlite3", filepath.Join(t.TempDir(), "test.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.SQL().Exec(testutil.SomethingSchema)
	require.NoError(t, err)
	return db
}

func attach(t *testing.T, db *sqlext.DB) *sqlext.Extension {
	t.Helper()
	dao, err := db.Attach(somethingDAO)
	require.NoError(t, err)
	return dao
}

// lastInsertID is SQLite made to report keys the way MySQL does.
func lastInsertID() sqlext.Engine {
	e := sqlext.SQLite
	e.KeyReporting = store.KeysLastInsertID
	return e
}

func TestOpen_DefaultsFromEngine(t *testing.T) {
	db := openDB(t)
	assert.Equal(t, "sqlite3", db.Engine().Name)
	assert.Equal(t, sqlext.ByColumnName, db.KeyPolicy())

	db = openDB(t, sqlext.WithEngine(lastInsertID()))
	assert.Equal(t, sqlext.ByColumnPosition, db.KeyPolicy())

	db = openDB(t, sqlext.WithKeyPolicy(sqlext.ByColumnPosition))
	assert.Equal(t, store.KeysReturning, db.Engine().KeyReporting)
	assert.Equal(t, sqlext.ByColumnPosition, db.KeyPolicy())
}

func TestRoundTrip_BothPolicies(t *testing.T) {
	tests := []struct {
		name string
		opts []sqlext.Option
	}{
		{"by name, returning", nil},
		{"by position, returning", []sqlext.Option{sqlext.WithKeyPolicy(sqlext.ByColumnPosition)}},
		{"by position, last insert id", []sqlext.Option{sqlext.WithEngine(lastInsertID())}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			dao := attach(t, openDB(t, tt.opts...))

			id, err := sqlext.Key[int64](ctx, dao, "insert", "Brian")
			require.NoError(t, err)
			assert.Positive(t, id)

			name, err := sqlext.One[string](ctx, dao, "findNameById", id)
			require.NoError(t, err)
			assert.Equal(t, "Brian", name)
		})
	}
}

func TestKey_PositionIgnoresDeclaredName(t *testing.T) {
	ctx := context.Background()

	// LastInsertId reports the key as GENERATED_KEY, not "id".
	dao := attach(t, openDB(t, sqlext.WithEngine(lastInsertID()), sqlext.WithKeyPolicy(sqlext.ByColumnName)))
	_, err := sqlext.Key[int64](ctx, dao, "insert", "Brian")
	require.Error(t, err)
	assert.True(t, sqlext.IsKeyNotFound(err), "got %v", err)

	dao = attach(t, openDB(t, sqlext.WithEngine(lastInsertID()), sqlext.WithKeyPolicy(sqlext.ByColumnPosition)))
	id, err := sqlext.Key[int64](ctx, dao, "insert", "Brian")
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
}

func TestKey_FooAndBarGetDistinctIDs(t *testing.T) {
	ctx := context.Background()
	dao := attach(t, openDB(t, sqlext.WithEngine(lastInsertID()), sqlext.WithKeyPolicy(sqlext.ByColumnPosition)))

	foo, err := sqlext.Key[int64](ctx, dao, "insert", "Foo")
	require.NoError(t, err)
	bar, err := sqlext.Key[int64](ctx, dao, "insert", "Bar")
	require.NoError(t, err)
	assert.NotEqual(t, foo, bar)

	name, err := sqlext.One[string](ctx, dao, "findNameById", foo)
	require.NoError(t, err)
	assert.Equal(t, "Foo", name)

	name, err = sqlext.One[string](ctx, dao, "findNameById", bar)
	require.NoError(t, err)
	assert.Equal(t, "Bar", name)
}

func TestScalar_ZeroRows(t *testing.T) {
	ctx := context.Background()
	dao := attach(t, openDB(t))

	_, err := sqlext.One[string](ctx, dao, "findNameById", int64(42))
	require.Error(t, err)
	assert.True(t, sqlext.IsExtractionError(err))

	name, err := sqlext.Maybe[string](ctx, dao, "findName", int64(42))
	require.NoError(t, err)
	assert.Nil(t, name)

	id, err := sqlext.Key[int64](ctx, dao, "insert", "Brian")
	require.NoError(t, err)
	name, err = sqlext.Maybe[string](ctx, dao, "findName", id)
	require.NoError(t, err)
	require.NotNil(t, name)
	assert.Equal(t, "Brian", *name)
}

func TestList_Structs(t *testing.T) {
	ctx := context.Background()
	dao := attach(t, openDB(t))

	for _, n := range []string{"a", "b", "c"} {
		_, err := sqlext.Key[int64](ctx, dao, "insert", n)
		require.NoError(t, err)
	}

	rows, err := sqlext.List[something](ctx, dao, "all")
	require.NoError(t, err)
	assert.Equal(t, []something{{1, "a"}, {2, "b"}, {3, "c"}}, rows)

	ids, err := sqlext.List[int64](ctx, dao, "all")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, ids)

	it, err := sqlext.Rows[*something](ctx, dao, "all")
	require.NoError(t, err)
	var names []string
	for s, err := range it.All() {
		require.NoError(t, err)
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"a", "b", "c"}, names)
}

func TestRowsWith_CustomMapper(t *testing.T) {
	ctx := context.Background()
	dao := attach(t, openDB(t))
	_, err := sqlext.Key[int64](ctx, dao, "insert", "x")
	require.NoError(t, err)

	doubled := func(row sqlext.Row) (string, error) {
		var id int64
		var name string
		if err := row.Scan(&id, &name); err != nil {
			return "", err
		}
		return name + name, nil
	}
	it, err := sqlext.RowsWith(ctx, dao, "all", doubled)
	require.NoError(t, err)
	out, err := it.Collect()
	require.NoError(t, err)
	assert.Equal(t, []string{"xx"}, out)
}

func TestExec_RowsAffected(t *testing.T) {
	ctx := context.Background()
	dao := attach(t, openDB(t))
	for _, n := range []string{"a", "a", "b"} {
		_, err := sqlext.Key[int64](ctx, dao, "insert", n)
		require.NoError(t, err)
	}

	n, err := sqlext.Exec(ctx, dao, "rename", "z", "a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = sqlext.Exec(ctx, dao, "rename", "z", "missing")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestExec_FieldBindings(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)

	insert := func(name, typ string) sqlext.MethodSpec {
		return sqlext.MethodSpec{
			Name:    name,
			Kind:    "update",
			SQL:     "insert into something (name) values (:name)",
			Params:  []sqlext.ParamSpec{{Name: "p", Type: typ}},
			Binds:   []sqlext.BindSpec{{Name: "name", Arg: 0, Field: "name"}},
			Returns: "none",
		}
	}
	dao, err := db.Attach(sqlext.ExtensionSpec{
		Name:    "People",
		Methods: []sqlext.MethodSpec{insert("insertPerson", "struct"), insert("insertAny", "any")},
	})
	require.NoError(t, err)
	require.NoError(t, dao.Validate())

	args := []struct {
		method string
		arg    any
	}{
		{"insertPerson", something{Name: "Foo"}},
		{"insertPerson", &something{Name: "Bar"}},
		{"insertPerson", map[string]any{"name": "Baz"}},
		{"insertAny", something{Name: "Qux"}},
		{"insertAny", map[string]string{"name": "Quux"}},
	}
	for _, a := range args {
		n, err := sqlext.Exec(ctx, dao, a.method, a.arg)
		require.NoError(t, err, "%s(%T)", a.method, a.arg)
		assert.Equal(t, int64(1), n)
	}

	rows, err := sqlext.List[something](ctx, attach(t, db), "all")
	require.NoError(t, err)
	var names []string
	for _, r := range rows {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"Foo", "Bar", "Baz", "Qux", "Quux"}, names)

	_, err = sqlext.Exec(ctx, dao, "insertPerson", "Foo")
	assert.True(t, sqlext.IsBindingError(err), "scalar for a struct parameter")
	_, err = sqlext.Exec(ctx, dao, "insertPerson", (*something)(nil))
	assert.True(t, sqlext.IsBindingError(err), "nil struct pointer")
	_, err = sqlext.Exec(ctx, dao, "insertAny", map[string]any{"other": 1})
	assert.True(t, sqlext.IsBindingError(err), "missing map key")
}

func TestAttach_StructParamBoundWhole(t *testing.T) {
	db := openDB(t)
	dao, err := db.Attach(sqlext.ExtensionSpec{
		Name: "People",
		Methods: []sqlext.MethodSpec{{
			Name:    "insert",
			Kind:    "update",
			SQL:     "insert into something (name) values (:name)",
			Params:  []sqlext.ParamSpec{{Name: "name", Type: "struct"}},
			Returns: "none",
		}},
	})
	require.NoError(t, err)

	err = dao.Validate()
	require.Error(t, err)
	assert.True(t, sqlext.IsBindingError(err))
	assert.ErrorContains(t, err, "bind one of its fields")
}

func TestOne_NullIntoInterface(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	dao, err := db.Attach(sqlext.ExtensionSpec{
		Name: "Nulls",
		Methods: []sqlext.MethodSpec{{
			Name:    "nullish",
			Kind:    "query",
			SQL:     "select null",
			Returns: "scalar",
		}},
	})
	require.NoError(t, err)

	v, err := sqlext.One[any](ctx, dao, "nullish")
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = dao.Call(ctx, "nullish")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestAttach_SameNameDifferentDeclarations(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)

	spec := func(sql string) sqlext.ExtensionSpec {
		return sqlext.ExtensionSpec{
			Name:    "Q",
			Methods: []sqlext.MethodSpec{{Name: "v", Kind: "query", SQL: sql, Returns: "scalar"}},
		}
	}
	a, err := db.Attach(spec("select 'first'"))
	require.NoError(t, err)
	b, err := db.Attach(spec("select 'second'"))
	require.NoError(t, err)

	got, err := sqlext.One[string](ctx, a, "v")
	require.NoError(t, err)
	assert.Equal(t, "first", got)

	got, err = sqlext.One[string](ctx, b, "v")
	require.NoError(t, err)
	assert.Equal(t, "second", got)
	assert.Equal(t, 2, db.Registry().Len())

	// Re-attaching an identical declaration reuses its descriptor.
	c, err := db.Attach(spec("select 'first'"))
	require.NoError(t, err)
	_, err = sqlext.One[string](ctx, c, "v")
	require.NoError(t, err)
	assert.Equal(t, int64(2), db.Registry().Builds())
}

func TestCall_Dynamic(t *testing.T) {
	ctx := context.Background()
	dao := attach(t, openDB(t))

	key, err := dao.Call(ctx, "insert", "Brian")
	require.NoError(t, err)
	assert.Equal(t, int64(1), key)

	name, err := dao.Call(ctx, "findNameById", int64(1))
	require.NoError(t, err)
	assert.Equal(t, "Brian", name)

	missing, err := dao.Call(ctx, "findName", int64(9))
	require.NoError(t, err)
	assert.Nil(t, missing)

	rows, err := dao.Call(ctx, "all")
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"id": int64(1), "name": "Brian"}}, rows)

	n, err := dao.Call(ctx, "rename", "Ann", "Brian")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestCall_Errors(t *testing.T) {
	ctx := context.Background()
	dao := attach(t, openDB(t))

	_, err := dao.Call(ctx, "nope")
	assert.True(t, sqlext.IsBindingError(err))

	_, err = dao.Call(ctx, "insert")
	assert.True(t, sqlext.IsBindingError(err), "missing argument")

	_, err = dao.Call(ctx, "insert", 42)
	assert.True(t, sqlext.IsBindingError(err), "wrong argument type")

	// Shape mismatch between helper and declaration.
	_, err = sqlext.One[int64](ctx, dao, "insert", "x")
	assert.True(t, sqlext.IsBindingError(err))

	var serr *sqlext.Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "SomethingDAO", serr.Extension)
	assert.Equal(t, "insert", serr.Method)
}

func TestUnboundPlaceholder_FailsBeforeExecution(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)

	spec := sqlext.ExtensionSpec{
		Name: "Broken",
		Methods: []sqlext.MethodSpec{{
			Name:   "insert2",
			Kind:   "update",
			SQL:    "insert into something (name) values (:name || :suffix)",
			Params: []sqlext.ParamSpec{{Name: "name", Type: "string"}, {Name: "suffix", Type: "string"}},
			// :suffix has no binding.
			Binds:   []sqlext.BindSpec{{Name: "name", Arg: 0}},
			Returns: "none",
		}},
	}
	ext, err := db.Attach(spec)
	require.NoError(t, err)

	require.Error(t, ext.Validate())

	_, err = sqlext.Exec(ctx, ext, "insert2", "a", "b")
	require.Error(t, err)
	assert.True(t, sqlext.IsUnresolvedParameter(err))
	assert.True(t, sqlext.IsBindingError(err))

	var n int
	require.NoError(t, db.SQL().QueryRow("select count(*) from something").Scan(&n))
	assert.Zero(t, n)
}

func TestExecutionFault_CarriesStatement(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	ext, err := db.Attach(sqlext.ExtensionSpec{
		Name: "Bad",
		Methods: []sqlext.MethodSpec{{
			Name:    "count",
			Kind:    "query",
			SQL:     "select count(*) from nowhere",
			Returns: "scalar",
		}},
	})
	require.NoError(t, err)

	_, err = sqlext.One[int64](ctx, ext, "count")
	require.Error(t, err)
	assert.True(t, sqlext.IsExecutionFault(err))
	assert.False(t, sqlext.IsTransient(err))

	var serr *sqlext.Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "select count(*) from nowhere", serr.Statement)
	assert.Equal(t, "sqlite3", serr.Engine)
}

func TestAttach_Rejects(t *testing.T) {
	db := openDB(t)

	_, err := db.Attach(sqlext.ExtensionSpec{})
	require.Error(t, err)
	assert.True(t, sqlext.IsBindingError(err))

	_, err = db.Attach(sqlext.ExtensionSpec{Name: "Anon", Methods: []sqlext.MethodSpec{{}}})
	assert.True(t, sqlext.IsBindingError(err))

	_, err = db.Attach(sqlext.ExtensionSpec{
		Name:    "Dup",
		Methods: []sqlext.MethodSpec{{Name: "a"}, {Name: "a"}},
	})
	assert.ErrorContains(t, err, "duplicate method a")
	assert.Equal(t, sqlext.CodeBinding, sqlext.CodeOf(err))

	var serr *sqlext.Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "Dup", serr.Extension)
	assert.Equal(t, "a", serr.Method)
}

func TestDescriptors_BuiltOncePerMethod(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	dao := attach(t, db)

	id, err := sqlext.Key[int64](ctx, dao, "insert", "Brian")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 64 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			name, err := sqlext.One[string](ctx, dao, "findNameById", id)
			assert.NoError(t, err)
			assert.Equal(t, "Brian", name)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(2), db.Registry().Builds())
	assert.Equal(t, 2, db.Registry().Len())

	db.Reset()
	assert.Equal(t, 0, db.Registry().Len())
	_, err = sqlext.One[string](ctx, dao, "findNameById", id)
	require.NoError(t, err)
	assert.Equal(t, int64(3), db.Registry().Builds())
}

func TestValidate_AllMethods(t *testing.T) {
	db := openDB(t)
	dao := attach(t, db)
	require.NoError(t, dao.Validate())
	assert.Equal(t, len(somethingDAO.Methods), db.Registry().Len())
	assert.Equal(t, []string{"all", "findName", "findNameById", "insert", "rename"}, dao.Methods())
}

func TestTx_RollsBackMethodCalls(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	dao := attach(t, db)

	err := db.Tx(ctx, func(ctx context.Context) error {
		_, err := sqlext.Key[int64](ctx, dao, "insert", "gone")
		require.NoError(t, err)
		_, err = sqlext.One[int64](ctx, dao, "findNameById", "not an id")
		return err
	})
	require.Error(t, err)

	rows, err := sqlext.List[something](ctx, dao, "all")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestWithLogger_CorrelatesCalls(t *testing.T) {
	ctx := context.Background()
	logger, logs := testutil.CaptureLogger()
	db := openDB(t, sqlext.WithLogger(logger), sqlext.WithIDGenerator(testutil.NewSequentialIDs("call")))
	dao := attach(t, db)

	_, err := sqlext.Key[int64](ctx, dao, "insert", "Brian")
	require.NoError(t, err)

	out := logs.String()
	assert.Contains(t, out, "database opened")
	assert.Contains(t, out, "key_policy=name")
	assert.Contains(t, out, "extension attached")
	assert.Contains(t, out, "execution_id=call-1")
}
