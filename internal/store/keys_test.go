package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithReturning(t *testing.T) {
	testCases := []struct {
		name    string
		sql     string
		columns []string
		want    string
	}{
		{"single column", "insert into something (name) values (?)", []string{"id"}, "insert into something (name) values (?) RETURNING id"},
		{"trailing semicolon", "insert into t (a) values ($1);\n", []string{"id", "created"}, "insert into t (a) values ($1) RETURNING id, created"},
		{"no columns", "insert into t (a) values (?)", nil, "insert into t (a) values (?) RETURNING *"},
		{"already returning", "insert into t (a) values (?) returning uid", []string{"id"}, "insert into t (a) values (?) returning uid"},
		{"quoted keyword ignored", "insert into t (a) values ('returning')", []string{"id"}, "insert into t (a) values ('returning') RETURNING id"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, withReturning(tc.sql, tc.columns))
		})
	}
}

func TestWithReturningInto(t *testing.T) {
	got, err := withReturningInto("insert into something (name) values (:1);", []string{"id"}, 1)
	require.NoError(t, err)
	assert.Equal(t, "insert into something (name) values (:1) RETURNING id INTO :2", got)

	got, err = withReturningInto("insert into t (a, b) values (:1, :2)", []string{"id", "created"}, 2)
	require.NoError(t, err)
	assert.Equal(t, "insert into t (a, b) values (:1, :2) RETURNING id, created INTO :3, :4", got)

	_, err = withReturningInto("insert into t (a) values (:1)", nil, 1)
	assert.Error(t, err)

	_, err = withReturningInto("insert into t (a) values (:1) returning id into :2", []string{"id"}, 1)
	assert.Error(t, err)
}

func TestWithOutputInserted(t *testing.T) {
	testCases := []struct {
		name    string
		sql     string
		columns []string
		want    string
	}{
		{"values", "insert into something (name) values (@p1)", []string{"id"}, "insert into something (name) OUTPUT INSERTED.id values (@p1)"},
		{"select", "INSERT INTO t (a) SELECT a FROM s", []string{"id"}, "INSERT INTO t (a) OUTPUT INSERTED.id SELECT a FROM s"},
		{"default values", "insert into t default values", []string{"id", "ts"}, "insert into t OUTPUT INSERTED.id, INSERTED.ts default values"},
		{"update where", "update t set a = @p1 where id = @p2", []string{"version"}, "update t set a = @p1 OUTPUT INSERTED.version where id = @p2"},
		{"update no where", "update t set a = 1", []string{"version"}, "update t set a = 1 OUTPUT INSERTED.version"},
		{"values inside column list", "insert into t ([values]) values (1)", []string{"id"}, "insert into t ([values]) OUTPUT INSERTED.id values (1)"},
		{"already output", "insert into t (a) output inserted.id values (1)", []string{"id"}, "insert into t (a) output inserted.id values (1)"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := withOutputInserted(tc.sql, tc.columns)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestWithOutputInserted_Unsupported(t *testing.T) {
	_, err := withOutputInserted("delete from t where id = 1", []string{"id"})
	assert.Error(t, err)

	_, err = withOutputInserted("insert into t exec proc", []string{"id"})
	assert.Error(t, err)
}

func TestKeywordAt(t *testing.T) {
	assert.Equal(t, -1, keywordAt("select values_count from t", "VALUES"))
	assert.Equal(t, -1, keywordAt("select (select 1 where x) from t", "WHERE"))
	assert.Equal(t, 17, keywordAt(`select "where" x where y`, "WHERE"))
}
