package registry

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sqlext/internal/descriptor"
	"github.com/roach88/sqlext/internal/extract"
	"github.com/roach88/sqlext/internal/ir"
	"github.com/roach88/sqlext/internal/sqlerr"
)

func findName() ir.MethodSpec {
	return ir.MethodSpec{
		Name:    "findNameById",
		Kind:    ir.KindQuery,
		SQL:     "select name from something where id = :id",
		Params:  []ir.ParamSpec{{Name: "id", Type: ir.TypeInt64}},
		Returns: ir.ShapeScalar,
	}
}

func builder(calls *atomic.Int64, spec ir.MethodSpec) BuildFunc {
	return func() (*descriptor.Descriptor, error) {
		calls.Add(1)
		// Widen the race window.
		time.Sleep(5 * time.Millisecond)
		return descriptor.Build("SomethingDAO", spec, extract.ByColumnName)
	}
}

func TestResolve_ConcurrentFirstResolutionBuildsOnce(t *testing.T) {
	r := New()
	key := Key{Extension: "SomethingDAO", Signature: findName().Signature()}

	var calls atomic.Int64
	build := builder(&calls, findName())

	const n = 64
	results := make([]*descriptor.Descriptor, n)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			d, err := r.Resolve(key, build)
			assert.NoError(t, err)
			results[i] = d
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, int64(1), r.Builds())
	for _, d := range results {
		assert.Same(t, results[0], d)
	}
}

func TestResolve_DistinctKeysBuildIndependently(t *testing.T) {
	r := New()
	var calls atomic.Int64

	specs := []ir.MethodSpec{findName(), {
		Name:    "count",
		Kind:    ir.KindQuery,
		SQL:     "select count(*) from something",
		Returns: ir.ShapeScalar,
	}}

	var wg sync.WaitGroup
	for _, spec := range specs {
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(spec ir.MethodSpec) {
				defer wg.Done()
				_, err := r.Resolve(Key{Extension: "SomethingDAO", Signature: spec.Signature()}, builder(&calls, spec))
				assert.NoError(t, err)
			}(spec)
		}
	}
	wg.Wait()

	assert.Equal(t, int64(2), calls.Load())
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, []Key{
		{Extension: "SomethingDAO", Signature: "count()"},
		{Extension: "SomethingDAO", Signature: "findNameById(int64)"},
	}, r.Keys())
}

func TestResolve_FailureIsCached(t *testing.T) {
	r := New()
	boom := errors.New("boom")
	var calls atomic.Int64
	build := func() (*descriptor.Descriptor, error) {
		calls.Add(1)
		return nil, boom
	}

	for i := 0; i < 3; i++ {
		_, err := r.Resolve(Key{Extension: "X", Signature: "y()"}, build)
		assert.ErrorIs(t, err, boom)
	}
	assert.Equal(t, int64(1), calls.Load())

	_, ok := r.Lookup(Key{Extension: "X", Signature: "y()"})
	assert.False(t, ok)
}

func TestResolve_PanickingBuildBecomesError(t *testing.T) {
	r := New()
	_, err := r.Resolve(Key{Extension: "X", Signature: "y()"}, func() (*descriptor.Descriptor, error) {
		panic("bad declaration")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad declaration")
	assert.True(t, sqlerr.IsBindingError(err))

	_, err = r.Resolve(Key{Extension: "X", Signature: "z()"}, func() (*descriptor.Descriptor, error) { return nil, nil })
	assert.Error(t, err)
	assert.Equal(t, sqlerr.CodeBinding, sqlerr.CodeOf(err))
}

func TestResolve_SameSignatureDifferentDeclarations(t *testing.T) {
	r := New()
	var calls atomic.Int64

	first := ir.MethodSpec{Name: "v", Kind: ir.KindQuery, SQL: "select 'first'", Returns: ir.ShapeScalar}
	second := first
	second.SQL = "select 'second'"

	h1, err := ir.MethodHash("Q", first)
	require.NoError(t, err)
	h2, err := ir.MethodHash("Q", second)
	require.NoError(t, err)
	require.NotEqual(t, h1, h2)

	a, err := r.Resolve(Key{Extension: "Q", Signature: "v()", Hash: h1}, builder(&calls, first))
	require.NoError(t, err)
	b, err := r.Resolve(Key{Extension: "Q", Signature: "v()", Hash: h2}, builder(&calls, second))
	require.NoError(t, err)

	assert.NotSame(t, a, b)
	assert.Equal(t, "select 'first'", a.Template.Source())
	assert.Equal(t, "select 'second'", b.Template.Source())
	assert.Equal(t, 2, r.Len())
}

func TestReset_RebuildsOnNextResolution(t *testing.T) {
	r := New()
	key := Key{Extension: "SomethingDAO", Signature: findName().Signature()}
	var calls atomic.Int64

	first, err := r.Resolve(key, builder(&calls, findName()))
	require.NoError(t, err)

	got, ok := r.Lookup(key)
	require.True(t, ok)
	assert.Same(t, first, got)

	r.Reset()
	assert.Equal(t, 0, r.Len())
	_, ok = r.Lookup(key)
	assert.False(t, ok)

	second, err := r.Resolve(key, builder(&calls, findName()))
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, first.Hash, second.Hash)
	assert.Equal(t, int64(2), r.Builds())
}

func TestKey_String(t *testing.T) {
	assert.Equal(t, "SomethingDAO.insert(string)", Key{Extension: "SomethingDAO", Signature: "insert(string)"}.String())
}
