package runtime_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aretw0/marionette/internal/runtime"
	"github.com/aretw0/marionette/pkg/domain"
	"github.com/aretw0/marionette/pkg/script"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEnv(t *testing.T) (*runtime.Env, *runtime.Catalog) {
	t.Helper()
	h := newHarness(t, `{"contexts": []}`)
	return h.player.Env(), h.catalog
}

func pipeline(t *testing.T, c *runtime.Catalog, src string) *script.Pipeline {
	t.Helper()
	p, err := script.DecodePipeline([]byte(src), c)
	require.NoError(t, err)
	return p
}

func TestEvaluation_EmptyPipelineIsIdentity(t *testing.T) {
	env, c := newEnv(t)
	in := []domain.Element{domain.ValueElement(1), domain.ValueElement(2)}

	out, err := env.NewEvaluation().SelectAll(context.Background(), pipeline(t, c, `[]`), in)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestEvaluation_SelectAllIsDeterministic(t *testing.T) {
	env, c := newEnv(t)
	p := pipeline(t, c, `[{"type": "DOM.queryAll", "selector": "option"}, {"type": "DOM.getText"}]`)
	root := []domain.Element{domain.ValueElement(nil)}

	first, err := env.NewEvaluation().SelectAll(context.Background(), p, root)
	require.NoError(t, err)
	second, err := env.NewEvaluation().SelectAll(context.Background(), p, root)
	require.NoError(t, err)
	assert.Equal(t, domain.Values(first), domain.Values(second))
	assert.Equal(t, []any{"English", "French", "Portuguese", "Spanish"}, domain.Values(first))
}

func TestEvaluation_SelectOneArity(t *testing.T) {
	env, c := newEnv(t)
	ctx := context.Background()
	root := []domain.Element{domain.ValueElement(nil)}

	_, err := env.NewEvaluation().SelectOne(ctx, pipeline(t, c, `[{"type": "DOM.queryAll", "selector": "option"}]`), root)
	require.Error(t, err)
	assert.True(t, domain.IsRetriable(err))
	assert.Equal(t, domain.CodePipelineOutputMismatch, domain.CodeOf(err))
	assert.Equal(t, 4, domain.AsError(err).Details["count"])

	el, err := env.NewEvaluation().SelectOne(ctx, pipeline(t, c, `[{"type": "DOM.queryAll", "selector": "select"}]`), root)
	require.NoError(t, err)
	assert.Equal(t, "select", el.Node.Describe())
}

func TestEvaluation_SelectSingleOptional(t *testing.T) {
	env, c := newEnv(t)
	ctx := context.Background()
	root := []domain.Element{domain.ValueElement(nil)}
	none := pipeline(t, c, `[{"type": "DOM.queryAll", "selector": "table"}]`)

	el, err := env.NewEvaluation().SelectSingle(ctx, none, root, true)
	require.NoError(t, err)
	assert.Nil(t, el)

	_, err = env.NewEvaluation().SelectSingle(ctx, none, root, false)
	assert.Equal(t, domain.CodePipelineOutputMismatch, domain.CodeOf(err))

	_, err = env.NewEvaluation().SelectSingle(ctx, pipeline(t, c, `[{"type": "DOM.queryAll", "selector": "option"}]`), root, true)
	assert.Equal(t, domain.CodePipelineOutputMismatch, domain.CodeOf(err))
}

func TestEvaluation_LocalsSharedWithinEvaluation(t *testing.T) {
	env, c := newEnv(t)
	ctx := context.Background()
	p := pipeline(t, c, `[
		{"type": "Value.getConstant", "value": "kept"},
		{"type": "Data.saveLocal", "key": "k"},
		{"type": "Value.getConstant", "value": "other"},
		{"type": "Data.restoreLocal", "key": "k"}
	]`)

	el, err := env.NewEvaluation().SelectOne(ctx, p, []domain.Element{domain.ValueElement(nil)})
	require.NoError(t, err)
	assert.Equal(t, "kept", el.Value)

	// A fresh evaluation starts without locals.
	out, err := env.NewEvaluation().SelectAll(ctx, pipeline(t, c, `[{"type": "Data.restoreLocal", "key": "k"}]`),
		[]domain.Element{domain.ValueElement(nil)})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestMap_KeepsInputOrder(t *testing.T) {
	in := make([]domain.Element, 8)
	for i := range in {
		in[i] = domain.ValueElement(i)
	}
	out, err := runtime.Map(context.Background(), 4, in, func(ctx context.Context, el domain.Element) ([]domain.Element, error) {
		// Later elements finish first.
		time.Sleep(time.Duration(8-el.Value.(int)) * time.Millisecond)
		return runtime.One(el.Clone(el.Value.(int) * 10)), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []any{0, 10, 20, 30, 40, 50, 60, 70}, domain.Values(out))
}

func TestMap_EmptyAndErrors(t *testing.T) {
	out, err := runtime.Map(context.Background(), 2, nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, out)
	assert.Empty(t, out)

	boom := errors.New("boom")
	_, err = runtime.Map(context.Background(), 2, []domain.Element{domain.ValueElement(1)},
		func(context.Context, domain.Element) ([]domain.Element, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
}
