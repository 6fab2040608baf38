package actions_test

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/marionette/internal/builtin/actions"
	"github.com/aretw0/marionette/internal/builtin/pipes"
	"github.com/aretw0/marionette/internal/runtime"
	"github.com/aretw0/marionette/pkg/adapters/memory"
	"github.com/aretw0/marionette/pkg/adapters/static"
	"github.com/aretw0/marionette/pkg/domain"
	"github.com/aretw0/marionette/pkg/lifecycle"
	"github.com/aretw0/marionette/pkg/script"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const home = `<html><body>
<a id="next" href="/form"><span>Continue</span></a>
</body></html>`

const form = `<html><body>
<form><input name="email"><input name="name" value="old"></form>
</body></html>`

type stepClock struct{ now time.Time }

func (c *stepClock) Now() time.Time { return c.now }

func (c *stepClock) Sleep(ctx context.Context, d time.Duration) error {
	c.now = c.now.Add(d)
	return ctx.Err()
}

func run(t *testing.T, src string, page *static.Page, flow *memory.Flow) (*stepClock, error) {
	t.Helper()
	c := runtime.NewCatalog()
	pipes.Register(c)
	actions.Register(c)

	s, err := script.Decode([]byte(src), c)
	require.NoError(t, err)

	clock := &stepClock{now: time.Unix(0, 0)}
	p := runtime.NewPlayer(s, c, page, flow,
		runtime.WithClock(clock),
		runtime.WithLifecycle(lifecycle.NewRegistry()),
	)
	_, err = p.Run(context.Background())
	return clock, err
}

func newPage(t *testing.T) *static.Page {
	t.Helper()
	p, err := static.New(home, static.WithRoutes(map[string]string{
		"https://shop.test/":     home,
		"https://shop.test/form": form,
	}))
	require.NoError(t, err)
	return p
}

func TestPage_NavigateClickType(t *testing.T) {
	page := newPage(t)
	flow := memory.NewFlow(memory.WithInputs(map[string]any{"email": "ada@example.com"}))

	_, err := run(t, `{"contexts": [{"id": "c", "actions": [
		{"id": "go", "type": "Page.navigate", "url": "https://shop.test/"},
		{"id": "click", "type": "Page.click", "pipeline": [{"type": "DOM.queryOne", "selector": "#next span"}]},
		{"id": "email", "type": "Page.type",
			"pipeline": [{"type": "DOM.queryOne", "selector": "input[name=email]"}],
			"valuePipeline": [{"type": "Data.getInput", "key": "email"}]},
		{"id": "name", "type": "Page.type", "text": "Ada",
			"pipeline": [{"type": "DOM.queryOne", "selector": "input[name=name]"}]},
		{"id": "url", "type": "Data.sendOutput", "key": "url", "pipeline": [{"type": "Page.getUrl"}]}
	]}]}`, page, flow)
	require.NoError(t, err)

	url, _ := flow.Output("url")
	assert.Equal(t, "https://shop.test/form", url)

	ctx := context.Background()
	for name, want := range map[string]string{"email": "ada@example.com", "name": "Ada"} {
		nodes, err := page.QueryAll(ctx, domain.Document, "input[name="+name+"]")
		require.NoError(t, err)
		require.Len(t, nodes, 1)
		got, ok, err := page.Attribute(ctx, nodes[0], "value")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, want, got)
	}
}

func TestPage_NavigateFromPipeline(t *testing.T) {
	page := newPage(t)
	flow := memory.NewFlow()

	_, err := run(t, `{"contexts": [{"id": "c", "actions": [
		{"id": "go", "type": "Page.navigate", "pipeline": [{"type": "Value.getConstant", "value": "https://shop.test/form"}]}
	]}]}`, page, flow)
	require.NoError(t, err)
	u, err := page.URL(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://shop.test/form", u)
}

func TestPage_NavigateFailure(t *testing.T) {
	page := newPage(t)
	_, err := run(t, `{"contexts": [{"id": "c", "actions": [
		{"id": "go", "type": "Page.navigate", "url": "http://127.0.0.1:1/unreachable"}
	]}]}`, page, memory.NewFlow())
	require.Error(t, err)
	assert.Equal(t, domain.CodeNavigationFailed, domain.CodeOf(err))
}

func TestPage_ClickDocumentIsInvalid(t *testing.T) {
	_, err := run(t, `{"contexts": [{"id": "c", "actions": [
		{"id": "click", "type": "Page.click", "pipeline": [{"type": "Value.getConstant", "value": 1}]}
	]}]}`, newPage(t), memory.NewFlow())
	require.Error(t, err)
	assert.Equal(t, domain.CodeInvalidParameter, domain.CodeOf(err))
}

func TestData_ResetInputRequestsAgain(t *testing.T) {
	calls := 0
	flow := memory.NewFlow(memory.WithInputProvider(func(ctx context.Context, key string) (any, error) {
		calls++
		return calls, nil
	}))

	_, err := run(t, `{"contexts": [{"id": "c", "actions": [
		{"id": "a", "type": "Data.sendOutput", "key": "code", "pipeline": [{"type": "Data.getInput", "key": "otp"}]},
		{"id": "b", "type": "Data.sendOutput", "key": "code", "pipeline": [{"type": "Data.getInput", "key": "otp"}]},
		{"id": "reset", "type": "Data.resetInput", "key": "otp"},
		{"id": "c", "type": "Data.sendOutput", "key": "code", "pipeline": [{"type": "Data.getInput", "key": "otp"}]}
	]}]}`, newPage(t), flow)
	require.NoError(t, err)

	var got []any
	for _, o := range flow.Outputs() {
		got = append(got, o.Data)
	}
	assert.Equal(t, []any{1, 1, 2}, got)
}

func TestFlow_WaitAdvancesClock(t *testing.T) {
	clock, err := run(t, `{"contexts": [{"id": "c", "actions": [
		{"id": "w", "type": "Flow.wait", "duration": "2s"}
	]}]}`, newPage(t), memory.NewFlow())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, clock.now.Sub(time.Unix(0, 0)), 2*time.Second)
}

func TestFlow_WaitAcceptsMilliseconds(t *testing.T) {
	clock, err := run(t, `{"contexts": [{"id": "c", "actions": [
		{"id": "w", "type": "Flow.wait", "duration": 250}
	]}]}`, newPage(t), memory.NewFlow())
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, clock.now.Sub(time.Unix(0, 0)))
}

func TestFlow_GroupAlwaysEnters(t *testing.T) {
	flow := memory.NewFlow()
	_, err := run(t, `{"contexts": [{"id": "c", "actions": [
		{"id": "g", "type": "Flow.group", "children": [
			{"id": "inner", "type": "Data.sendOutput", "key": "inner", "pipeline": [{"type": "Value.getConstant", "value": "yes"}]}
		]}
	]}]}`, newPage(t), flow)
	require.NoError(t, err)
	v, ok := flow.Output("inner")
	assert.True(t, ok)
	assert.Equal(t, "yes", v)
}

func TestFlow_EachScopesChildren(t *testing.T) {
	page, err := static.New(`<ul><li><b>1</b></li><li><b>2</b></li></ul>`)
	require.NoError(t, err)
	flow := memory.NewFlow()

	_, err = run(t, `{"contexts": [{"id": "c", "actions": [
		{"id": "rows", "type": "Flow.each", "pipeline": [{"type": "DOM.queryAll", "selector": "li"}], "children": [
			{"id": "cell", "type": "Data.sendOutput", "key": "cell", "pipeline": [{"type": "DOM.queryOne", "selector": "b"}, {"type": "DOM.getText"}]}
		]}
	]}]}`, page, flow)
	require.NoError(t, err)

	var got []any
	for _, o := range flow.Outputs() {
		got = append(got, o.Data)
	}
	assert.Equal(t, []any{"1", "2"}, got)
}

func TestData_CheckpointLabel(t *testing.T) {
	c := runtime.NewCatalog()
	pipes.Register(c)
	actions.Register(c)
	s, err := script.Decode([]byte(`{"contexts": [{"id": "c", "actions": [
		{"id": "named", "type": "Data.checkpoint", "label": "after login"},
		{"id": "bare", "type": "Data.checkpoint"}
	]}]}`), c)
	require.NoError(t, err)

	var labels []string
	sink := func(_ context.Context, label string) (*domain.Checkpoint, error) {
		labels = append(labels, label)
		return &domain.Checkpoint{ID: "cp", Label: label}, nil
	}
	p := runtime.NewPlayer(s, c, newPage(t), memory.NewFlow(),
		runtime.WithClock(&stepClock{now: time.Unix(0, 0)}),
		runtime.WithLifecycle(lifecycle.NewRegistry()),
		runtime.WithCheckpointSink(sink),
	)
	_, err = p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"after login", "bare"}, labels)
}

func TestRegister_Catalogue(t *testing.T) {
	c := runtime.NewCatalog()
	actions.Register(c)
	for _, typ := range []string{
		"Flow.group", "Flow.if", "Flow.while", "Flow.each", "Flow.find", "Flow.leaveContext",
		"Flow.success", "Flow.fail", "Flow.expect", "Flow.wait",
		"Page.navigate", "Page.click", "Page.type",
		"Data.sendOutput", "Data.setGlobal", "Data.resetInput", "Data.checkpoint",
	} {
		_, ok := c.Action(typ)
		assert.True(t, ok, typ)
	}
	assert.True(t, c.IsContainer("Flow.each"))
	assert.False(t, c.IsContainer("Page.click"))
}
