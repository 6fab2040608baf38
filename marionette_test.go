package marionette_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/marionette"
	"github.com/aretw0/marionette/pkg/adapters/memory"
	"github.com/aretw0/marionette/pkg/adapters/static"
	"github.com/aretw0/marionette/pkg/domain"
	"github.com/aretw0/marionette/pkg/extensions"
	"github.com/aretw0/marionette/pkg/metrics"
	"github.com/aretw0/marionette/pkg/persistence/middleware"
)

const shopHTML = `<html><body><h1>Shop</h1><ul>
<li class="item">Apple</li><li class="item">Pear</li>
</ul></body></html>`

const checkoutScript = `{
  "id": "checkout",
  "contexts": [{
    "id": "main",
    "actions": [
      {"id": "go", "type": "Page.navigate", "url": "https://shop.test/"},
      {"id": "title", "type": "Data.setGlobal", "key": "title", "pipeline": [
        {"type": "DOM.queryOne", "selector": "h1"}, {"type": "DOM.getText"}
      ]},
      {"id": "save", "type": "Data.checkpoint", "label": "after-title"},
      {"id": "out", "type": "Data.sendOutput", "key": "title", "pipeline": [
        {"type": "Data.getGlobal", "key": "title"}
      ]}
    ]
  }]
}`

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func (c *clock) Sleep(ctx context.Context, d time.Duration) error {
	c.now = c.now.Add(d)
	return ctx.Err()
}

func newPage(t *testing.T) *static.Page {
	t.Helper()
	page, err := static.New("<html></html>", static.WithRoutes(map[string]string{
		"https://shop.test/": shopHTML,
	}))
	require.NoError(t, err)
	return page
}

func titles(f *memory.Flow) []any {
	var out []any
	for _, o := range f.Outputs() {
		if o.Key == "title" {
			out = append(out, o.Data)
		}
	}
	return out
}

func TestEngine_Run(t *testing.T) {
	catalog := marionette.NewCatalog()
	s, err := marionette.Decode([]byte(checkoutScript), catalog)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	collector, err := metrics.NewCollector(reg)
	require.NoError(t, err)

	flow := memory.NewFlow()
	eng, err := marionette.New(s,
		marionette.WithCatalog(catalog),
		marionette.WithPage(newPage(t)),
		marionette.WithFlow(flow),
		marionette.WithMetrics(collector),
		marionette.WithClock(&clock{now: time.Unix(0, 0)}),
	)
	require.NoError(t, err)

	status, err := eng.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, status)
	assert.Equal(t, []any{"Shop"}, titles(flow))

	assert.Equal(t, 2, eng.Lifecycle().Len(), "collector and flow take part in the session")
	n, err := testutil.GatherAndCount(reg, "marionette_sessions_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEngine_CheckpointAndResume(t *testing.T) {
	ctx := context.Background()
	catalog := marionette.NewCatalog()
	store := memory.NewStore()
	pii, err := middleware.NewPIIMiddleware([]string{"^secret"})
	require.NoError(t, err)

	s, err := marionette.Decode([]byte(checkoutScript), catalog)
	require.NoError(t, err)
	first := memory.NewFlow()
	eng, err := marionette.New(s,
		marionette.WithCatalog(catalog),
		marionette.WithPage(newPage(t)),
		marionette.WithFlow(first),
		marionette.WithCheckpointStore(store, pii),
		marionette.WithCheckpointID("job-1"),
	)
	require.NoError(t, err)

	status, err := eng.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.StatusSuccess, status)

	cp, err := store.Load(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "after-title", cp.Label)
	assert.Equal(t, "https://shop.test/", cp.URL)
	require.NotNil(t, cp.Playhead)
	assert.Equal(t, "save", cp.Playhead.ActionID)
	assert.Equal(t, map[string]any{"title": "Shop"}, cp.Globals)
	assert.Equal(t, map[string]int{"main": 1}, cp.ContextRuns)

	// A second process picks the job up on a blank page.
	s2, err := marionette.Decode([]byte(checkoutScript), catalog)
	require.NoError(t, err)
	second := memory.NewFlow()
	page := newPage(t)
	resumed, err := marionette.New(s2,
		marionette.WithCatalog(catalog),
		marionette.WithPage(page),
		marionette.WithFlow(second),
		marionette.WithCheckpointStore(store),
		marionette.WithCheckpointID("job-1"),
	)
	require.NoError(t, err)

	status, err = resumed.ResumeFrom(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, status)
	assert.Equal(t, []any{"Shop"}, titles(second))

	url, err := page.URL(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://shop.test/", url)
}

func TestEngine_CreateCheckpoint(t *testing.T) {
	ctx := context.Background()
	s, err := marionette.Decode([]byte(checkoutScript), marionette.NewCatalog())
	require.NoError(t, err)

	page := newPage(t)
	require.NoError(t, page.Navigate(ctx, "https://shop.test/"))
	require.NoError(t, page.SetCookies(ctx, []domain.Cookie{{Name: "sid", Value: "42", Domain: "shop.test"}}))

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	eng, err := marionette.New(s, marionette.WithPage(page), marionette.WithClock(&clock{now: now}))
	require.NoError(t, err)

	s.Runtime.Globals["n"] = float64(1)
	s.Runtime.Playhead = &domain.Cursor{ActionID: "title"}
	cp, err := eng.CreateCheckpoint(ctx, "manual")
	require.NoError(t, err)

	assert.NotEmpty(t, cp.ID)
	assert.Equal(t, now, cp.CreatedAt)
	assert.Equal(t, "https://shop.test/", cp.URL)
	assert.Equal(t, []domain.Cookie{{Name: "sid", Value: "42", Domain: "shop.test"}}, cp.Cookies)
	assert.Equal(t, "title", cp.Playhead.ActionID)

	// The checkpoint is a copy.
	s.Runtime.Globals["n"] = float64(2)
	assert.Equal(t, float64(1), cp.Globals["n"])

	_, err = eng.SendCheckpoint(ctx, "nowhere")
	assert.ErrorIs(t, err, marionette.ErrNoStore)
}

func TestEngine_RestoreRejectsForeignCheckpoint(t *testing.T) {
	ctx := context.Background()
	s, err := marionette.Decode([]byte(checkoutScript), marionette.NewCatalog())
	require.NoError(t, err)
	page := newPage(t)
	eng, err := marionette.New(s, marionette.WithPage(page))
	require.NoError(t, err)

	err = eng.Restore(ctx, &domain.Checkpoint{
		ID:       "x",
		URL:      "https://shop.test/",
		Cookies:  []domain.Cookie{{Name: "sid", Value: "42", Domain: "shop.test"}},
		Playhead: &domain.Cursor{ActionID: "ghost"},
	})
	require.Error(t, err)
	assert.Equal(t, domain.CodeInvalidScript, domain.CodeOf(err))

	// The page is left as it was.
	url, err := page.URL(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, "https://shop.test/", url)
	cookies, err := page.Cookies(ctx)
	require.NoError(t, err)
	assert.Empty(t, cookies)
}

const anonymousScript = `{
  "id": "anonymous",
  "contexts": [{
    "actions": [
      {"type": "Page.navigate", "url": "https://shop.test/"},
      {"type": "Data.setGlobal", "key": "title", "pipeline": [
        {"type": "DOM.queryOne", "selector": "h1"}, {"type": "DOM.getText"}
      ]},
      {"type": "Data.checkpoint"},
      {"type": "Data.sendOutput", "key": "title", "pipeline": [
        {"type": "Data.getGlobal", "key": "title"}
      ]}
    ]
  }]
}`

func TestEngine_ResumeScriptWithoutIDs(t *testing.T) {
	ctx := context.Background()
	catalog := marionette.NewCatalog()
	store := memory.NewStore()

	s, err := marionette.Decode([]byte(anonymousScript), catalog)
	require.NoError(t, err)
	eng, err := marionette.New(s,
		marionette.WithCatalog(catalog),
		marionette.WithPage(newPage(t)),
		marionette.WithFlow(memory.NewFlow()),
		marionette.WithCheckpointStore(store),
		marionette.WithCheckpointID("job-anon"),
	)
	require.NoError(t, err)
	status, err := eng.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.StatusSuccess, status)

	cp, err := store.Load(ctx, "job-anon")
	require.NoError(t, err)
	require.NotNil(t, cp.Playhead)
	assert.Equal(t, cp.Playhead.ActionID, cp.Label, "unlabelled checkpoints take the action id")

	// A fresh decode of the same document yields the same ids.
	s2, err := marionette.Decode([]byte(anonymousScript), catalog)
	require.NoError(t, err)
	flow := memory.NewFlow()
	resumed, err := marionette.New(s2,
		marionette.WithCatalog(catalog),
		marionette.WithPage(newPage(t)),
		marionette.WithFlow(flow),
		marionette.WithCheckpointStore(store),
		marionette.WithCheckpointID("job-anon"),
	)
	require.NoError(t, err)
	require.NoError(t, resumed.Restore(ctx, cp))

	status, err = resumed.Continue(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, status)
	assert.Equal(t, []any{"Shop"}, titles(flow))
}

func TestEngine_UnmetDependencies(t *testing.T) {
	src := `{"dependencies": [{"name": "ocr", "version": "^2"}], "contexts": []}`
	s, err := marionette.Decode([]byte(src), marionette.NewCatalog())
	require.NoError(t, err)

	resolver, err := extensions.NewResolver(extensions.Extension{Name: "ocr", Version: "1.4.0"})
	require.NoError(t, err)
	eng, err := marionette.New(s, marionette.WithResolver(resolver))
	require.NoError(t, err)

	status, err := eng.Run(context.Background())
	assert.Equal(t, domain.StatusFailed, status)
	require.Error(t, err)
	assert.Equal(t, domain.CodeInvalidScript, domain.CodeOf(err))

	report, err := eng.Inspect(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Unmet, 1)
	assert.False(t, report.Valid())

	require.NoError(t, resolver.Install("ocr", "2.1.0"))
	status, err = eng.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, status)
}

func TestEngine_Evaluate(t *testing.T) {
	ctx := context.Background()
	catalog := marionette.NewCatalog()
	s, err := marionette.Decode([]byte(checkoutScript), catalog)
	require.NoError(t, err)
	page := newPage(t)
	require.NoError(t, page.Navigate(ctx, "https://shop.test/"))

	eng, err := marionette.New(s, marionette.WithCatalog(catalog), marionette.WithPage(page))
	require.NoError(t, err)

	action, ok := s.Action("title")
	require.True(t, ok)
	got, err := eng.Evaluate(ctx, action.Pipeline("pipeline"))
	require.NoError(t, err)
	assert.Equal(t, []any{"Shop"}, domain.Values(got))
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "greet.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(strings.TrimSpace(`
contexts:
  - id: main
    actions:
      - id: hello
        type: Data.sendOutput
        key: greeting
        pipeline:
          - type: Value.getConstant
            value: hi
`)), 0o644))

	s, err := marionette.LoadFile(yamlPath, marionette.NewCatalog())
	require.NoError(t, err)
	assert.Equal(t, "greet", s.ID)
	_, ok := s.Action("hello")
	assert.True(t, ok)

	_, err = marionette.LoadFile(filepath.Join(dir, "missing.json"), marionette.NewCatalog())
	assert.Error(t, err)
}

func TestCatalog_Describe(t *testing.T) {
	infos := marionette.NewCatalog().Describe()
	require.NotEmpty(t, infos)

	byType := map[string]marionette.TypeInfo{}
	for _, info := range infos {
		byType[info.Type] = info
	}
	each, ok := byType["Flow.each"]
	require.True(t, ok)
	assert.Equal(t, "action", each.Kind)
	assert.True(t, each.Container)

	query, ok := byType["DOM.queryAll"]
	require.True(t, ok)
	assert.Equal(t, "pipe", query.Kind)
	assert.Equal(t, "object", query.Params["type"])
	assert.Equal(t, "action", infos[0].Kind, "actions are listed first")
}
