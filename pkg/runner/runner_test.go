package runner_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/marionette"
	"github.com/aretw0/marionette/pkg/adapters/memory"
	"github.com/aretw0/marionette/pkg/adapters/static"
	"github.com/aretw0/marionette/pkg/domain"
	"github.com/aretw0/marionette/pkg/runner"
)

const otpScript = `{
  "id": "otp",
  "contexts": [{
    "id": "main",
    "actions": [
      {"id": "go", "type": "Page.navigate", "url": "https://bank.test/"},
      {"id": "ask", "type": "Data.setGlobal", "key": "otp", "pipeline": [
        {"type": "Data.getInput", "key": "otp"}
      ]},
      {"id": "out", "type": "Data.sendOutput", "key": "otp", "pipeline": [
        {"type": "Data.getGlobal", "key": "otp"}
      ]}
    ]
  }]
}`

// recordingStore remembers the label of every saved checkpoint.
type recordingStore struct {
	*memory.Store
	mu     sync.Mutex
	labels []string
}

func (s *recordingStore) Save(ctx context.Context, cp *domain.Checkpoint) error {
	s.mu.Lock()
	s.labels = append(s.labels, cp.Label)
	s.mu.Unlock()
	return s.Store.Save(ctx, cp)
}

func (s *recordingStore) saved() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.labels...)
}

func newEngine(t *testing.T, store *recordingStore, flow *memory.Flow) *marionette.Engine {
	t.Helper()
	catalog := marionette.NewCatalog()
	s, err := marionette.Decode([]byte(otpScript), catalog)
	require.NoError(t, err)
	page, err := static.New("<html></html>", static.WithRoutes(map[string]string{
		"https://bank.test/": "<h1>Bank</h1>",
	}))
	require.NoError(t, err)
	eng, err := marionette.New(s,
		marionette.WithCatalog(catalog),
		marionette.WithPage(page),
		marionette.WithFlow(flow),
		marionette.WithCheckpointStore(store),
		marionette.WithCheckpointID("job-1"),
	)
	require.NoError(t, err)
	return eng
}

func TestRunner_Success(t *testing.T) {
	store := &recordingStore{Store: memory.NewStore()}
	flow := memory.NewFlow(memory.WithInputs(map[string]any{"otp": "123"}))
	eng := newEngine(t, store, flow)

	res, err := runner.New(eng, runner.WithCheckpointInterval(0)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, res.Status)
	assert.False(t, res.Resumed)
	assert.Empty(t, res.Checkpoint)

	v, ok := flow.Output("otp")
	require.True(t, ok)
	assert.Equal(t, "123", v)

	assert.Contains(t, store.saved(), runner.LabelAuto)
	ids, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids, "checkpoints are deleted after success")
}

func TestRunner_KeepOnSuccess(t *testing.T) {
	store := &recordingStore{Store: memory.NewStore()}
	flow := memory.NewFlow(memory.WithInputs(map[string]any{"otp": "123"}))
	eng := newEngine(t, store, flow)

	_, err := runner.New(eng, runner.WithCheckpointInterval(0), runner.WithKeepOnSuccess(true)).Run(context.Background())
	require.NoError(t, err)

	ids, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"job-1"}, ids)
}

func TestRunner_InterruptAndResume(t *testing.T) {
	ctx := context.Background()
	store := &recordingStore{Store: memory.NewStore()}

	interrupt := make(chan struct{})
	waiting := memory.NewFlow(memory.WithInputProvider(func(ctx context.Context, key string) (any, error) {
		close(interrupt)
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	res, err := runner.New(newEngine(t, store, waiting),
		runner.WithAutoCheckpoint(false),
		runner.WithInterruptSource(interrupt),
	).Run(ctx)
	require.Error(t, err)
	assert.Equal(t, domain.StatusFailed, res.Status)
	assert.Equal(t, "job-1", res.Checkpoint)
	assert.Equal(t, []string{runner.LabelInterrupted}, store.saved())

	cp, err := store.Load(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, cp.Playhead)
	assert.Equal(t, "ask", cp.Playhead.ActionID)
	assert.Equal(t, "https://bank.test/", cp.URL)

	// Another process supplies the input and finishes the job.
	answered := memory.NewFlow(memory.WithInputs(map[string]any{"otp": "987"}))
	res, err = runner.New(newEngine(t, store, answered), runner.WithResume("job-1")).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, res.Status)
	assert.True(t, res.Resumed)

	v, ok := answered.Output("otp")
	require.True(t, ok)
	assert.Equal(t, "987", v)

	_, err = store.Load(ctx, "job-1")
	assert.ErrorIs(t, err, domain.ErrCheckpointNotFound)
}

func TestRunner_ResumeWithoutCheckpointStarts(t *testing.T) {
	store := &recordingStore{Store: memory.NewStore()}
	flow := memory.NewFlow(memory.WithInputs(map[string]any{"otp": "1"}))

	res, err := runner.New(newEngine(t, store, flow), runner.WithResume("job-1")).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, res.Status)
	assert.False(t, res.Resumed)
}

func TestRunner_ParentCancelSavesNothing(t *testing.T) {
	store := &recordingStore{Store: memory.NewStore()}
	ctx, cancel := context.WithCancel(context.Background())
	flow := memory.NewFlow(memory.WithInputProvider(func(c context.Context, key string) (any, error) {
		cancel()
		<-c.Done()
		return nil, c.Err()
	}))

	res, err := runner.New(newEngine(t, store, flow), runner.WithAutoCheckpoint(false)).Run(ctx)
	require.Error(t, err)
	assert.Equal(t, domain.StatusFailed, res.Status)
	assert.Empty(t, store.saved())
	assert.Empty(t, res.Checkpoint)
}

func TestRunner_WithoutStore(t *testing.T) {
	s, err := marionette.Decode([]byte(otpScript), marionette.NewCatalog())
	require.NoError(t, err)
	eng, err := marionette.New(s)
	require.NoError(t, err)

	res, err := runner.New(eng, runner.WithResume("job-1")).Run(context.Background())
	assert.ErrorIs(t, err, marionette.ErrNoStore)
	assert.Equal(t, domain.StatusFailed, res.Status)
}
