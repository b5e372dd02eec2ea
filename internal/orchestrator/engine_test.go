package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/providers/image"
	"server/internal/providers/script"
	"server/internal/providers/video"
)

const testScript = `{
  "title": "Fox and Owl",
  "characters": [
    {"name": "Fox", "prompt": "a red fox, reference sheet"},
    {"name": "Owl", "prompt": "a grey owl, reference sheet"}
  ],
  "scenes": [
    {"imagePrompt": "fox in a forest", "videoPrompt": "fox walks forward", "durationSecs": 5},
    {"imagePrompt": "owl on a branch", "videoPrompt": "owl turns its head", "durationSecs": 5},
    {"imagePrompt": "fox and owl together", "videoPrompt": "they look at each other", "durationSecs": 5}
  ]
}`

type memRepo struct {
	mu    sync.Mutex
	rows  map[string][]byte
	saves int
}

func newMemRepo() *memRepo { return &memRepo{rows: make(map[string][]byte)} }

func (r *memRepo) Save(_ context.Context, w *domain.Workflow) error {
	raw, err := json.Marshal(w)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[w.ID] = raw
	r.saves++
	return nil
}

func (r *memRepo) Load(_ context.Context, id string) (*domain.Workflow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	raw, ok := r.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	var w domain.Workflow
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *memRepo) ListActive(ctx context.Context) ([]*domain.Workflow, error) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.rows))
	for id := range r.rows {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	var out []*domain.Workflow
	for _, id := range ids {
		w, err := r.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		if w.Status.Active() {
			out = append(out, w)
		}
	}
	return out, nil
}

func (r *memRepo) ListActiveForOwner(ctx context.Context, ownerKey string) ([]*domain.Workflow, error) {
	ws, err := r.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	var out []*domain.Workflow
	for _, w := range ws {
		if w.OwnerKey == ownerKey {
			out = append(out, w)
		}
	}
	return out, nil
}

func (r *memRepo) ListForOwner(ctx context.Context, ownerKey string) ([]*domain.Workflow, error) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.rows))
	for id := range r.rows {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	var out []*domain.Workflow
	for _, id := range ids {
		w, err := r.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		if w.OwnerKey == ownerKey {
			out = append(out, w)
		}
	}
	return out, nil
}

func (r *memRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, id)
	return nil
}

type fakeStore struct {
	mu   sync.Mutex
	puts []string
}

func (s *fakeStore) PutBytes(_ context.Context, key string, _ []byte, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts = append(s.puts, key)
	return "mem://" + key, nil
}

func (s *fakeStore) PutURL(_ context.Context, key string, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts = append(s.puts, key)
	return "mem://" + key, nil
}

func (s *fakeStore) Fetch(_ context.Context, url string) ([]byte, error) {
	return []byte(url), nil
}

type fakeScriptGen struct {
	calls int32
	err   error
}

func (g *fakeScriptGen) GenerateScript(context.Context, script.Request) (string, error) {
	atomic.AddInt32(&g.calls, 1)
	if g.err != nil {
		return "", g.err
	}
	return testScript, nil
}

type fakeImageGen struct {
	mu       sync.Mutex
	calls    int32
	failFor  map[string]error
	emptyFor map[string]bool
	block    chan struct{}
}

func (g *fakeImageGen) Generate(ctx context.Context, req image.Request) (*image.Result, error) {
	atomic.AddInt32(&g.calls, 1)
	if g.block != nil {
		select {
		case <-g.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	g.mu.Lock()
	err := g.failFor[req.RequestID]
	empty := g.emptyFor[req.RequestID]
	g.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if empty {
		return &image.Result{}, nil
	}
	return &image.Result{Data: []byte("img-" + req.RequestID), Format: "image/png"}, nil
}

func (g *fakeImageGen) clearFailures() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failFor = nil
}

type fakeVideoGen struct {
	submits int32
}

func (g *fakeVideoGen) Submit(_ context.Context, req video.SubmitRequest) (string, error) {
	atomic.AddInt32(&g.submits, 1)
	if req.FirstFrameURL == "" {
		return "", domain.ErrMissingPrompt
	}
	return "op-" + req.RequestID, nil
}

type fakeStatusEndpoint struct {
	mu    sync.Mutex
	calls int32
}

func (s *fakeStatusEndpoint) Status(_ context.Context, handle string) (*video.StatusResult, error) {
	atomic.AddInt32(&s.calls, 1)
	return &video.StatusResult{
		State:       video.TaskSucceeded,
		ArtifactURL: "https://provider/" + handle + ".mp4",
	}, nil
}

type fakeMerger struct {
	calls int32
}

func (m *fakeMerger) Merge(_ context.Context, workflowID string, clips []string) (string, error) {
	atomic.AddInt32(&m.calls, 1)
	if len(clips) == 0 {
		return "", fmt.Errorf("no clips")
	}
	return "mem://workflows/" + workflowID + "/final.mp4", nil
}

type testEnv struct {
	repo    *memRepo
	store   *fakeStore
	scripts *fakeScriptGen
	images  *fakeImageGen
	videos  *fakeVideoGen
	status  *fakeStatusEndpoint
	merger  *fakeMerger
	manager *Manager
}

func newTestEnv() *testEnv {
	env := &testEnv{
		repo:    newMemRepo(),
		store:   &fakeStore{},
		scripts: &fakeScriptGen{},
		images:  &fakeImageGen{},
		videos:  &fakeVideoGen{},
		status:  &fakeStatusEndpoint{},
		merger:  &fakeMerger{},
	}
	env.manager = NewManager(Deps{
		Repo:       env.repo,
		Store:      env.store,
		Script:     env.scripts,
		Images:     env.images,
		Videos:     env.videos,
		Status:     env.status,
		Merger:     env.merger,
		Dispatcher: NewDispatcher(3, 2),
		Tunables: Tunables{
			PollInterval:   2 * time.Millisecond,
			PollBudget:     50,
			RetryMax:       1,
			RetryBaseDelay: time.Millisecond,
		},
		Logger: zerolog.Nop(),
	})
	return env
}

func waitIdle(t *testing.T, e *Engine) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if !e.Running() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("run did not finish in time")
}

func TestRunEndToEnd(t *testing.T) {
	env := newTestEnv()
	e, err := env.manager.Create(context.Background(), CreateParams{
		OwnerKey: "owner-1",
		Idea:     "a fox and an owl become friends",
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	waitIdle(t, e)

	w := e.Snapshot()
	if w.Status != domain.WorkflowCompleted {
		t.Fatalf("status = %q, want completed", w.Status)
	}
	if w.Stage != domain.StageCompleted {
		t.Fatalf("stage = %q, want completed", w.Stage)
	}
	if len(w.Characters) != 2 || len(w.Scenes) != 3 || len(w.Videos) != 3 {
		t.Fatalf("parsed %d characters, %d scenes, %d videos", len(w.Characters), len(w.Scenes), len(w.Videos))
	}
	for _, c := range w.Characters {
		if c.Status != domain.ItemDone || c.StorageURL == "" {
			t.Fatalf("character %s not done: %+v", c.ID, c.Lifecycle)
		}
	}
	for _, s := range w.Scenes {
		if s.Image.Status != domain.ItemDone || s.Image.StorageURL == "" {
			t.Fatalf("scene %s image not done", s.ID)
		}
	}
	for _, v := range w.Videos {
		if v.Status != domain.ItemDone || v.StorageURL == "" {
			t.Fatalf("video %s not done", v.ID)
		}
		if v.FirstFrameURL == "" {
			t.Fatalf("video %s submitted without first frame", v.ID)
		}
	}
	if w.MergedURL == "" || w.CoverURL == "" {
		t.Fatalf("merge incomplete: merged=%q cover=%q", w.MergedURL, w.CoverURL)
	}
	if got := atomic.LoadInt32(&env.videos.submits); got != 3 {
		t.Fatalf("video submits = %d, want 3", got)
	}
	if env.repo.saves == 0 {
		t.Fatal("no checkpoints recorded")
	}
}

func TestRunHaltsOnItemErrorThenRetryCompletes(t *testing.T) {
	env := newTestEnv()
	e, err := env.manager.Create(context.Background(), CreateParams{OwnerKey: "o", Idea: "idea"})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	// Fail every scene image on the first pass; scene ids are assigned after
	// the two characters.
	failed := fmt.Errorf("%w: prompt rejected", domain.ErrProviderFailure)
	env.images.failFor = map[string]error{"scn-3": failed, "scn-4": failed, "scn-5": failed}

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	waitIdle(t, e)

	w := e.Snapshot()
	if w.Status != domain.WorkflowPartial {
		t.Fatalf("status = %q, want partial", w.Status)
	}
	if len(w.Videos) != 0 {
		t.Fatal("videos derived despite halted scene stage")
	}
	var errored int
	for _, s := range w.Scenes {
		if s.Image.Status == domain.ItemError {
			errored++
			if s.Image.Error == "" {
				t.Fatal("errored item has no message")
			}
		}
	}
	if errored != 3 {
		t.Fatalf("errored scenes = %d, want 3", errored)
	}

	env.images.clearFailures()
	for _, s := range w.Scenes {
		if err := e.RetryItem(context.Background(), domain.KindScene, s.ID, domain.ItemOverrides{}); err != nil {
			t.Fatalf("RetryItem(%s) error: %v", s.ID, err)
		}
		waitIdle(t, e)
	}

	w = e.Snapshot()
	if w.Status != domain.WorkflowCompleted {
		t.Fatalf("status after retries = %q, want completed", w.Status)
	}
	if w.MergedURL == "" {
		t.Fatal("merge did not run after retries")
	}
}

func TestRetryItemAppliesOverrides(t *testing.T) {
	env := newTestEnv()
	e, err := env.manager.Create(context.Background(), CreateParams{OwnerKey: "o", Idea: "idea"})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	waitIdle(t, e)

	w := e.Snapshot()
	sceneID := w.Scenes[0].ID
	if err := e.RetryItem(context.Background(), domain.KindScene, sceneID, domain.ItemOverrides{Prompt: "fox in snow"}); err != nil {
		t.Fatalf("RetryItem error: %v", err)
	}
	waitIdle(t, e)

	w = e.Snapshot()
	if got := w.SceneByID(sceneID).ImagePrompt; got != "fox in snow" {
		t.Fatalf("prompt = %q, want override applied", got)
	}
	if w.SceneByID(sceneID).Image.Status != domain.ItemDone {
		t.Fatal("retried scene not done")
	}
}

func TestStopInterruptsRun(t *testing.T) {
	env := newTestEnv()
	env.images.block = make(chan struct{})
	e, err := env.manager.Create(context.Background(), CreateParams{OwnerKey: "o", Idea: "idea"})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	// Let the run reach the blocked character batch.
	deadline := time.Now().Add(5 * time.Second)
	for atomic.LoadInt32(&env.images.calls) == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if err := e.Stop(); err != nil {
		t.Fatalf("Stop error: %v", err)
	}
	waitIdle(t, e)

	w := e.Snapshot()
	if w.Status != domain.WorkflowStopped {
		t.Fatalf("status = %q, want stopped", w.Status)
	}
	var interrupted int
	for _, c := range w.Characters {
		if c.Status == domain.ItemInterrupted {
			interrupted++
		}
	}
	if interrupted == 0 {
		t.Fatal("no characters interrupted by stop")
	}
}

func TestStaleEpochResultDiscarded(t *testing.T) {
	env := newTestEnv()
	e, err := env.manager.Create(context.Background(), CreateParams{OwnerKey: "o", Idea: "idea"})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	_ = e.mutate(func(w *domain.Workflow) error {
		w.Characters = append(w.Characters, &domain.Character{ID: "chr-1", Prompt: "a fox"})
		w.Epochs = map[domain.ItemKind]uint64{domain.KindCharacter: 5}
		return nil
	})

	if err := e.imageJob(context.Background(), domain.KindCharacter, "chr-1", 4); err != nil {
		t.Fatalf("stale job error: %v", err)
	}
	if got := atomic.LoadInt32(&env.images.calls); got != 0 {
		t.Fatalf("provider called %d times for stale job", got)
	}
	w := e.Snapshot()
	if w.Characters[0].Status != domain.ItemPending && w.Characters[0].Status != "" {
		t.Fatalf("stale job wrote status %q", w.Characters[0].Status)
	}
}

func TestDeleteDuringRunDiscardsInFlightResult(t *testing.T) {
	env := newTestEnv()
	env.images.block = make(chan struct{})
	e, err := env.manager.Create(context.Background(), CreateParams{OwnerKey: "o", Idea: "idea"})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	// Both character jobs must be in flight before the delete lands.
	deadline := time.Now().Add(5 * time.Second)
	for atomic.LoadInt32(&env.images.calls) < 2 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if err := e.DeleteItem(domain.KindCharacter, "chr-1"); err != nil {
		t.Fatalf("DeleteItem error: %v", err)
	}
	close(env.images.block)
	waitIdle(t, e)

	w := e.Snapshot()
	if w.CharacterByID("chr-1") != nil {
		t.Fatal("deleted character reappeared")
	}
	if len(w.Characters) != 1 {
		t.Fatalf("characters = %d, want 1", len(w.Characters))
	}
	if w.Characters[0].Status != domain.ItemDone {
		t.Fatalf("surviving character status = %q, want done", w.Characters[0].Status)
	}
	if w.Status != domain.WorkflowCompleted {
		t.Fatalf("status = %q, want completed", w.Status)
	}
}

func TestBatchRegenerateDuringRunSupersedesInFlightWork(t *testing.T) {
	env := newTestEnv()
	env.images.block = make(chan struct{})
	e, err := env.manager.Create(context.Background(), CreateParams{OwnerKey: "o", Idea: "idea"})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for atomic.LoadInt32(&env.images.calls) < 2 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	epochBefore := e.Snapshot().Epoch(domain.KindCharacter)
	if err := e.BatchRegenerate(context.Background(), domain.KindCharacter); err != nil {
		t.Fatalf("BatchRegenerate error: %v", err)
	}
	close(env.images.block)
	waitIdle(t, e)

	w := e.Snapshot()
	if w.Epoch(domain.KindCharacter) != epochBefore+1 {
		t.Fatalf("epoch = %d, want %d", w.Epoch(domain.KindCharacter), epochBefore+1)
	}
	for _, c := range w.Characters {
		if c.Status != domain.ItemDone || c.StorageURL == "" {
			t.Fatalf("character %s not finished under the new epoch: %+v", c.ID, c.Lifecycle)
		}
	}
	if w.Status != domain.WorkflowCompleted {
		t.Fatalf("status = %q, want completed", w.Status)
	}
	// Two character calls under each epoch plus three scene images.
	if got := atomic.LoadInt32(&env.images.calls); got != 7 {
		t.Fatalf("image calls = %d, want 7", got)
	}
}

func TestImageResultWithoutArtifactFailsItem(t *testing.T) {
	env := newTestEnv()
	env.images.emptyFor = map[string]bool{"chr-1": true}
	e, err := env.manager.Create(context.Background(), CreateParams{OwnerKey: "o", Idea: "idea"})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	waitIdle(t, e)

	w := e.Snapshot()
	c := w.CharacterByID("chr-1")
	if c == nil || c.Status != domain.ItemError {
		t.Fatalf("character without artifact not errored: %+v", c)
	}
	if c.Error == "" {
		t.Fatal("errored item has no message")
	}
	if w.Status != domain.WorkflowPartial {
		t.Fatalf("status = %q, want partial", w.Status)
	}
}

func TestBatchRegenerateBumpsEpochAndReruns(t *testing.T) {
	env := newTestEnv()
	e, err := env.manager.Create(context.Background(), CreateParams{OwnerKey: "o", Idea: "idea"})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	waitIdle(t, e)
	before := atomic.LoadInt32(&env.images.calls)
	epochBefore := e.Snapshot().Epoch(domain.KindScene)

	if err := e.BatchRegenerate(context.Background(), domain.KindScene); err != nil {
		t.Fatalf("BatchRegenerate error: %v", err)
	}
	waitIdle(t, e)

	w := e.Snapshot()
	if w.Epoch(domain.KindScene) != epochBefore+1 {
		t.Fatalf("epoch = %d, want %d", w.Epoch(domain.KindScene), epochBefore+1)
	}
	if got := atomic.LoadInt32(&env.images.calls); got != before+3 {
		t.Fatalf("image calls after regenerate = %d, want %d", got, before+3)
	}
	if w.Status != domain.WorkflowCompleted || w.MergedURL == "" {
		t.Fatalf("regenerated run not completed: status=%q merged=%q", w.Status, w.MergedURL)
	}
}

func TestResumeReattachesWithoutResubmitting(t *testing.T) {
	env := newTestEnv()

	// A workflow persisted by a process that died while polling one video.
	w := &domain.Workflow{
		ID:       "wf-resume",
		OwnerKey: "o",
		Idea:     "idea",
		Script:   testScript,
		Parsed:   true,
		Status:   domain.WorkflowRunning,
		Characters: []*domain.Character{
			{ID: "chr-1", Prompt: "fox", Lifecycle: domain.Lifecycle{Status: domain.ItemDone, StorageURL: "mem://chr-1.png"}},
		},
		Scenes: []*domain.Scene{
			{ID: "scn-1", ImagePrompt: "fox", VideoPrompt: "fox walks",
				Image: domain.Lifecycle{Status: domain.ItemDone, StorageURL: "mem://scn-1.png"}},
		},
		Videos: []*domain.Video{
			{ID: "vid-1", SceneID: "scn-1", Prompt: "fox walks", FirstFrameURL: "mem://scn-1.png",
				Lifecycle: domain.Lifecycle{Status: domain.ItemPolling, TaskHandle: "op-vid-1"}},
		},
		NextSeq: 3,
	}
	if err := env.repo.Save(context.Background(), w); err != nil {
		t.Fatalf("seed save: %v", err)
	}

	if err := env.manager.Resume(context.Background()); err != nil {
		t.Fatalf("Resume error: %v", err)
	}
	e, err := env.manager.Get(context.Background(), "wf-resume", "o")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	waitIdle(t, e)

	got := e.Snapshot()
	if got.Status != domain.WorkflowCompleted {
		t.Fatalf("status = %q, want completed", got.Status)
	}
	if atomic.LoadInt32(&env.videos.submits) != 0 {
		t.Fatal("resume resubmitted a job that already had a handle")
	}
	if atomic.LoadInt32(&env.status.calls) == 0 {
		t.Fatal("resume never polled the surviving handle")
	}
	if got.Videos[0].Status != domain.ItemDone {
		t.Fatalf("video status = %q, want done", got.Videos[0].Status)
	}
}

func TestStartWhileRunningRejected(t *testing.T) {
	env := newTestEnv()
	env.images.block = make(chan struct{})
	defer close(env.images.block)
	e, err := env.manager.Create(context.Background(), CreateParams{OwnerKey: "o", Idea: "idea"})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if err := e.Start(context.Background()); !errors.Is(err, domain.ErrWorkflowActive) {
		t.Fatalf("expected ErrWorkflowActive, got %v", err)
	}
	_ = e.Stop()
	waitIdle(t, e)
}

func TestCreateValidation(t *testing.T) {
	env := newTestEnv()
	if _, err := env.manager.Create(context.Background(), CreateParams{Idea: "x"}); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := env.manager.Create(context.Background(), CreateParams{OwnerKey: "o"}); !errors.Is(err, domain.ErrMissingPrompt) {
		t.Fatalf("expected ErrMissingPrompt, got %v", err)
	}
}

func TestGetEnforcesOwner(t *testing.T) {
	env := newTestEnv()
	e, err := env.manager.Create(context.Background(), CreateParams{OwnerKey: "alice-key", Idea: "x"})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if _, err := env.manager.Get(context.Background(), e.ID(), "bob-key"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := env.manager.Get(context.Background(), "missing", "alice-key"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSubscribePublishesSnapshots(t *testing.T) {
	env := newTestEnv()
	e, err := env.manager.Create(context.Background(), CreateParams{OwnerKey: "o", Idea: "idea"})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	ch, cancel := e.Subscribe()
	defer cancel()

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	waitIdle(t, e)

	var last *domain.Workflow
	for {
		select {
		case snap := <-ch:
			last = snap
			continue
		case <-time.After(100 * time.Millisecond):
		}
		break
	}
	if last == nil {
		t.Fatal("no snapshots received")
	}
	if last.ID != e.ID() {
		t.Fatalf("snapshot id = %q", last.ID)
	}
}

func TestSceneEditsInvalidateMerge(t *testing.T) {
	env := newTestEnv()
	e, err := env.manager.Create(context.Background(), CreateParams{OwnerKey: "o", Idea: "idea"})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	waitIdle(t, e)

	w := e.Snapshot()
	order := []string{w.Scenes[2].ID, w.Scenes[0].ID, w.Scenes[1].ID}
	if err := e.ReorderScenes(order); err != nil {
		t.Fatalf("ReorderScenes error: %v", err)
	}

	w = e.Snapshot()
	if w.MergedURL != "" {
		t.Fatal("merge survived a reorder")
	}
	for i, id := range order {
		if w.Scenes[i].ID != id {
			t.Fatalf("scene %d = %s, want %s", i, w.Scenes[i].ID, id)
		}
		if v := w.VideoForScene(id); v != nil && v.SceneIndex != i {
			t.Fatalf("video for %s has index %d", id, v.SceneIndex)
		}
	}
}

func TestDeleteSceneRemovesVideo(t *testing.T) {
	env := newTestEnv()
	e, err := env.manager.Create(context.Background(), CreateParams{OwnerKey: "o", Idea: "idea"})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	waitIdle(t, e)

	w := e.Snapshot()
	target := w.Scenes[1].ID
	if err := e.DeleteItem(domain.KindScene, target); err != nil {
		t.Fatalf("DeleteItem error: %v", err)
	}

	w = e.Snapshot()
	if len(w.Scenes) != 2 {
		t.Fatalf("scenes = %d, want 2", len(w.Scenes))
	}
	if w.SceneByID(target) != nil || w.VideoForScene(target) != nil {
		t.Fatal("scene or its video survived deletion")
	}
}

func TestAddSceneAssignsFreshID(t *testing.T) {
	env := newTestEnv()
	e, err := env.manager.Create(context.Background(), CreateParams{OwnerKey: "o", Idea: "idea"})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	waitIdle(t, e)

	seen := map[string]bool{}
	for _, s := range e.Snapshot().Scenes {
		seen[s.ID] = true
	}
	if err := e.AddScene(AddSceneParams{ImagePrompt: "sunset", VideoPrompt: "slow pan", Position: 1}); err != nil {
		t.Fatalf("AddScene error: %v", err)
	}

	w := e.Snapshot()
	if len(w.Scenes) != 4 {
		t.Fatalf("scenes = %d, want 4", len(w.Scenes))
	}
	added := w.Scenes[1]
	if seen[added.ID] {
		t.Fatalf("added scene reused id %s", added.ID)
	}
	if !strings.HasPrefix(added.ID, "scn-") {
		t.Fatalf("unexpected id %q", added.ID)
	}
}

func TestChatBeforeWorkRevisesScript(t *testing.T) {
	env := newTestEnv()
	e, err := env.manager.Create(context.Background(), CreateParams{OwnerKey: "o", Idea: "idea"})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	// Generate the script without running item work.
	_ = e.mutate(func(w *domain.Workflow) error {
		w.Script = testScript
		return nil
	})

	if err := e.Chat(context.Background(), "make it about winter"); err != nil {
		t.Fatalf("Chat error: %v", err)
	}
	w := e.Snapshot()
	if len(w.Chat) < 2 {
		t.Fatalf("chat has %d messages, want user and assistant entries", len(w.Chat))
	}
	if w.Parsed {
		t.Fatal("revision left parsed flag set")
	}
	if atomic.LoadInt32(&env.scripts.calls) != 1 {
		t.Fatalf("script calls = %d, want 1 revision", env.scripts.calls)
	}
}
