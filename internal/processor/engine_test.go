package processor

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"lightwork/internal/adapter/sqlite"
	"lightwork/internal/domain"
	"lightwork/internal/imagegen"
	"lightwork/internal/lifecycle"
	"lightwork/internal/storage"
)

var pngBytes = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}

type fakeTransformer struct {
	mu          sync.Mutex
	calls       int
	inflight    int
	maxInflight int
	delay       time.Duration
	notReady    error
	fn          func(call int, req imagegen.Request) (*imagegen.Result, error)
}

func (f *fakeTransformer) Transform(ctx context.Context, req imagegen.Request) (*imagegen.Result, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.inflight++
	if f.inflight > f.maxInflight {
		f.maxInflight = f.inflight
	}
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.inflight--
	f.mu.Unlock()

	if f.fn != nil {
		return f.fn(call, req)
	}
	return &imagegen.Result{Data: []byte("result:" + req.Instruction), MIMEType: "image/png"}, nil
}

func (f *fakeTransformer) Ready() error { return f.notReady }

func (f *fakeTransformer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type harness struct {
	db          *sql.DB
	images      *sqlite.ImageRepository
	jobs        *sqlite.JobRepository
	store       *storage.FileStore
	svc         *lifecycle.Service
	transformer *fakeTransformer
	engine      *Engine
	now         time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	db, err := sqlite.Open(context.Background(), filepath.Join(dir, "engine.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	store, err := storage.NewFileStore(filepath.Join(dir, "objects"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	h := &harness{
		db:          db,
		images:      sqlite.NewImageRepository(db),
		jobs:        sqlite.NewJobRepository(db),
		store:       store,
		transformer: &fakeTransformer{},
		now:         time.Now().UTC().Truncate(time.Second),
	}
	h.svc = lifecycle.NewService(h.jobs, h.images, store, nil, lifecycle.ServiceOptions{MaxRetries: 3}, zerolog.Nop())
	h.engine = NewEngine(Deps{
		Images:      h.images,
		Jobs:        h.jobs,
		Store:       store,
		Transformer: h.transformer,
		Logger:      zerolog.Nop(),
	}, DefaultOptions())
	h.engine.now = func() time.Time { return h.now }
	h.engine.monitor.now = h.engine.now
	h.engine.chance = func() float64 { return 1 }
	return h
}

// startJob creates a started job with one image per prompt override.
func (h *harness) startJob(t *testing.T, model domain.ModelTier, overrides ...string) string {
	t.Helper()
	ctx := context.Background()
	job, err := h.svc.Create(ctx, lifecycle.NewJob{Instruction: "Make it vintage", Model: model})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	for i, o := range overrides {
		if _, err := h.svc.AddImage(ctx, lifecycle.NewImage{
			JobID:          job.ID,
			Filename:       fmt.Sprintf("photo-%d.png", i),
			MIMEType:       "image/png",
			SpecificPrompt: o,
			Data:           pngBytes,
		}); err != nil {
			t.Fatalf("add image: %v", err)
		}
		// Distinct creation times keep the claim order deterministic.
		time.Sleep(2 * time.Millisecond)
	}
	if _, err := h.svc.Start(ctx, job.ID); err != nil {
		t.Fatalf("start job: %v", err)
	}
	return job.ID
}

func (h *harness) cycle(t *testing.T) CycleResult {
	t.Helper()
	res, err := h.engine.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle error: %v", err)
	}
	return res
}

func (h *harness) job(t *testing.T, id string) *domain.Job {
	t.Helper()
	job, err := h.jobs.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	return job
}

func (h *harness) imagesOf(t *testing.T, jobID string) []domain.Image {
	t.Helper()
	images, err := h.images.ListByJob(context.Background(), jobID)
	if err != nil {
		t.Fatalf("list images: %v", err)
	}
	return images
}

func TestHappyPath(t *testing.T) {
	h := newHarness(t)
	jobID := h.startJob(t, domain.ModelStandard, "", "warmer tones")

	res := h.cycle(t)
	if res.Attempted != 2 || res.Completed != 2 || res.Finalized != 1 {
		t.Fatalf("cycle = %+v", res)
	}

	job := h.job(t, jobID)
	if job.Status != domain.JobStatusCompleted || job.CompletedImages != 2 || job.FailedImages != 0 || job.CompletedAt == nil {
		t.Fatalf("job = %+v", job)
	}
	for _, img := range h.imagesOf(t, jobID) {
		if img.Status != domain.ImageStatusCompleted || img.ResultKey == "" || img.ProcessedAt == nil {
			t.Fatalf("image = %+v", img)
		}
		data, contentType, err := h.store.Get(context.Background(), img.ResultKey)
		if err != nil {
			t.Fatalf("result missing: %v", err)
		}
		if contentType != "image/png" || !strings.HasPrefix(string(data), "result:Make it vintage") {
			t.Fatalf("result = %q (%s)", data, contentType)
		}
		if !strings.HasPrefix(img.ResultKey, "processed/"+jobID+"/"+img.ID+"-") {
			t.Fatalf("result key = %s", img.ResultKey)
		}
	}
}

func TestPerImageOverrideReachesTransformer(t *testing.T) {
	h := newHarness(t)
	var seen []string
	var mu sync.Mutex
	h.transformer.fn = func(_ int, req imagegen.Request) (*imagegen.Result, error) {
		mu.Lock()
		seen = append(seen, req.Instruction)
		mu.Unlock()
		return &imagegen.Result{Data: []byte("ok"), MIMEType: "image/png"}, nil
	}
	h.startJob(t, domain.ModelPro, "only the left side")
	h.cycle(t)

	if len(seen) != 1 || seen[0] != "Make it vintage\n\nSpecific instructions for this image: only the left side" {
		t.Fatalf("instructions = %q", seen)
	}
}

func TestRateLimitThenSuccess(t *testing.T) {
	h := newHarness(t)
	h.transformer.fn = func(call int, _ imagegen.Request) (*imagegen.Result, error) {
		if call == 1 {
			return nil, imagegen.NewError(imagegen.CauseRateLimited, "", nil)
		}
		return &imagegen.Result{Data: []byte("ok"), MIMEType: "image/png"}, nil
	}
	jobID := h.startJob(t, domain.ModelStandard, "")
	t0 := h.now

	res := h.cycle(t)
	if res.Retrying != 1 {
		t.Fatalf("cycle 1 = %+v", res)
	}
	img := h.imagesOf(t, jobID)[0]
	if img.Status != domain.ImageStatusRetryLater || img.RetryCount != 1 {
		t.Fatalf("after rate limit: %+v", img)
	}
	if img.NextRetryAt == nil || !img.NextRetryAt.Equal(t0.Add(30*time.Second)) {
		t.Fatalf("next_retry_at = %v, want %v", img.NextRetryAt, t0.Add(30*time.Second))
	}
	if img.ErrorMessage != "Rate limit exceeded. Retrying..." {
		t.Fatalf("error message = %q", img.ErrorMessage)
	}

	h.now = t0.Add(10 * time.Second)
	if res := h.cycle(t); res.Attempted != 0 {
		t.Fatalf("image claimed before backoff elapsed: %+v", res)
	}

	h.now = t0.Add(31 * time.Second)
	if res := h.cycle(t); res.Completed != 1 {
		t.Fatalf("cycle 3 = %+v", res)
	}
	img = h.imagesOf(t, jobID)[0]
	if img.Status != domain.ImageStatusCompleted || img.RetryCount != 1 {
		t.Fatalf("final image = %+v", img)
	}
	if job := h.job(t, jobID); job.Status != domain.JobStatusCompleted {
		t.Fatalf("job status = %s", job.Status)
	}
}

func TestRetriesExhausted(t *testing.T) {
	h := newHarness(t)
	h.transformer.fn = func(int, imagegen.Request) (*imagegen.Result, error) {
		return nil, imagegen.NewError(imagegen.CauseOverloaded, "", nil)
	}
	jobID := h.startJob(t, domain.ModelStandard, "")

	lastRetry := 0
	for attempt := 1; attempt <= 3; attempt++ {
		h.cycle(t)
		img := h.imagesOf(t, jobID)[0]
		if img.RetryCount < lastRetry {
			t.Fatalf("retry_count decreased from %d to %d", lastRetry, img.RetryCount)
		}
		lastRetry = img.RetryCount
		if img.RetryCount != attempt {
			t.Fatalf("attempt %d: retry_count = %d", attempt, img.RetryCount)
		}
		if attempt < 3 {
			if img.Status != domain.ImageStatusRetryLater {
				t.Fatalf("attempt %d: status = %s", attempt, img.Status)
			}
			h.now = img.NextRetryAt.Add(time.Second)
		}
	}

	img := h.imagesOf(t, jobID)[0]
	if img.Status != domain.ImageStatusFailed || img.NextRetryAt != nil {
		t.Fatalf("final image = %+v", img)
	}
	if !strings.HasPrefix(img.ErrorMessage, "Gave up after 3 attempts: Model is busy") {
		t.Fatalf("error message = %q", img.ErrorMessage)
	}
	job := h.job(t, jobID)
	if job.Status != domain.JobStatusFailed || job.FailedImages != 1 {
		t.Fatalf("job = %+v", job)
	}

	h.now = h.now.Add(time.Hour)
	h.cycle(t)
	if n := h.transformer.callCount(); n != 3 {
		t.Fatalf("transformer called %d times, want 3", n)
	}
}

func TestSafetyBlockIsTerminal(t *testing.T) {
	h := newHarness(t)
	h.transformer.fn = func(int, imagegen.Request) (*imagegen.Result, error) {
		return nil, imagegen.NewError(imagegen.CauseSafetyBlocked, "", nil)
	}
	jobID := h.startJob(t, domain.ModelStandard, "")

	res := h.cycle(t)
	if res.Failed != 1 || len(res.Errors) != 1 {
		t.Fatalf("cycle = %+v", res)
	}
	img := h.imagesOf(t, jobID)[0]
	if img.Status != domain.ImageStatusFailed || img.RetryCount != 0 || img.NextRetryAt != nil {
		t.Fatalf("image = %+v", img)
	}
	if img.ErrorMessage != "Blocked by AI safety filters. Please try a different prompt." {
		t.Fatalf("error message = %q", img.ErrorMessage)
	}
	if job := h.job(t, jobID); job.Status != domain.JobStatusFailed {
		t.Fatalf("job status = %s", job.Status)
	}
}

func TestMixedJobCompletes(t *testing.T) {
	h := newHarness(t)
	h.engine.opts.BatchSize = 3
	h.transformer.fn = func(_ int, req imagegen.Request) (*imagegen.Result, error) {
		if strings.Contains(req.Instruction, "forbidden") {
			return nil, imagegen.NewError(imagegen.CauseSafetyBlocked, "", nil)
		}
		return &imagegen.Result{Data: []byte("ok"), MIMEType: "image/jpeg"}, nil
	}
	jobID := h.startJob(t, domain.ModelStandard, "", "forbidden", "")

	res := h.cycle(t)
	if res.Attempted != 3 || res.Completed != 2 || res.Failed != 1 {
		t.Fatalf("cycle = %+v", res)
	}
	job := h.job(t, jobID)
	if job.Status != domain.JobStatusCompleted || job.CompletedImages != 2 || job.FailedImages != 1 {
		t.Fatalf("job = %+v", job)
	}
	if job.CompletedImages+job.FailedImages > job.TotalImages {
		t.Fatalf("counters exceed total: %+v", job)
	}
}

func TestProJobsRunSequentially(t *testing.T) {
	h := newHarness(t)
	h.transformer.delay = 40 * time.Millisecond
	h.startJob(t, domain.ModelPro, "", "")

	if res := h.cycle(t); res.Completed != 2 {
		t.Fatalf("cycle = %+v", res)
	}
	if h.transformer.maxInflight != 1 {
		t.Fatalf("pro job ran %d transforms at once", h.transformer.maxInflight)
	}
}

func TestStandardJobsRunInParallel(t *testing.T) {
	h := newHarness(t)
	h.transformer.delay = 100 * time.Millisecond
	h.startJob(t, domain.ModelStandard, "", "")

	if res := h.cycle(t); res.Completed != 2 {
		t.Fatalf("cycle = %+v", res)
	}
	if h.transformer.maxInflight != 2 {
		t.Fatalf("max in flight = %d, want 2", h.transformer.maxInflight)
	}
}

func TestStuckImageIsRecovered(t *testing.T) {
	h := newHarness(t)
	jobID := h.startJob(t, domain.ModelStandard, "")
	stale := h.now.Add(-6 * time.Minute).UnixMilli()
	if _, err := h.db.Exec(`update images set status = 'PROCESSING', updated_at = ? where job_id = ?`, stale, jobID); err != nil {
		t.Fatal(err)
	}

	res := h.cycle(t)
	if res.Reset != 1 || res.Completed != 1 {
		t.Fatalf("cycle = %+v", res)
	}
	if job := h.job(t, jobID); job.Status != domain.JobStatusCompleted {
		t.Fatalf("job status = %s", job.Status)
	}
}

func TestRecentProcessingImageIsLeftAlone(t *testing.T) {
	h := newHarness(t)
	jobID := h.startJob(t, domain.ModelStandard, "")
	recent := h.now.Add(-time.Minute).UnixMilli()
	if _, err := h.db.Exec(`update images set status = 'PROCESSING', updated_at = ? where job_id = ?`, recent, jobID); err != nil {
		t.Fatal(err)
	}
	if res := h.cycle(t); res.Reset != 0 || res.Attempted != 0 {
		t.Fatalf("cycle = %+v", res)
	}
}

func TestLateWriterDoesNotDoubleCount(t *testing.T) {
	h := newHarness(t)
	var jobID string
	h.transformer.fn = func(int, imagegen.Request) (*imagegen.Result, error) {
		// Another invocation finished the image while this one was working.
		if _, err := h.db.Exec(`update images set status = 'COMPLETED', result_key = 'processed/other.png' where job_id = ?`, jobID); err != nil {
			return nil, err
		}
		if _, err := h.db.Exec(`update jobs set completed_images = completed_images + 1 where id = ?`, jobID); err != nil {
			return nil, err
		}
		return &imagegen.Result{Data: []byte("late"), MIMEType: "image/png"}, nil
	}
	jobID = h.startJob(t, domain.ModelStandard, "")

	h.cycle(t)
	job := h.job(t, jobID)
	if job.CompletedImages != 1 || job.Status != domain.JobStatusCompleted {
		t.Fatalf("job = %+v", job)
	}
	if img := h.imagesOf(t, jobID)[0]; img.ResultKey != "processed/other.png" {
		t.Fatalf("late writer replaced result key with %s", img.ResultKey)
	}
}

func TestMissingOriginalFailsImage(t *testing.T) {
	h := newHarness(t)
	jobID := h.startJob(t, domain.ModelStandard, "")
	img := h.imagesOf(t, jobID)[0]
	if err := h.store.Delete(context.Background(), img.OriginalKey); err != nil {
		t.Fatal(err)
	}

	h.cycle(t)
	img = h.imagesOf(t, jobID)[0]
	if img.Status != domain.ImageStatusFailed || img.ErrorMessage != "Original image not found in storage" {
		t.Fatalf("image = %+v", img)
	}
	if h.transformer.callCount() != 0 {
		t.Fatal("transformer called without original")
	}
}

func TestPanicIsRetried(t *testing.T) {
	h := newHarness(t)
	h.transformer.fn = func(int, imagegen.Request) (*imagegen.Result, error) {
		panic("decoder exploded")
	}
	jobID := h.startJob(t, domain.ModelStandard, "")

	res := h.cycle(t)
	if res.Retrying != 1 {
		t.Fatalf("cycle = %+v", res)
	}
	if img := h.imagesOf(t, jobID)[0]; img.Status != domain.ImageStatusRetryLater {
		t.Fatalf("status = %s", img.Status)
	}
}

func TestUnreadyTransformerClaimsNothing(t *testing.T) {
	h := newHarness(t)
	h.transformer.notReady = fmt.Errorf("gemini api key not configured")
	jobID := h.startJob(t, domain.ModelStandard, "")

	res := h.cycle(t)
	if res.Attempted != 0 || len(res.Errors) != 1 || res.Errors[0] != "gemini api key not configured" {
		t.Fatalf("cycle = %+v", res)
	}
	if img := h.imagesOf(t, jobID)[0]; img.Status != domain.ImageStatusPending {
		t.Fatalf("status = %s", img.Status)
	}
}

func TestCancelledJobIsNotClaimed(t *testing.T) {
	h := newHarness(t)
	jobID := h.startJob(t, domain.ModelStandard, "", "")
	if _, err := h.svc.Cancel(context.Background(), jobID); err != nil {
		t.Fatal(err)
	}
	if res := h.cycle(t); res.Attempted != 0 {
		t.Fatalf("cycle = %+v", res)
	}
	if job := h.job(t, jobID); job.Status != domain.JobStatusCancelled || job.FailedImages != 2 {
		t.Fatalf("job = %+v", job)
	}
}

type countingSweeper struct {
	mu    sync.Mutex
	calls int
}

func (s *countingSweeper) Sweep(context.Context) (lifecycle.SweepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return lifecycle.SweepResult{}, nil
}

func TestRetentionRunsOnFractionOfCycles(t *testing.T) {
	h := newHarness(t)
	sweeper := &countingSweeper{}
	h.engine.retention = sweeper

	h.engine.chance = func() float64 { return 0.5 }
	h.cycle(t)
	h.engine.Wait()
	if sweeper.calls != 0 {
		t.Fatal("sweep ran above the configured probability")
	}

	h.engine.chance = func() float64 { return 0.05 }
	h.cycle(t)
	h.engine.Wait()
	if sweeper.calls != 1 {
		t.Fatalf("sweep calls = %d, want 1", sweeper.calls)
	}
}
