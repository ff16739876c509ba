package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/covecrm/cove/internal/automation/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeDefinitionRepo is an in-memory DefinitionRepository.
type fakeDefinitionRepo struct {
	mu          sync.Mutex
	definitions map[uuid.UUID]*model.WorkflowDefinition
	outcomes    []bool
	getErr      error // one-shot failure injected into the next GetByID
}

func newFakeDefinitionRepo(defs ...*model.WorkflowDefinition) *fakeDefinitionRepo {
	repo := &fakeDefinitionRepo{definitions: map[uuid.UUID]*model.WorkflowDefinition{}}
	for _, def := range defs {
		if def.ID == uuid.Nil {
			def.ID = uuid.New()
		}
		repo.definitions[def.ID] = def
	}
	return repo
}

func (r *fakeDefinitionRepo) FindActiveByTrigger(_ context.Context, tenantID uuid.UUID, trigger model.TriggerType) ([]model.WorkflowDefinition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.WorkflowDefinition
	for _, def := range r.definitions {
		if def.TenantID == tenantID && def.TriggerType == trigger && def.Status == model.WorkflowStatusActive {
			out = append(out, *def)
		}
	}
	return out, nil
}

func (r *fakeDefinitionRepo) GetByID(_ context.Context, id uuid.UUID) (*model.WorkflowDefinition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		err := r.getErr
		r.getErr = nil
		return nil, err
	}
	def, ok := r.definitions[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *def
	return &copied, nil
}

func (r *fakeDefinitionRepo) RecordRunOutcome(_ context.Context, id uuid.UUID, succeeded bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, succeeded)
	if def, ok := r.definitions[id]; ok {
		def.TotalRuns++
		if succeeded {
			def.SuccessfulRuns++
		} else {
			def.FailedRuns++
		}
	}
	return nil
}

// fakeRunRepo is an in-memory RunRepository with the same conditional
// update semantics as the real store.
type fakeRunRepo struct {
	mu     sync.Mutex
	runs   map[uuid.UUID]*model.WorkflowRun
	getErr error // when set, GetByID fails with it
}

func newFakeRunRepo() *fakeRunRepo {
	return &fakeRunRepo{runs: map[uuid.UUID]*model.WorkflowRun{}}
}

func (r *fakeRunRepo) Create(_ context.Context, run *model.WorkflowRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if run.IdempotencyKey != nil {
		for _, existing := range r.runs {
			if existing.IdempotencyKey != nil && *existing.IdempotencyKey == *run.IdempotencyKey {
				return gorm.ErrDuplicatedKey
			}
		}
	}
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	copied := *run
	r.runs[run.ID] = &copied
	return nil
}

func (r *fakeRunRepo) GetByID(_ context.Context, id uuid.UUID) (*model.WorkflowRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return nil, r.getErr
	}
	run, ok := r.runs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *run
	return &copied, nil
}

func (r *fakeRunRepo) FindByIdempotencyKey(_ context.Context, key string) (*model.WorkflowRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, run := range r.runs {
		if run.IdempotencyKey != nil && *run.IdempotencyKey == key {
			copied := *run
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeRunRepo) ListByWorkflow(_ context.Context, workflowID uuid.UUID, offset, limit int) ([]model.WorkflowRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.WorkflowRun
	for _, run := range r.runs {
		if run.WorkflowID == workflowID {
			out = append(out, *run)
		}
	}
	return out, nil
}

func (r *fakeRunRepo) Advance(_ context.Context, run *model.WorkflowRun, expectedStatus model.RunStatus, expectedIndex int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.runs[run.ID]
	if !ok || stored.Status != expectedStatus || stored.CurrentActionIndex != expectedIndex {
		return model.ErrRunConflict
	}
	copied := *run
	r.runs[run.ID] = &copied
	return nil
}

func (r *fakeRunRepo) CancelIfIdle(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return false, nil
	}
	idle := run.Status == model.RunStatusWaiting ||
		(run.Status == model.RunStatusRunning && run.CurrentActionIndex == 0)
	if !idle {
		return false, nil
	}
	now := time.Now().UTC()
	run.Status = model.RunStatusCancelled
	run.CompletedAt = &now
	run.NextActionAt = nil
	return true, nil
}

func (r *fakeRunRepo) ForceFail(_ context.Context, id uuid.UUID, errMsg string) (*model.WorkflowRun, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return nil, false, gorm.ErrRecordNotFound
	}
	if run.Status.IsTerminal() {
		copied := *run
		return &copied, false, nil
	}
	now := time.Now().UTC()
	run.Status = model.RunStatusFailed
	run.ErrorMessage = errMsg
	run.CompletedAt = &now
	run.NextActionAt = nil
	copied := *run
	return &copied, true, nil
}

// mustGet reads the stored run for assertions.
func (r *fakeRunRepo) mustGet(id uuid.UUID) model.WorkflowRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.runs[id]
}

func (r *fakeRunRepo) put(run *model.WorkflowRun) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	copied := *run
	r.runs[run.ID] = &copied
}

// fakeJobRepo is an in-memory JobRepository.
type fakeJobRepo struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*model.ScheduledJob
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: map[uuid.UUID]*model.ScheduledJob{}}
}

func (r *fakeJobRepo) Create(_ context.Context, job *model.ScheduledJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	copied := *job
	r.jobs[job.ID] = &copied
	return nil
}

func (r *fakeJobRepo) FindDue(_ context.Context, now time.Time, limit int) ([]model.ScheduledJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []model.ScheduledJob
	for _, job := range r.jobs {
		if !job.IsProcessed && !job.DueAt.After(now) && len(due) < limit {
			due = append(due, *job)
		}
	}
	return due, nil
}

func (r *fakeJobRepo) Claim(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.IsProcessed {
		return false, nil
	}
	job.IsProcessed = true
	return true, nil
}

func (r *fakeJobRepo) Reschedule(_ context.Context, id uuid.UUID, dueAt time.Time, retryCount int, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	job.IsProcessed = false
	job.DueAt = dueAt
	job.RetryCount = retryCount
	job.ErrorMessage = errMsg
	return nil
}

func (r *fakeJobRepo) MarkExhausted(_ context.Context, id uuid.UUID, retryCount int, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	job.RetryCount = retryCount
	job.ErrorMessage = errMsg
	return nil
}

func (r *fakeJobRepo) all() []model.ScheduledJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.ScheduledJob
	for _, job := range r.jobs {
		out = append(out, *job)
	}
	return out
}

// Collaborator stubs.

type stubMessenger struct {
	calls int
	err   error
}

func (s *stubMessenger) SendMessage(context.Context, string, string, string, map[string]any) error {
	s.calls++
	return s.err
}

type stubMutator struct {
	calls  int
	fields map[string]any
	err    error
}

func (s *stubMutator) MutateRecord(_ context.Context, _ string, _ uuid.UUID, field string, value any) error {
	s.calls++
	if s.fields == nil {
		s.fields = map[string]any{}
	}
	s.fields[field] = value
	return s.err
}

type stubTagger struct {
	tags []string
	err  error
}

func (s *stubTagger) TagEntity(_ context.Context, _ string, _ uuid.UUID, tag string) error {
	s.tags = append(s.tags, tag)
	return s.err
}

type stubNotifier struct {
	calls int
	err   error
}

func (s *stubNotifier) Notify(context.Context, string, string) error {
	s.calls++
	return s.err
}

func stubCollaborators() (Collaborators, *stubMessenger, *stubNotifier) {
	messenger := &stubMessenger{}
	notifier := &stubNotifier{}
	return Collaborators{
		Messages:      messenger,
		Records:       &stubMutator{},
		Tags:          &stubTagger{},
		Notifications: notifier,
	}, messenger, notifier
}
