package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"postflow/internal/eventbus"
	"postflow/internal/metrics"
	"postflow/internal/storage"
	"postflow/pkg/logx"
)

var (
	ErrNotFound = errors.New("job not found")
	ErrExists   = errors.New("job already registered")
)

const (
	defaultHistorySize  = 100
	defaultRetryBackoff = 5 * time.Second
)

// Config tunes the job service. Zero values fall back to defaults.
type Config struct {
	HistorySize  int
	RetryBackoff time.Duration
	Location     *time.Location
}

// Service runs registered jobs: scheduled ones on their own timers, the
// rest on demand. One failed run schedules exactly one retry after a fixed
// backoff; a successful run resets the retry counter.
type Service struct {
	cfg Config
	log logx.Logger
	bus eventbus.Bus
	met *metrics.Metrics
	st  storage.Store
	now func() time.Time

	mu      sync.Mutex
	jobs    map[string]*Job
	history []Result
	loops   map[string]context.CancelFunc
	retries map[string]*time.Timer
	cron    *cron.Cron
	cronIDs map[string]cron.EntryID
	running bool
	base    context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = defaultHistorySize
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Service{
		cfg:     cfg,
		log:     log,
		bus:     bus,
		now:     time.Now,
		jobs:    make(map[string]*Job),
		loops:   make(map[string]context.CancelFunc),
		retries: make(map[string]*time.Timer),
		cron:    cron.New(cron.WithLocation(cfg.Location)),
		cronIDs: make(map[string]cron.EntryID),
	}
}

// SetStore attaches the run-result archive. Optional.
func (s *Service) SetStore(st storage.Store) { s.st = st }

// SetMetrics attaches the prometheus collectors. Optional.
func (s *Service) SetMetrics(m *metrics.Metrics) { s.met = m }

// AddJob registers a job. Scheduled jobs get their timer immediately if the
// service is already running.
func (s *Service) AddJob(j Job) error {
	if j.ID == "" {
		return errors.New("job id required")
	}
	if j.Handler == nil {
		return fmt.Errorf("job %s has no handler", j.ID)
	}
	sched, err := ParseSchedule(j.Schedule)
	if err != nil {
		return fmt.Errorf("job %s: %w", j.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[j.ID]; ok {
		return fmt.Errorf("%w: %s", ErrExists, j.ID)
	}
	job := j
	job.RetryCount = 0
	s.jobs[job.ID] = &job

	if job.Kind == KindScheduled && job.Enabled {
		if sched.Cron != "" {
			id := job.ID
			entry, err := s.cron.AddFunc(sched.Cron, func() { s.runScheduled(id) })
			if err != nil {
				delete(s.jobs, job.ID)
				return fmt.Errorf("job %s: %w", job.ID, err)
			}
			s.cronIDs[job.ID] = entry
		} else if s.running {
			s.startLoopLocked(job.ID, sched.Every)
		}
	}
	s.log.Info("job registered",
		logx.String("job", job.ID),
		logx.String("kind", string(job.Kind)),
		logx.String("schedule", job.Schedule))
	return nil
}

// RemoveJob unregisters a job and stops its timer and any pending retry.
func (s *Service) RemoveJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.jobs, id)
	if stop, ok := s.loops[id]; ok {
		stop()
		delete(s.loops, id)
	}
	if entry, ok := s.cronIDs[id]; ok {
		s.cron.Remove(entry)
		delete(s.cronIDs, id)
	}
	s.cancelRetryLocked(id)
	return nil
}

// RunJob fires a job by hand. The handler runs as an independent task; the
// call returns as soon as it is launched.
func (s *Service) RunJob(id string) error {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok || !j.Enabled {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	ctx := s.base
	s.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	s.launch(ctx, id)
	return nil
}

// Start spins up timers for every scheduled job and the cron runner.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("job service already started")
	}
	s.base, s.cancel = context.WithCancel(ctx)
	s.running = true

	for id, j := range s.jobs {
		if j.Kind != KindScheduled || !j.Enabled {
			continue
		}
		if _, ok := s.cronIDs[id]; ok {
			continue
		}
		sched, err := ParseSchedule(j.Schedule)
		if err != nil || sched.Every <= 0 {
			continue
		}
		s.startLoopLocked(id, sched.Every)
	}
	s.cron.Start()
	s.log.Info("job service started", logx.Int("jobs", len(s.jobs)))
	return nil
}

// Stop halts all timers, cancels pending retries, and waits for in-flight
// handlers to return.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	for id, stop := range s.loops {
		stop()
		delete(s.loops, id)
	}
	for id := range s.retries {
		s.cancelRetryLocked(id)
	}
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.log.Info("job service stopped")
}

// startLoopLocked runs a fixed-interval timer for one job. Call with s.mu held.
func (s *Service) startLoopLocked(id string, every time.Duration) {
	ctx, stop := context.WithCancel(s.base)
	s.loops[id] = stop
	if j, ok := s.jobs[id]; ok {
		j.NextRun = s.now().Add(every)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.mu.Lock()
				if j, ok := s.jobs[id]; ok {
					j.NextRun = s.now().Add(every)
				}
				s.mu.Unlock()
				s.exec(ctx, id)
			}
		}
	}()
}

// runScheduled is the cron callback path.
func (s *Service) runScheduled(id string) {
	s.mu.Lock()
	ctx := s.base
	running := s.running
	s.mu.Unlock()
	if !running {
		return
	}
	s.exec(ctx, id)
}

func (s *Service) launch(ctx context.Context, id string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.exec(ctx, id)
	}()
}

// exec runs one attempt of a job and handles the result bookkeeping.
// A panicking handler is recorded as a failed run, never propagated.
func (s *Service) exec(ctx context.Context, id string) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	handler := j.Handler
	maxRetries := j.MaxRetries
	s.mu.Unlock()

	s.publish(eventbus.TypeJobStarted, id)
	start := s.now()
	err := runContained(ctx, handler)
	dur := s.now().Sub(start)

	res := Result{
		JobID:     id,
		Success:   err == nil,
		Duration:  dur,
		Timestamp: start,
	}
	if err != nil {
		res.Error = err.Error()
	}

	s.mu.Lock()
	s.appendHistoryLocked(res)
	j, ok = s.jobs[id]
	if ok {
		j.LastRun = start
		if err == nil {
			j.RetryCount = 0
		} else if j.RetryCount < maxRetries && s.running {
			j.RetryCount++
			s.scheduleRetryLocked(id)
		}
	}
	var retryCount int
	if ok {
		retryCount = j.RetryCount
	}
	s.mu.Unlock()

	s.met.JobRun(id, err == nil)
	if s.st != nil {
		if serr := s.st.AppendJobResult(ctx, storage.JobResultRecord{
			JobID:     id,
			Success:   err == nil,
			Duration:  dur,
			Error:     res.Error,
			Timestamp: start,
		}); serr != nil {
			s.log.Warn("persist job result", logx.String("job", id), logx.Err(serr))
		}
	}

	if err != nil {
		s.publish(eventbus.TypeJobFailed, id)
		s.log.Error("job failed",
			logx.String("job", id),
			logx.Int("retry_count", retryCount),
			logx.Duration("took", dur),
			logx.Err(err))
		return
	}
	s.publish(eventbus.TypeJobFinished, id)
	s.log.Debug("job finished", logx.String("job", id), logx.Duration("took", dur))
}

// scheduleRetryLocked arms exactly one retry timer for the job, replacing
// any timer already pending. Call with s.mu held.
func (s *Service) scheduleRetryLocked(id string) {
	s.cancelRetryLocked(id)
	ctx := s.base
	s.retries[id] = time.AfterFunc(s.cfg.RetryBackoff, func() {
		s.mu.Lock()
		delete(s.retries, id)
		running := s.running
		s.mu.Unlock()
		if !running {
			return
		}
		s.launch(ctx, id)
	})
	s.met.JobRetry(id)
	s.publish(eventbus.TypeJobRetry, id)
}

func (s *Service) cancelRetryLocked(id string) {
	if t, ok := s.retries[id]; ok {
		t.Stop()
		delete(s.retries, id)
	}
}

func (s *Service) appendHistoryLocked(r Result) {
	s.history = append(s.history, r)
	if len(s.history) > s.cfg.HistorySize {
		s.history = s.history[len(s.history)-s.cfg.HistorySize:]
	}
}

// History returns recorded results, newest last. An empty jobID returns
// everything; limit <= 0 means no limit.
func (s *Service) History(jobID string, limit int) []Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Result, 0, len(s.history))
	for _, r := range s.history {
		if jobID != "" && r.JobID != jobID {
			continue
		}
		out = append(out, r)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Jobs returns copies of all registered jobs sorted by ID.
func (s *Service) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns a copy of one job.
func (s *Service) Get(id string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

func (s *Service) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.now(), Data: data})
}

func runContained(ctx context.Context, h Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx)
}
