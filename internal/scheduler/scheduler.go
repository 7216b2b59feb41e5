package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/codyaverett/mcp-agent/internal/orchestrator"
	"github.com/codyaverett/mcp-agent/internal/runctx"
)

// Runner executes one task. *orchestrator.Orchestrator satisfies it.
type Runner interface {
	Run(ctx context.Context, task string) (*orchestrator.Result, error)
}

// Job is a task run on a cron spec. Spec accepts the standard five-field
// form as well as descriptors such as "@hourly" and "@every 10m".
type Job struct {
	Name   string `yaml:"name" json:"name"`
	Spec   string `yaml:"spec" json:"spec"`
	Task   string `yaml:"task" json:"task"`
	Paused bool   `yaml:"paused,omitempty" json:"paused,omitempty"`
}

// JobStatus is a job together with its schedule bookkeeping.
type JobStatus struct {
	Job
	Next    time.Time `json:"next,omitempty"`
	LastRun time.Time `json:"lastRun,omitempty"`
	LastErr string    `json:"lastError,omitempty"`
	Runs    int       `json:"runs"`
}

var (
	ErrJobNotFound    = errors.New("job not found")
	ErrAlreadyStarted = errors.New("scheduler already started")
)

var specParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

type entry struct {
	job      Job
	schedule cron.Schedule
	id       cron.EntryID
	lastRun  time.Time
	lastErr  string
	runs     int
}

// Scheduler fires orchestrator runs for configured jobs. A failing run is
// logged and recorded on the job; it never stops the scheduler.
type Scheduler struct {
	mu      sync.RWMutex
	cron    *cron.Cron
	runner  Runner
	logger  zerolog.Logger
	jobs    map[string]*entry
	started bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(runner Runner, logger zerolog.Logger) *Scheduler {
	logger = logger.With().Str("component", "scheduler").Logger()
	ctx, cancel := context.WithCancel(context.Background())
	cl := cronLogger{logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(specParser),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		runner: runner,
		logger: logger,
		jobs:   make(map[string]*entry),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Validate reports whether job can be scheduled.
func (j Job) Validate() error {
	if j.Name == "" {
		return fmt.Errorf("job name is required")
	}
	if j.Task == "" {
		return fmt.Errorf("job %q: task is required", j.Name)
	}
	if _, err := specParser.Parse(j.Spec); err != nil {
		return fmt.Errorf("job %q: invalid spec %q: %w", j.Name, j.Spec, err)
	}
	return nil
}

// Start registers jobs and starts the cron loop. Invalid or duplicate jobs
// are logged and skipped.
func (s *Scheduler) Start(jobs []Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	for _, j := range jobs {
		if err := s.addLocked(j); err != nil {
			s.logger.Warn().Err(err).Str("job", j.Name).Msg("skipping job")
		}
	}
	s.started = true
	s.cron.Start()
	s.logger.Info().Int("jobs", len(s.jobs)).Msg("scheduler started")
	return nil
}

// Stop halts the cron loop, cancels runs in flight and waits for them.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.cancel()
	s.wg.Wait()
}

// ListJobs returns every registered job ordered by name.
func (s *Scheduler) ListJobs() []JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for _, e := range s.jobs {
		st := JobStatus{Job: e.job, LastRun: e.lastRun, LastErr: e.lastErr, Runs: e.runs}
		if !e.job.Paused {
			st.Next = e.schedule.Next(time.Now())
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

// PauseJob removes a job from the cron loop until ResumeJob is called. A
// run already in progress is not interrupted.
func (s *Scheduler) PauseJob(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrJobNotFound, name)
	}
	if e.job.Paused {
		return nil
	}
	s.cron.Remove(e.id)
	e.id = 0
	e.job.Paused = true
	return nil
}

func (s *Scheduler) ResumeJob(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrJobNotFound, name)
	}
	if !e.job.Paused {
		return fmt.Errorf("job %q is not paused", name)
	}
	e.job.Paused = false
	e.id = s.cron.Schedule(e.schedule, s.cronJob(name))
	return nil
}

// RunNow fires name immediately, outside its schedule, and waits for the
// result. Paused jobs may be run this way.
func (s *Scheduler) RunNow(ctx context.Context, name string) (*orchestrator.Result, error) {
	s.mu.RLock()
	_, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrJobNotFound, name)
	}
	return s.fire(ctx, name)
}

func (s *Scheduler) addLocked(j Job) error {
	if err := j.Validate(); err != nil {
		return err
	}
	if _, exists := s.jobs[j.Name]; exists {
		return fmt.Errorf("job %q already exists", j.Name)
	}
	sched, _ := specParser.Parse(j.Spec)
	e := &entry{job: j, schedule: sched}
	if !j.Paused {
		e.id = s.cron.Schedule(sched, s.cronJob(j.Name))
	}
	s.jobs[j.Name] = e
	return nil
}

func (s *Scheduler) cronJob(name string) cron.Job {
	return cron.FuncJob(func() {
		_, _ = s.fire(s.ctx, name)
	})
}

func (s *Scheduler) fire(ctx context.Context, name string) (*orchestrator.Result, error) {
	s.wg.Add(1)
	defer s.wg.Done()

	s.mu.RLock()
	e, ok := s.jobs[name]
	if !ok {
		s.mu.RUnlock()
		return nil, fmt.Errorf("%w: %q", ErrJobNotFound, name)
	}
	task := e.job.Task
	s.mu.RUnlock()

	ctx = runctx.WithTrigger(ctx, "schedule:"+name)
	start := time.Now()
	res, err := s.runner.Run(ctx, task)

	s.mu.Lock()
	e.lastRun = start
	e.runs++
	e.lastErr = ""
	if err != nil {
		e.lastErr = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error().Err(err).Str("job", name).Msg("scheduled run failed")
		return nil, err
	}
	s.logger.Info().Str("job", name).Str("run_id", res.RunID).Dur("duration", time.Since(start)).Msg("scheduled run done")
	return res, nil
}

// cronLogger routes cron's own messages into zerolog.
type cronLogger struct {
	l zerolog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
