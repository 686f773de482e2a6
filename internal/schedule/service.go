// Package schedule runs periodic maintenance jobs on cron specs.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrUnknownJob is returned by RunNow for a name that was never added.
var ErrUnknownJob = errors.New("schedule: unknown job")

// Job is one periodic task.
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context) error
}

// JobStatus describes a registered job.
type JobStatus struct {
	Name     string
	Spec     string
	Next     time.Time
	LastRun  time.Time
	LastErr  string
	RunCount int
}

type jobState struct {
	job      Job
	entryID  cron.EntryID
	lastRun  time.Time
	lastErr  string
	runCount int
}

// Service owns the cron runner.
type Service struct {
	logger *slog.Logger
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	jobs map[string]*jobState
}

func NewService(log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	logger := log.With(slog.String("service", "schedule"))
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		logger: logger,
		cron: cron.New(
			cron.WithLogger(cronLogger{logger: logger}),
			cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger: logger})),
		),
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]*jobState),
	}
}

// Add registers job. An empty spec disables the job without error.
func (s *Service) Add(job Job) error {
	job.Name = strings.TrimSpace(job.Name)
	job.Spec = strings.TrimSpace(job.Spec)
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("schedule: job name and run func are required")
	}
	if job.Spec == "" {
		s.logger.Info("job disabled", slog.String("job", job.Name))
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.Name]; ok {
		return fmt.Errorf("schedule: job %q already registered", job.Name)
	}
	state := &jobState{job: job}
	id, err := s.cron.AddFunc(job.Spec, func() { s.run(state) })
	if err != nil {
		return fmt.Errorf("schedule: job %q spec %q: %w", job.Name, job.Spec, err)
	}
	state.entryID = id
	s.jobs[job.Name] = state
	return nil
}

// Start begins running jobs in the background.
func (s *Service) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", slog.Int("jobs", len(s.Status())))
}

// Stop halts the runner and waits for running jobs until ctx ends.
func (s *Service) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunNow runs the named job synchronously.
func (s *Service) RunNow(name string) error {
	s.mu.Lock()
	state, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.run(state)
}

// Status lists the registered jobs sorted by name.
func (s *Service) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, 0, len(s.jobs))
	for _, st := range s.jobs {
		out = append(out, JobStatus{
			Name:     st.job.Name,
			Spec:     st.job.Spec,
			Next:     s.cron.Entry(st.entryID).Next,
			LastRun:  st.lastRun,
			LastErr:  st.lastErr,
			RunCount: st.runCount,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Service) run(state *jobState) (err error) {
	logger := s.logger.With(slog.String("job", state.job.Name))
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
			logger.Error("job panicked", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
		}
		s.mu.Lock()
		state.lastRun = start
		state.runCount++
		state.lastErr = ""
		if err != nil {
			state.lastErr = err.Error()
		}
		s.mu.Unlock()
	}()

	err = state.job.Run(s.ctx)
	if err != nil {
		logger.Warn("job failed", slog.Duration("took", time.Since(start)), slog.Any("error", err))
		return err
	}
	logger.Debug("job finished", slog.Duration("took", time.Since(start)))
	return nil
}

// cronLogger routes cron's internal logging through slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append([]any{slog.Any("error", err)}, keysAndValues...)...)
}
