// Package scheduler runs background jobs on a fixed interval using gocron.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/sirupsen/logrus"
)

// Job 是可被调度器周期执行的任务。
type Job interface {
	// Name 返回用于日志的任务名。
	Name() string
	// Execute 执行一次任务，ctx 在调度器停止时取消。
	Execute(ctx context.Context) error
}

// Scheduler 包装 gocron，统一记录任务执行日志。
type Scheduler struct {
	scheduler *gocron.Scheduler
	logger    *logrus.Logger
	jobs      []Job
	started   bool
	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
}

// New 创建 UTC 时区的调度器。
func New(logger *logrus.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Every 以固定间隔注册任务。任务启动后立即执行一次；上一次未结束时跳过本轮。
func (s *Scheduler) Every(interval time.Duration, job Job) error {
	if interval <= 0 {
		return errors.New("scheduler interval must be positive")
	}
	if job == nil {
		return errors.New("scheduler job required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.scheduler.Every(interval).SingletonMode().Do(func() {
		s.execute(job)
	})
	if err != nil {
		return err
	}
	s.jobs = append(s.jobs, job)
	s.logger.WithFields(logrus.Fields{
		"action":   "scheduler",
		"job":      job.Name(),
		"interval": interval.String(),
	}).Info("job_registered")
	return nil
}

func (s *Scheduler) execute(job Job) {
	started := time.Now()
	fields := logrus.Fields{"action": "scheduler", "job": job.Name()}
	if err := job.Execute(s.ctx); err != nil {
		fields["elapsed_ms"] = time.Since(started).Milliseconds()
		s.logger.WithFields(fields).WithError(err).Warn("job_failed")
		return
	}
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	s.logger.WithFields(fields).Debug("job_complete")
}

// Start 异步启动调度；没有注册任务时不启动。
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started || len(s.jobs) == 0 {
		return
	}
	s.scheduler.StartAsync()
	s.started = true
}

// Stop 取消正在执行的任务并停止调度。
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancel()
	if !s.started {
		return
	}
	s.scheduler.Stop()
	s.started = false
}

// IsRunning 报告调度器是否已启动。
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// JobCount 返回已注册任务数。
func (s *Scheduler) JobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}
