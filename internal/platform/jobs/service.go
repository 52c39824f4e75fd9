package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"paie/internal/platform/metrics"
)

const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

var ErrQueueFull = errors.New("job queue full")

// RunStore records job runs so callers can poll their outcome.
type RunStore interface {
	CreateJobRun(ctx context.Context, jobType string) (string, error)
	UpdateJobRun(ctx context.Context, runID, status string, detailsJSON []byte) error
}

type RunFunc func(context.Context) (any, error)

type Service struct {
	runs  RunStore
	log   *zap.Logger
	queue chan job
}

type job struct {
	ID   string
	Type string
	Run  RunFunc
}

func New(runs RunStore, queueSize int, log *zap.Logger) *Service {
	if queueSize <= 0 {
		queueSize = 32
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		runs:  runs,
		log:   log,
		queue: make(chan job, queueSize),
	}
}

func (s *Service) Start(ctx context.Context) {
	go s.worker(ctx)
}

// Enqueue records a run and hands it to the background worker. The returned
// ID can be polled through the run store.
func (s *Service) Enqueue(ctx context.Context, jobType string, run RunFunc) (string, error) {
	runID, err := s.runs.CreateJobRun(ctx, jobType)
	if err != nil {
		return "", err
	}
	select {
	case s.queue <- job{ID: runID, Type: jobType, Run: run}:
		return runID, nil
	default:
		metrics.JobsDropped.WithLabelValues(jobType).Inc()
		s.log.Warn("job queue full", zap.String("job_type", jobType), zap.String("run_id", runID))
		s.finish(ctx, runID, StatusFailed, map[string]string{"error": ErrQueueFull.Error()})
		return "", ErrQueueFull
	}
}

// RunNow executes synchronously but still records the run.
func (s *Service) RunNow(ctx context.Context, jobType string, run RunFunc) (any, error) {
	runID, err := s.runs.CreateJobRun(ctx, jobType)
	if err != nil {
		s.log.Warn("job run insert failed", zap.String("job_type", jobType), zap.Error(err))
	}
	return s.runJob(ctx, job{ID: runID, Type: jobType, Run: run})
}

func (s *Service) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-s.queue:
			if _, err := s.runJob(ctx, j); err != nil {
				s.log.Warn("job run failed",
					zap.String("job_type", j.Type),
					zap.String("run_id", j.ID),
					zap.Error(err))
			}
		}
	}
}

func (s *Service) runJob(ctx context.Context, j job) (any, error) {
	start := time.Now()
	details, err := j.Run(ctx)
	status := StatusCompleted
	if err != nil {
		status = StatusFailed
		if details == nil {
			details = map[string]string{"error": err.Error()}
		}
	}
	metrics.RecordJob(j.Type, status, time.Since(start))
	if j.ID != "" {
		s.finish(ctx, j.ID, status, details)
	}
	return details, err
}

func (s *Service) finish(ctx context.Context, runID, status string, details any) {
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		s.log.Warn("job details marshal failed", zap.String("run_id", runID), zap.Error(err))
		detailsJSON = []byte("{}")
	}
	// the run outcome is still recorded when the worker context is being torn down
	ctx = context.WithoutCancel(ctx)
	if err := s.runs.UpdateJobRun(ctx, runID, status, detailsJSON); err != nil {
		s.log.Warn("job run update failed", zap.String("run_id", runID), zap.Error(err))
	}
}
