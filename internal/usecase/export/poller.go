// Package export drives a remote bulk export job to completion and opens
// its result stream.
package export

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/catalogsync/internal/domain"
	"github.com/kailas-cloud/catalogsync/internal/retry"
)

// Policy bounds how a job is polled.
type Policy struct {
	Backoff              retry.Policy  // only Initial, Max and Factor are used
	MaxWait              time.Duration // total polling budget before ErrJobTimeout
	MaxConsecutiveErrors int           // transient poll errors tolerated in a row
}

// DefaultPolicy polls after 1s, 2s, 4s ... capped at 30s, for at most 2h.
var DefaultPolicy = Policy{
	Backoff:              retry.Policy{Initial: time.Second, Max: 30 * time.Second, Factor: 2},
	MaxWait:              2 * time.Hour,
	MaxConsecutiveErrors: 5,
}

// Poller awaits export jobs.
type Poller struct {
	src    Source
	opener Opener
	policy Policy
	logger *zap.Logger

	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	onPoll func(Status)
}

// Option customizes a Poller.
type Option func(*Poller)

// WithClock replaces the time source and the sleep function (tests).
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Poller) {
		p.now = now
		p.sleep = sleep
	}
}

// WithObserver is called after every successful poll.
func WithObserver(fn func(Status)) Option {
	return func(p *Poller) { p.onPoll = fn }
}

// NewPoller creates a Poller. Zero policy fields fall back to DefaultPolicy.
func NewPoller(src Source, opener Opener, policy Policy, logger *zap.Logger, opts ...Option) *Poller {
	if policy.Backoff.Initial <= 0 {
		policy.Backoff = DefaultPolicy.Backoff
	}
	if policy.MaxWait <= 0 {
		policy.MaxWait = DefaultPolicy.MaxWait
	}
	if policy.MaxConsecutiveErrors < 0 {
		policy.MaxConsecutiveErrors = 0
	}
	p := &Poller{
		src:    src,
		opener: opener,
		policy: policy,
		logger: logger,
		now:    time.Now,
		sleep:  retry.Sleep,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Await polls job until it reaches a terminal state or the budget runs out.
// FAILED and EXPIRED map to ErrJobFailed, CANCELED to ErrJobCanceled, an
// exhausted budget to ErrJobTimeout; all are returned as *domain.JobError.
func (p *Poller) Await(ctx context.Context, job Job) (Status, error) {
	start := p.now()
	var last Status
	consecutive := 0

	for attempt := 1; ; attempt++ {
		st, err := p.src.PollExport(ctx, job)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return last, ctx.Err()
			}
			consecutive++
			if consecutive > p.policy.MaxConsecutiveErrors {
				return last, fmt.Errorf("poll export job %s: %w", job.ID, err)
			}
			p.logger.Warn("Export poll failed, will retry",
				zap.String("job_id", job.ID),
				zap.Int("consecutive_errors", consecutive),
				zap.Error(err),
			)
		default:
			consecutive = 0
			last = st
			if p.onPoll != nil {
				p.onPoll(st)
			}
			p.logger.Debug("Export job status",
				zap.String("job_id", job.ID),
				zap.String("status", string(st.State)),
				zap.Int64("objects", st.ObjectCount),
			)
			switch st.State {
			case domain.JobCompleted:
				return st, nil
			case domain.JobFailed, domain.JobExpired:
				return st, &domain.JobError{JobID: job.ID, Status: st.State, ErrorCode: st.ErrorCode, Err: domain.ErrJobFailed}
			case domain.JobCanceled:
				return st, &domain.JobError{JobID: job.ID, Status: st.State, ErrorCode: st.ErrorCode, Err: domain.ErrJobCanceled}
			}
		}

		delay := p.policy.Backoff.Delay(attempt)
		if p.now().Sub(start)+delay > p.policy.MaxWait {
			return last, &domain.JobError{JobID: job.ID, Status: last.State, Err: domain.ErrJobTimeout}
		}
		if err := p.sleep(ctx, delay); err != nil {
			return last, err
		}
	}
}

// Run starts an export, awaits it and opens the result. A completed job
// without a result URL produced no objects and yields an empty stream.
func (p *Poller) Run(ctx context.Context, query string) (io.ReadCloser, Status, error) {
	started := p.now()
	job, err := p.src.StartExport(ctx, query)
	if err != nil {
		return nil, Status{}, fmt.Errorf("start export: %w", err)
	}
	p.logger.Info("Export job started", zap.String("job_id", job.ID))

	st, err := p.Await(ctx, job)
	if err != nil {
		return nil, st, err
	}
	p.logger.Info("Export job completed",
		zap.String("job_id", job.ID),
		zap.Int64("objects", st.ObjectCount),
		zap.Duration("elapsed", p.now().Sub(started)),
	)

	if st.URL == "" {
		return io.NopCloser(strings.NewReader("")), st, nil
	}
	rc, err := p.opener.Open(ctx, st.URL)
	if err != nil {
		return nil, st, fmt.Errorf("open export result: %w", err)
	}
	return rc, st, nil
}
