package export

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/catalogsync/internal/domain"
	"github.com/kailas-cloud/catalogsync/internal/retry"
)

type pollStep struct {
	status Status
	err    error
}

type scriptedSource struct {
	startErr error
	steps    []pollStep
	polls    int
}

func (s *scriptedSource) StartExport(_ context.Context, _ string) (Job, error) {
	if s.startErr != nil {
		return Job{}, s.startErr
	}
	return Job{ID: "gid://shopify/BulkOperation/1"}, nil
}

func (s *scriptedSource) PollExport(_ context.Context, _ Job) (Status, error) {
	i := s.polls
	s.polls++
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	return s.steps[i].status, s.steps[i].err
}

type stubOpener struct {
	body   string
	err    error
	opened string
}

func (o *stubOpener) Open(_ context.Context, location string) (io.ReadCloser, error) {
	o.opened = location
	if o.err != nil {
		return nil, o.err
	}
	return io.NopCloser(strings.NewReader(o.body)), nil
}

// fakeClock advances only when the poller sleeps.
type fakeClock struct {
	t     time.Time
	slept []time.Duration
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) sleep(_ context.Context, d time.Duration) error {
	c.slept = append(c.slept, d)
	c.t = c.t.Add(d)
	return nil
}

func newTestPoller(src Source, op Opener, policy Policy) (*Poller, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	return NewPoller(src, op, policy, zap.NewNop(), WithClock(clk.now, clk.sleep)), clk
}

func running() pollStep { return pollStep{status: Status{State: domain.JobRunning}} }

func TestAwait_CompletesWithCappedBackoff(t *testing.T) {
	steps := make([]pollStep, 0, 8)
	for range 7 {
		steps = append(steps, running())
	}
	steps = append(steps, pollStep{status: Status{State: domain.JobCompleted, URL: "https://x/y.jsonl", ObjectCount: 3}})
	src := &scriptedSource{steps: steps}
	p, clk := newTestPoller(src, &stubOpener{}, DefaultPolicy)

	st, err := p.Await(context.Background(), Job{ID: "job"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.URL != "https://x/y.jsonl" || st.ObjectCount != 3 {
		t.Errorf("unexpected status %+v", st)
	}
	want := []time.Duration{1, 2, 4, 8, 16, 30, 30}
	if len(clk.slept) != len(want) {
		t.Fatalf("slept %d times, want %d", len(clk.slept), len(want))
	}
	for i, w := range want {
		if clk.slept[i] != w*time.Second {
			t.Errorf("delay %d = %s, want %s", i, clk.slept[i], w*time.Second)
		}
	}
}

func TestAwait_TerminalFailures(t *testing.T) {
	tests := []struct {
		name  string
		state domain.JobStatus
		want  error
	}{
		{"failed", domain.JobFailed, domain.ErrJobFailed},
		{"expired", domain.JobExpired, domain.ErrJobFailed},
		{"canceled", domain.JobCanceled, domain.ErrJobCanceled},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			src := &scriptedSource{steps: []pollStep{
				running(),
				{status: Status{State: tc.state, ErrorCode: "ACCESS_DENIED"}},
			}}
			p, _ := newTestPoller(src, &stubOpener{}, DefaultPolicy)

			_, err := p.Await(context.Background(), Job{ID: "job"})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			var je *domain.JobError
			if !errors.As(err, &je) || je.ErrorCode != "ACCESS_DENIED" || je.Status != tc.state {
				t.Errorf("unexpected job error %+v", je)
			}
		})
	}
}

func TestAwait_CancelingKeepsPolling(t *testing.T) {
	src := &scriptedSource{steps: []pollStep{
		{status: Status{State: domain.JobCanceling}},
		{status: Status{State: domain.JobCanceled}},
	}}
	p, _ := newTestPoller(src, &stubOpener{}, DefaultPolicy)

	_, err := p.Await(context.Background(), Job{ID: "job"})
	if !errors.Is(err, domain.ErrJobCanceled) {
		t.Fatalf("expected ErrJobCanceled, got %v", err)
	}
	if src.polls != 2 {
		t.Errorf("expected 2 polls, got %d", src.polls)
	}
}

func TestAwait_TimesOut(t *testing.T) {
	src := &scriptedSource{steps: []pollStep{running()}}
	policy := Policy{
		Backoff: retry.Policy{Initial: time.Second, Max: 10 * time.Second, Factor: 2},
		MaxWait: time.Minute,
	}
	p, clk := newTestPoller(src, &stubOpener{}, policy)

	_, err := p.Await(context.Background(), Job{ID: "job"})
	if !errors.Is(err, domain.ErrJobTimeout) {
		t.Fatalf("expected ErrJobTimeout, got %v", err)
	}
	var total time.Duration
	for _, d := range clk.slept {
		total += d
	}
	if total > time.Minute {
		t.Errorf("slept %s, more than the budget", total)
	}
}

func TestAwait_ToleratesTransientErrors(t *testing.T) {
	transient := errors.New("502 bad gateway")
	src := &scriptedSource{steps: []pollStep{
		{err: transient},
		{err: transient},
		{status: Status{State: domain.JobCompleted}},
	}}
	p, _ := newTestPoller(src, &stubOpener{}, Policy{MaxConsecutiveErrors: 2})

	if _, err := p.Await(context.Background(), Job{ID: "job"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAwait_TooManyConsecutiveErrors(t *testing.T) {
	transient := errors.New("502 bad gateway")
	src := &scriptedSource{steps: []pollStep{{err: transient}}}
	p, _ := newTestPoller(src, &stubOpener{}, Policy{MaxConsecutiveErrors: 2})

	_, err := p.Await(context.Background(), Job{ID: "job"})
	if !errors.Is(err, transient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if src.polls != 3 {
		t.Errorf("expected 3 polls, got %d", src.polls)
	}
}

func TestAwait_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := &scriptedSource{steps: []pollStep{{err: context.Canceled}}}
	p, _ := newTestPoller(src, &stubOpener{}, DefaultPolicy)

	if _, err := p.Await(ctx, Job{ID: "job"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestAwait_ObserverSeesEachStatus(t *testing.T) {
	src := &scriptedSource{steps: []pollStep{running(), {status: Status{State: domain.JobCompleted}}}}
	var seen []domain.JobStatus
	clk := &fakeClock{t: time.Unix(0, 0)}
	p := NewPoller(src, &stubOpener{}, DefaultPolicy, zap.NewNop(),
		WithClock(clk.now, clk.sleep),
		WithObserver(func(st Status) { seen = append(seen, st.State) }),
	)

	if _, err := p.Await(context.Background(), Job{ID: "job"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(seen) != 2 || seen[1] != domain.JobCompleted {
		t.Errorf("unexpected observations %v", seen)
	}
}

func TestRun_OpensResult(t *testing.T) {
	src := &scriptedSource{steps: []pollStep{{status: Status{State: domain.JobCompleted, URL: "s3://bucket/export.jsonl"}}}}
	op := &stubOpener{body: `{"__typename":"Product","id":"p1"}`}
	p, _ := newTestPoller(src, op, DefaultPolicy)

	rc, _, err := p.Run(context.Background(), "{ products { edges { node { id } } } }")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	if op.opened != "s3://bucket/export.jsonl" || !strings.Contains(string(body), "p1") {
		t.Errorf("unexpected open %q / body %q", op.opened, body)
	}
}

func TestRun_EmptyExport(t *testing.T) {
	src := &scriptedSource{steps: []pollStep{{status: Status{State: domain.JobCompleted}}}}
	op := &stubOpener{}
	p, _ := newTestPoller(src, op, DefaultPolicy)

	rc, _, err := p.Run(context.Background(), "q")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body, _ := io.ReadAll(rc)
	if len(body) != 0 || op.opened != "" {
		t.Errorf("expected empty stream without open, got %q (opened %q)", body, op.opened)
	}
}

func TestRun_StartError(t *testing.T) {
	boom := errors.New("bulk operation already in progress")
	p, _ := newTestPoller(&scriptedSource{startErr: boom}, &stubOpener{}, DefaultPolicy)

	if _, _, err := p.Run(context.Background(), "q"); !errors.Is(err, boom) {
		t.Fatalf("expected start error, got %v", err)
	}
}

func TestRun_OpenError(t *testing.T) {
	src := &scriptedSource{steps: []pollStep{{status: Status{State: domain.JobCompleted, URL: "https://x"}}}}
	boom := errors.New("403")
	p, _ := newTestPoller(src, &stubOpener{err: boom}, DefaultPolicy)

	if _, _, err := p.Run(context.Background(), "q"); !errors.Is(err, boom) {
		t.Fatalf("expected open error, got %v", err)
	}
}
