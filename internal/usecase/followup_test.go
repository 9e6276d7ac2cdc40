package usecase_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/octup/sentinel/internal/config"
	"github.com/octup/sentinel/internal/domain"
	"github.com/octup/sentinel/internal/usecase"
)

func TestFollowUpQueue_FIFO(t *testing.T) {
	t.Parallel()
	q := usecase.NewFollowUpQueue(4)
	assert.True(t, q.Enqueue(domain.FollowUpTask{ExceptionID: "ex-1"}))
	assert.True(t, q.Enqueue(domain.FollowUpTask{ExceptionID: "ex-2"}))
	assert.Equal(t, 2, q.Len())

	task, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ex-1", task.ExceptionID)
	assert.Equal(t, 1, q.Len())
}

func TestFollowUpQueue_DropsWhenFull(t *testing.T) {
	t.Parallel()
	q := usecase.NewFollowUpQueue(2)
	assert.True(t, q.Enqueue(domain.FollowUpTask{ExceptionID: "ex-1"}))
	assert.True(t, q.Enqueue(domain.FollowUpTask{ExceptionID: "ex-2"}))
	assert.False(t, q.Enqueue(domain.FollowUpTask{ExceptionID: "ex-3"}), "a full queue drops, never blocks")
	assert.Equal(t, 2, q.Len())
}

func TestFollowUpQueue_DequeueHonorsContext(t *testing.T) {
	t.Parallel()
	q := usecase.NewFollowUpQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// runnerFixture wires a live runner over in-memory fakes and stops it with the
// test context.
func runnerFixture(t *testing.T) (*fakeExceptionRepo, *fakeExecutor, *usecase.ChanFollowUpQueue, func()) {
	t.Helper()
	repo := newFakeExceptionRepo()
	exec := &fakeExecutor{}
	queue := usecase.NewFollowUpQueue(16)
	cfg := testConfig()

	aic := &fakeAIClient{resolveFn: func(map[string]any, domain.ReasonCode) (domain.ResolutionAnalysis, error) {
		return confidentAnalysis(), nil
	}}
	exceptions := usecase.NewExceptionService(repo, aic, &fakePolicyStore{}, cfg)
	resolution := usecase.NewResolutionService(repo, aic, exec, queue, cfg)
	runner := usecase.NewFollowUpRunner(queue, exceptions, resolution, &fakeDLQRepo{}, 2, 3)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runner.Run(ctx)
		close(done)
	}()
	stop := func() {
		cancel()
		<-done
	}
	t.Cleanup(stop)
	return repo, exec, queue, stop
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func TestFollowUpRunner_DispatchesClassify(t *testing.T) {
	t.Parallel()
	repo, _, queue, _ := runnerFixture(t)
	ex := openException(t, repo, "t1", "o1", domain.ReasonPickDelay)

	queue.Enqueue(domain.FollowUpTask{Kind: domain.FollowUpClassify, Tenant: "t1", ExceptionID: ex.ID})
	waitFor(t, func() bool { return repo.get(ex.ID).AILabel != "" })
}

func TestFollowUpRunner_DispatchesResolution(t *testing.T) {
	t.Parallel()
	repo, exec, queue, _ := runnerFixture(t)
	ex := openException(t, repo, "t1", "o1", domain.ReasonPaymentFailed)

	queue.Enqueue(domain.FollowUpTask{Kind: domain.FollowUpResolution, Tenant: "t1", ExceptionID: ex.ID})
	waitFor(t, func() bool { return repo.get(ex.ID).Status == domain.StatusResolved })
	exec.mu.Lock()
	defer exec.mu.Unlock()
	assert.Len(t, exec.executed, 1)
}

func TestFollowUpRunner_DispatchesReview(t *testing.T) {
	t.Parallel()
	repo, _, queue, _ := runnerFixture(t)
	ex := openException(t, repo, "t1", "o1", domain.ReasonOther)

	queue.Enqueue(domain.FollowUpTask{Kind: domain.FollowUpReview, Tenant: "t1", ExceptionID: ex.ID})
	waitFor(t, func() bool {
		return strings.Contains(repo.get(ex.ID).OpsNote, "Manual review required")
	})
}

func TestFollowUpRunner_DeadLettersFailedClassify(t *testing.T) {
	t.Parallel()
	repo := newFakeExceptionRepo()
	dlq := &fakeDLQRepo{}
	queue := usecase.NewFollowUpQueue(16)
	cfg := testConfig()
	cfg.AIMode = config.AIModeFull

	// Full mode surfaces provider failures; the nil classify fn times out.
	aic := &fakeAIClient{}
	exceptions := usecase.NewExceptionService(repo, aic, &fakePolicyStore{}, cfg)
	resolution := usecase.NewResolutionService(repo, aic, &fakeExecutor{}, queue, cfg)
	runner := usecase.NewFollowUpRunner(queue, exceptions, resolution, dlq, 1, cfg.DLQMaxAttempts)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runner.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	ex := openException(t, repo, "t1", "o1", domain.ReasonPickDelay)
	queue.Enqueue(domain.FollowUpTask{
		Kind: domain.FollowUpClassify, Tenant: "t1", ExceptionID: ex.ID, CorrelationID: "corr-9",
	})
	waitFor(t, func() bool { return dlq.len() == 1 })

	items, err := dlq.FetchDue(context.Background(), "t1", 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, domain.OpAIAnalysis, items[0].SourceOperation)
	assert.Equal(t, "transient_dependency", items[0].ErrorClass)
	assert.Equal(t, "corr-9", items[0].CorrelationID)
	assert.NotEmpty(t, items[0].StackTrace)
	assert.Contains(t, string(items[0].Payload), ex.ID)
}

func TestFollowUpRunner_TaskFailureDoesNotStopWorkers(t *testing.T) {
	t.Parallel()
	repo, _, queue, _ := runnerFixture(t)
	ex := openException(t, repo, "t1", "o1", domain.ReasonPickDelay)

	// A task for a missing exception fails; the next one still runs.
	queue.Enqueue(domain.FollowUpTask{Kind: domain.FollowUpClassify, Tenant: "t1", ExceptionID: "missing"})
	queue.Enqueue(domain.FollowUpTask{Kind: domain.FollowUpKind("bogus"), Tenant: "t1", ExceptionID: ex.ID})
	queue.Enqueue(domain.FollowUpTask{Kind: domain.FollowUpClassify, Tenant: "t1", ExceptionID: ex.ID})
	waitFor(t, func() bool { return repo.get(ex.ID).AILabel != "" })
}
