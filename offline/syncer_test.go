package offline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huykn/pos-sync/queue"
	"github.com/huykn/pos-sync/storage"
	"github.com/huykn/pos-sync/types"
)

type statusErr int

func (e statusErr) Error() string   { return fmt.Sprintf("status %d", int(e)) }
func (e statusErr) StatusCode() int { return int(e) }

type fakeDispatcher struct {
	mu       sync.Mutex
	calls    []types.MutationAction
	tokens   []string
	tokenN   int
	tokenErr error
	fail     func(a types.MutationAction, token string) error
	block    chan struct{}
	started  chan struct{}
}

func (f *fakeDispatcher) Token(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tokenErr != nil {
		return "", f.tokenErr
	}
	f.tokenN++
	return fmt.Sprintf("tok-%d", f.tokenN), nil
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, a types.MutationAction, token string) error {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, a)
	f.tokens = append(f.tokens, token)
	if f.fail != nil {
		return f.fail(a, token)
	}
	return nil
}

func (f *fakeDispatcher) callTypes() []types.ActionType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.ActionType, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.Type
	}
	return out
}

type recordingNotifier struct {
	mu       sync.Mutex
	results  []Result
	offlines []bool
}

func (n *recordingNotifier) DrainFinished(r Result) {
	n.mu.Lock()
	n.results = append(n.results, r)
	n.mu.Unlock()
}

func (n *recordingNotifier) Offline(offline bool, pending int) {
	n.mu.Lock()
	n.offlines = append(n.offlines, offline)
	n.mu.Unlock()
}

type harness struct {
	queue    *queue.Queue
	disp     *fakeDispatcher
	notifier *recordingNotifier
	syncer   *Syncer
	sleeps   []time.Duration
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	q, err := queue.New(storage.NewMemoryStore(), queue.DefaultOptions())
	require.NoError(t, err)
	h := &harness{queue: q, disp: &fakeDispatcher{}, notifier: &recordingNotifier{}}
	var mu sync.Mutex
	h.syncer = NewSyncer(q, h.disp, Options{
		Notifier: h.notifier,
		Sleep: func(ctx context.Context, d time.Duration) error {
			mu.Lock()
			h.sleeps = append(h.sleeps, d)
			mu.Unlock()
			return ctx.Err()
		},
	})
	t.Cleanup(func() { h.syncer.Close() })
	return h
}

func (h *harness) enqueue(t *testing.T, at types.ActionType) types.MutationAction {
	t.Helper()
	a, err := h.queue.Enqueue(at, map[string]string{"n": string(at)})
	require.NoError(t, err)
	return a
}

func TestDrainFailureFreeEmptiesQueueInOrder(t *testing.T) {
	h := newHarness(t)
	order := []types.ActionType{types.CreateOrder, types.AddItem, types.AddItem, types.CreatePayment, types.UpdateTableStatus}
	for _, at := range order {
		h.enqueue(t, at)
	}

	res, err := h.syncer.Drain(context.Background())
	require.NoError(t, err)

	assert.Equal(t, len(order), res.Succeeded)
	assert.Zero(t, res.Failed)
	assert.Zero(t, h.queue.Len())
	assert.Equal(t, order, h.disp.callTypes())
	assert.Equal(t, 1, h.disp.tokenN, "one token per pass")
	for _, tok := range h.disp.tokens {
		assert.Equal(t, "tok-1", tok)
	}
	require.Len(t, h.notifier.results, 1)
	assert.Equal(t, res, h.notifier.results[0])
}

func TestOfflineEnqueueThenReconnectDrainsOnce(t *testing.T) {
	h := newHarness(t)

	_, err := h.syncer.Submit(types.CreateOrder, types.CreateOrderPayload{OrderID: "local-1"})
	require.NoError(t, err)
	_, err = h.syncer.Submit(types.AddItem, types.ItemPayload{OrderID: "local-1", ProductID: "p-1", Quantity: 1})
	require.NoError(t, err)
	assert.Empty(t, h.disp.callTypes(), "nothing is dispatched while offline")

	h.syncer.SetOnline(true)
	h.syncer.Wait()

	assert.Equal(t, []types.ActionType{types.CreateOrder, types.AddItem}, h.disp.callTypes())
	assert.Zero(t, h.queue.Len())
	assert.Equal(t, []bool{false}, h.notifier.offlines)
}

func TestSetOnlineWithEmptyQueueDoesNotDrain(t *testing.T) {
	h := newHarness(t)
	h.syncer.SetOnline(true)
	h.syncer.Wait()
	assert.Zero(t, h.disp.tokenN)
	assert.Empty(t, h.notifier.results)

	h.syncer.SetOnline(true)
	assert.Equal(t, []bool{false}, h.notifier.offlines, "repeated state is not a transition")
	h.syncer.SetOnline(false)
	assert.Equal(t, []bool{false, true}, h.notifier.offlines)
}

func TestFailingActionDoesNotBlockRest(t *testing.T) {
	h := newHarness(t)
	bad := h.enqueue(t, types.CreatePayment)
	h.enqueue(t, types.UpdateTableStatus)
	h.disp.fail = func(a types.MutationAction, _ string) error {
		if a.ID == bad.ID {
			return statusErr(503)
		}
		return nil
	}

	res, err := h.syncer.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	assert.Zero(t, res.Evicted)
	assert.Equal(t, 1, res.Remaining)
	assert.Len(t, h.disp.calls, 2, "a failed action is not retried within the pass")

	list := h.queue.List()
	require.Len(t, list, 1)
	assert.Equal(t, bad.ID, list[0].ID)
	assert.Equal(t, 1, list[0].RetryCount)
	assert.Contains(t, list[0].LastError, "status")

	// Next pass waits backoff(1) before the retry.
	h.sleeps = nil
	_, err = h.syncer.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{h.queue.Policy().Backoff(1)}, h.sleeps)
	assert.Equal(t, 2, h.queue.List()[0].RetryCount)
}

func TestExhaustedActionIsEvicted(t *testing.T) {
	h := newHarness(t)
	a := h.enqueue(t, types.AdjustStock)
	for i := 0; i < h.queue.Policy().MaxRetry; i++ {
		h.queue.IncrementRetry(a.ID, nil)
	}
	h.disp.fail = func(types.MutationAction, string) error { return statusErr(500) }

	res, err := h.syncer.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Evicted)
	assert.Zero(t, h.queue.Len())
}

func TestExceededActionsPrunedBeforeProcessing(t *testing.T) {
	h := newHarness(t)
	a := h.enqueue(t, types.AdjustStock)
	for i := 0; i <= h.queue.Policy().MaxRetry; i++ {
		h.queue.IncrementRetry(a.ID, nil)
	}

	res, err := h.syncer.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pruned)
	assert.Empty(t, h.disp.calls)
	assert.Zero(t, h.disp.tokenN, "no token fetched for an empty snapshot")
}

func TestAuthRejectionRetriedOnceWithFreshToken(t *testing.T) {
	h := newHarness(t)
	h.enqueue(t, types.CreateOrder)
	h.enqueue(t, types.AddItem)
	h.disp.fail = func(a types.MutationAction, token string) error {
		if token == "tok-1" {
			return statusErr(419)
		}
		return nil
	}

	res, err := h.syncer.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, []string{"tok-1", "tok-2", "tok-2"}, h.disp.tokens, "the refreshed token is kept for the rest of the pass")
}

func TestSecondAuthRejectionIsPermanent(t *testing.T) {
	h := newHarness(t)
	h.enqueue(t, types.CreateOrder)
	h.disp.fail = func(types.MutationAction, string) error { return ErrTokenRejected }

	res, err := h.syncer.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Evicted)
	assert.Len(t, h.disp.calls, 2)
	assert.Zero(t, h.queue.Len())
}

func TestTokenFetchFailureConsumesNoRetry(t *testing.T) {
	h := newHarness(t)
	h.enqueue(t, types.CreateOrder)
	h.disp.tokenErr = errors.New("network down")

	_, err := h.syncer.Drain(context.Background())
	assert.ErrorIs(t, err, ErrTokenFetch)
	assert.Empty(t, h.disp.calls)
	assert.Zero(t, h.queue.List()[0].RetryCount)
}

func TestConcurrentDrainRejected(t *testing.T) {
	h := newHarness(t)
	h.enqueue(t, types.CreateOrder)
	h.disp.block = make(chan struct{})
	h.disp.started = make(chan struct{}, 1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.syncer.Drain(context.Background())
	}()
	<-h.disp.started
	assert.Equal(t, Draining, h.syncer.State())

	_, err := h.syncer.Drain(context.Background())
	assert.ErrorIs(t, err, ErrDrainInProgress)

	close(h.disp.block)
	<-done
	assert.Equal(t, Idle, h.syncer.State())
	assert.Zero(t, h.queue.Len())
}

func TestSubmitDuringDrainRunsAnotherPass(t *testing.T) {
	h := newHarness(t)
	h.disp.block = make(chan struct{})
	h.disp.started = make(chan struct{}, 4)
	h.syncer.SetOnline(true)

	_, err := h.syncer.Submit(types.CreateOrder, types.CreateOrderPayload{OrderID: "o-1"})
	require.NoError(t, err)
	<-h.disp.started
	assert.Equal(t, Draining, h.syncer.State())

	// Not in the running pass's snapshot.
	_, err = h.syncer.Submit(types.AddItem, types.ItemPayload{OrderID: "o-1", ProductID: "p-1", Quantity: 1})
	require.NoError(t, err)

	close(h.disp.block)
	require.Eventually(t, func() bool { return h.queue.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
	h.syncer.Wait()

	assert.Equal(t, []types.ActionType{types.CreateOrder, types.AddItem}, h.disp.callTypes())
	assert.Equal(t, Idle, h.syncer.State())
}

func TestDrainRequestedDuringManualPassIgnoredWhileOffline(t *testing.T) {
	h := newHarness(t)
	h.enqueue(t, types.CreateOrder)
	h.disp.block = make(chan struct{})
	h.disp.started = make(chan struct{}, 4)

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.syncer.Drain(context.Background())
	}()
	<-h.disp.started
	h.enqueue(t, types.AddItem)
	_, err := h.syncer.Drain(context.Background())
	assert.ErrorIs(t, err, ErrDrainInProgress)

	close(h.disp.block)
	<-done
	h.syncer.Wait()

	assert.Equal(t, []types.ActionType{types.CreateOrder}, h.disp.callTypes())
	assert.Equal(t, 1, h.queue.Len(), "offline: the queued action waits for the next transition")

	h.syncer.SetOnline(true)
	h.syncer.Wait()
	assert.Equal(t, []types.ActionType{types.CreateOrder, types.AddItem}, h.disp.callTypes())
}

func TestCancelledDrainLeavesRestQueued(t *testing.T) {
	h := newHarness(t)
	h.enqueue(t, types.CreateOrder)
	h.enqueue(t, types.AddItem)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.syncer.Drain(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, h.queue.Len())
	for _, a := range h.queue.List() {
		assert.Zero(t, a.RetryCount)
	}
}

func TestIsAuthRejection(t *testing.T) {
	assert.True(t, IsAuthRejection(statusErr(401)))
	assert.True(t, IsAuthRejection(statusErr(403)))
	assert.True(t, IsAuthRejection(statusErr(419)))
	assert.False(t, IsAuthRejection(statusErr(404)))
	assert.False(t, IsAuthRejection(statusErr(500)))
	assert.False(t, IsAuthRejection(nil))
	assert.True(t, IsAuthRejection(errors.Join(errors.New("x"), ErrTokenRejected)))
}

func TestSubmitAfterClose(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.syncer.Close())
	_, err := h.syncer.Submit(types.CreateOrder, nil)
	assert.ErrorIs(t, err, ErrClosed)
}
