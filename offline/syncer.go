// Package offline implements the sync drain loop: the sequential processor
// that flushes the mutation queue when connectivity returns.
package offline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/huykn/pos-sync/metrics"
	"github.com/huykn/pos-sync/queue"
	"github.com/huykn/pos-sync/types"
)

// State is the drain loop state.
type State int32

const (
	Idle State = iota
	Draining
)

func (s State) String() string {
	if s == Draining {
		return "draining"
	}
	return "idle"
}

// Options configures a Syncer.
type Options struct {
	// Notifier receives aggregate results and connectivity notices.
	// If nil, a LogNotifier over Logger is used.
	Notifier Notifier

	// Logger is the logger for debug logging.
	// If nil, defaults to no-op logger.
	Logger types.Logger

	// DebugMode enables per-action debug logging.
	DebugMode bool

	// Metrics records drain outcomes. May be nil.
	Metrics *metrics.Collector

	// OnError is called when a background drain fails as a whole.
	OnError func(error)

	// Sleep waits d or until ctx is done. Defaults to a timer wait.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Syncer drains a queue.Queue through a Dispatcher.
type Syncer struct {
	queue      *queue.Queue
	dispatcher Dispatcher
	opts       Options

	state  int32
	online int32
	closed int32
	// rerun is set when a drain was requested during a running pass.
	rerun int32

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSyncer creates a Syncer. It starts offline; call SetOnline(true) once
// connectivity is known.
func NewSyncer(q *queue.Queue, d Dispatcher, opts Options) *Syncer {
	if opts.Logger == nil {
		opts.Logger = types.NewNoOpLogger()
	}
	if opts.Notifier == nil {
		opts.Notifier = LogNotifier{Logger: opts.Logger}
	}
	if opts.Sleep == nil {
		opts.Sleep = sleep
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Syncer{
		queue:      q,
		dispatcher: d,
		opts:       opts,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// State returns the current drain state.
func (s *Syncer) State() State { return State(atomic.LoadInt32(&s.state)) }

// Online reports the last known connectivity.
func (s *Syncer) Online() bool { return atomic.LoadInt32(&s.online) == 1 }

// Pending returns the number of queued actions.
func (s *Syncer) Pending() int { return s.queue.Len() }

// Submit enqueues a user write. Writes are always queued first; when online
// a background drain is started right away.
func (s *Syncer) Submit(t types.ActionType, payload any) (types.MutationAction, error) {
	if atomic.LoadInt32(&s.closed) != 0 {
		return types.MutationAction{}, ErrClosed
	}
	a, err := s.queue.Enqueue(t, payload)
	if err != nil {
		return a, err
	}
	if s.Online() {
		s.trigger()
	}
	return a, nil
}

// SetOnline records connectivity. The offline to online transition starts a
// background drain when the queue is not empty.
func (s *Syncer) SetOnline(online bool) {
	var v int32
	if online {
		v = 1
	}
	if atomic.SwapInt32(&s.online, v) == v {
		return
	}
	pending := s.queue.Len()
	s.opts.Notifier.Offline(!online, pending)
	if online && pending > 0 {
		s.trigger()
	}
}

func (s *Syncer) trigger() {
	if atomic.LoadInt32(&s.closed) != 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.Drain(s.ctx); err != nil && err != ErrDrainInProgress {
			s.opts.Logger.Warn("sync: drain aborted", "error", err)
			if s.opts.OnError != nil {
				s.opts.OnError(err)
			}
		}
	}()
}

// Wait blocks until background drains have finished.
func (s *Syncer) Wait() { s.wg.Wait() }

// Close stops scheduling drains and waits for a running one. An in-flight
// dispatch is not aborted; only backoff sleeps observe the cancellation.
func (s *Syncer) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}
	s.cancel()
	s.wg.Wait()
	return nil
}

// Drain runs one pass over the queue. It returns ErrDrainInProgress if a
// pass is already running; the request is then remembered and, while
// online, one more pass runs in the background once the current one ends.
//
// The pass prunes expired and exceeded actions, snapshots the rest, fetches
// one token and attempts each action exactly once in FIFO order. A failure
// never blocks later actions; it is either evicted (retry budget spent) or
// left for the next pass with its retry count bumped.
func (s *Syncer) Drain(ctx context.Context) (Result, error) {
	if !atomic.CompareAndSwapInt32(&s.state, int32(Idle), int32(Draining)) {
		atomic.StoreInt32(&s.rerun, 1)
		// The running pass may have ended before the flag was set.
		if s.State() == Idle {
			s.rerunRequested()
		}
		return Result{}, ErrDrainInProgress
	}
	defer func() {
		atomic.StoreInt32(&s.state, int32(Idle))
		s.rerunRequested()
	}()

	var res Result
	res.Pruned = s.queue.PruneExpired() + s.queue.PruneExceeded()
	s.opts.Metrics.DrainAction(metrics.OutcomePruned, res.Pruned)

	snapshot := s.queue.List()
	if len(snapshot) == 0 {
		res.Remaining = 0
		s.opts.Metrics.DrainPass(0)
		return res, nil
	}

	token, err := s.dispatcher.Token(ctx)
	if err != nil {
		res.Remaining = len(snapshot)
		return res, fmt.Errorf("%w: %w", ErrTokenFetch, err)
	}

	policy := s.queue.Policy()
	for _, action := range snapshot {
		if err := s.opts.Sleep(ctx, policy.Backoff(action.RetryCount)); err != nil {
			// Cancelled between actions: the rest stay queued untouched.
			res.Remaining = s.queue.Len()
			s.finish(res)
			return res, err
		}

		permanent, err := s.dispatch(ctx, action, &token)
		if err == nil {
			s.queue.Remove(action.ID)
			res.Succeeded++
			if s.opts.DebugMode {
				s.opts.Logger.Debug("sync: applied", "id", action.ID, "type", action.Type)
			}
			continue
		}

		res.Failed++
		if permanent || policy.Exhausted(action) {
			s.queue.Remove(action.ID)
			res.Evicted++
			s.opts.Logger.Warn("sync: evicted action", "id", action.ID, "type", action.Type, "retries", action.RetryCount, "error", err)
			continue
		}
		s.queue.IncrementRetry(action.ID, err)
		if s.opts.DebugMode {
			s.opts.Logger.Debug("sync: deferred", "id", action.ID, "type", action.Type, "retries", action.RetryCount+1, "error", err)
		}
	}

	res.Remaining = s.queue.Len()
	s.finish(res)
	return res, nil
}

// rerunRequested starts a background pass for a drain requested while the
// previous one was running. Actions submitted then were not in its snapshot.
func (s *Syncer) rerunRequested() {
	if atomic.CompareAndSwapInt32(&s.rerun, 1, 0) && s.Online() {
		s.trigger()
	}
}

func (s *Syncer) finish(res Result) {
	s.opts.Metrics.DrainAction(metrics.OutcomeSucceeded, res.Succeeded)
	s.opts.Metrics.DrainAction(metrics.OutcomeEvicted, res.Evicted)
	s.opts.Metrics.DrainAction(metrics.OutcomeDeferred, res.Failed-res.Evicted)
	s.opts.Metrics.DrainPass(res.Remaining)
	s.opts.Notifier.DrainFinished(res)
}

// dispatch sends one action. An auth rejection is retried once with a
// refreshed token; a second rejection is permanent. The refreshed token
// replaces the pass token for the remaining actions.
func (s *Syncer) dispatch(ctx context.Context, action types.MutationAction, token *string) (permanent bool, err error) {
	err = s.dispatcher.Dispatch(ctx, action, *token)
	if !IsAuthRejection(err) {
		return false, err
	}

	fresh, terr := s.dispatcher.Token(ctx)
	if terr != nil {
		return false, err
	}
	*token = fresh
	err = s.dispatcher.Dispatch(ctx, action, fresh)
	return IsAuthRejection(err), err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
