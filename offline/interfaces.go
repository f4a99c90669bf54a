package offline

import (
	"context"
	"errors"
	"fmt"

	"github.com/huykn/pos-sync/types"
)

// Dispatcher sends queued actions to the remote store.
type Dispatcher interface {
	// Token fetches a fresh anti-forgery token. One token is reused for a
	// whole drain pass.
	Token(ctx context.Context) (string, error)

	// Dispatch applies one action remotely. A non-nil error consumes a
	// retry unless it is an auth rejection (see IsAuthRejection).
	Dispatch(ctx context.Context, action types.MutationAction, token string) error
}

// Notifier is the user notification surface. Only aggregate counts are
// surfaced, never per-item detail.
type Notifier interface {
	// DrainFinished is called after every drain pass that had work.
	DrainFinished(result Result)

	// Offline is called on every connectivity transition with the current
	// number of pending actions.
	Offline(offline bool, pending int)
}

// StatusCoder is implemented by errors that carry a remote status code.
type StatusCoder interface {
	StatusCode() int
}

// ErrTokenRejected marks an anti-forgery or auth rejection regardless of
// transport.
var ErrTokenRejected = errors.New("anti-forgery token rejected")

// ErrDrainInProgress is returned when a drain is requested while another one
// is running.
var ErrDrainInProgress = errors.New("drain already in progress")

// ErrTokenFetch is returned when the pass token cannot be obtained. No
// action is attempted and no retry is consumed.
var ErrTokenFetch = errors.New("anti-forgery token fetch failed")

// ErrClosed is returned by operations on a closed Syncer.
var ErrClosed = errors.New("syncer is closed")

// IsAuthRejection reports whether err is an auth or anti-forgery rejection
// (401, 403 or 419), which is retried once with a refreshed token.
func IsAuthRejection(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTokenRejected) {
		return true
	}
	var sc StatusCoder
	if errors.As(err, &sc) {
		switch sc.StatusCode() {
		case 401, 403, 419:
			return true
		}
	}
	return false
}

// Result is the aggregate outcome of one drain pass.
type Result struct {
	// Succeeded counts actions applied and removed.
	Succeeded int

	// Failed counts actions whose dispatch failed this pass, both deferred
	// and evicted.
	Failed int

	// Evicted counts failed actions removed permanently.
	Evicted int

	// Pruned counts actions dropped for age or retry count before the pass.
	Pruned int

	// Remaining is the queue depth after the pass.
	Remaining int
}

// Attempted returns the number of actions dispatched in the pass.
func (r Result) Attempted() int { return r.Succeeded + r.Failed }

func (r Result) String() string {
	return fmt.Sprintf("%d synced, %d failed", r.Succeeded, r.Failed)
}

// LogNotifier reports drain results and connectivity through a logger.
type LogNotifier struct {
	Logger types.Logger
}

// DrainFinished logs the aggregate result.
func (n LogNotifier) DrainFinished(r Result) {
	if r.Failed > 0 {
		n.Logger.Warn("sync finished with failures", "synced", r.Succeeded, "failed", r.Failed, "remaining", r.Remaining)
		return
	}
	n.Logger.Info("sync finished", "synced", r.Succeeded, "remaining", r.Remaining)
}

// Offline logs the standing offline notice.
func (n LogNotifier) Offline(offline bool, pending int) {
	if offline {
		n.Logger.Warn("offline: changes will sync when the connection returns", "pending", pending)
		return
	}
	n.Logger.Info("back online", "pending", pending)
}
