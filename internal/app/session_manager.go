package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/torqueshop/voicedesk/internal/conversation"
	"github.com/torqueshop/voicedesk/pkg/shop"
)

var (
	// ErrSessionActive is returned by [SessionManager.Start] while another
	// session is still running.
	ErrSessionActive = errors.New("app: a session is already active")

	// ErrNoSession is returned when no session is running or has ever run.
	ErrNoSession = errors.New("app: no session")
)

// SessionFactory builds a ready-to-run conversation for mode. It is called
// once per [SessionManager.Start].
type SessionFactory func(ctx context.Context, mode shop.RecordKind) (*conversation.Session, error)

// SessionInfo describes the current or most recent session.
type SessionInfo struct {
	SessionID string          `json:"sessionId"`
	Mode      shop.RecordKind `json:"mode"`
	StartedAt time.Time       `json:"startedAt"`
}

// SessionManager runs at most one conversation at a time. It is safe for
// concurrent use.
type SessionManager struct {
	newSession SessionFactory

	mu       sync.Mutex
	active   bool
	starting bool // a Start is building its session outside mu
	current  *conversation.Session
	info     SessionInfo
	last     *conversation.Result
	done     chan struct{}
}

// NewSessionManager creates a manager that builds sessions with f.
func NewSessionManager(f SessionFactory) *SessionManager {
	return &SessionManager{newSession: f}
}

// Start builds a session and runs it in the background. The session outlives
// ctx's cancellation but keeps its values (trace, logger attributes); use
// [SessionManager.Cancel] or [SessionManager.Stop] to end it early.
func (sm *SessionManager) Start(ctx context.Context, mode shop.RecordKind) (SessionInfo, error) {
	sm.mu.Lock()
	if sm.active || sm.starting {
		sm.mu.Unlock()
		return SessionInfo{}, ErrSessionActive
	}
	sm.starting = true
	sm.mu.Unlock()

	// Building may refresh the directory; status and cancel calls must not
	// wait on it.
	sess, err := sm.newSession(ctx, mode)

	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.starting = false
	if err != nil {
		return SessionInfo{}, fmt.Errorf("app: build session: %w", err)
	}

	sm.active = true
	sm.current = sess
	sm.info = SessionInfo{
		SessionID: sess.ID(),
		Mode:      sess.Mode(),
		StartedAt: time.Now(),
	}
	done := make(chan struct{})
	sm.done = done

	runCtx := context.WithoutCancel(ctx)
	go func() {
		defer close(done)
		res := sess.Run(runCtx)
		sm.finish(sess, res)
	}()

	slog.Info("session started", "session_id", sm.info.SessionID, "mode", sm.info.Mode)
	return sm.info, nil
}

func (sm *SessionManager) finish(sess *conversation.Session, res conversation.Result) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.current != sess {
		return
	}
	sm.active = false
	sm.last = &res

	attrs := []any{"session_id", sess.ID(), "step", res.Step, "items", res.Snapshot.ItemCount()}
	if res.Receipt != nil {
		attrs = append(attrs, "record_id", res.Receipt.ID)
	}
	if res.Err != nil {
		attrs = append(attrs, "kind", conversation.Kind(res.Err).String(), "err", res.Err)
	}
	slog.Info("session ended", attrs...)
}

// Cancel cancels the running session. It returns [ErrNoSession] when none is
// active.
func (sm *SessionManager) Cancel() error {
	sm.mu.Lock()
	if !sm.active {
		sm.mu.Unlock()
		return ErrNoSession
	}
	sess := sm.current
	sm.mu.Unlock()

	sess.Cancel()
	return nil
}

// Wait blocks until the current session has ended or ctx is done. It returns
// immediately when no session is running.
func (sm *SessionManager) Wait(ctx context.Context) error {
	sm.mu.Lock()
	done := sm.done
	sm.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels the running session, if any, and waits for it to end.
func (sm *SessionManager) Stop(ctx context.Context) error {
	if err := sm.Cancel(); err != nil && !errors.Is(err, ErrNoSession) {
		return err
	}
	return sm.Wait(ctx)
}

// IsActive reports whether a session is running.
func (sm *SessionManager) IsActive() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.active
}

// Info returns the current or most recent session's metadata.
func (sm *SessionManager) Info() (SessionInfo, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.info, sm.current != nil
}

// Status is the view of the current or most recent session.
type Status struct {
	SessionInfo
	Active   bool                  `json:"active"`
	Snapshot conversation.Snapshot `json:"snapshot"`

	// Outcome is set once the session has ended.
	Outcome *Outcome `json:"outcome,omitempty"`
}

// Outcome summarises a finished session.
type Outcome struct {
	Step      conversation.Step `json:"step"`
	ErrorKind string            `json:"errorKind,omitempty"`
	Error     string            `json:"error,omitempty"`
	Receipt   *shop.Receipt     `json:"receipt,omitempty"`
}

// Current returns the status of the running session, or of the most recent
// one once it has ended. It returns [ErrNoSession] before the first Start.
func (sm *SessionManager) Current() (Status, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.current == nil {
		return Status{}, ErrNoSession
	}
	st := Status{SessionInfo: sm.info, Active: sm.active}
	if sm.active || sm.last == nil {
		st.Snapshot = sm.current.Snapshot()
		return st, nil
	}

	res := sm.last
	st.Snapshot = res.Snapshot
	st.Outcome = &Outcome{Step: res.Step, Receipt: res.Receipt}
	if res.Err != nil {
		st.Outcome.ErrorKind = conversation.Kind(res.Err).String()
		st.Outcome.Error = res.Err.Error()
	}
	return st, nil
}
