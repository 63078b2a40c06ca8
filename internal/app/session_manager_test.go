package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/torqueshop/voicedesk/internal/app"
	"github.com/torqueshop/voicedesk/internal/capture"
	commitmock "github.com/torqueshop/voicedesk/internal/commit/mock"
	"github.com/torqueshop/voicedesk/internal/conversation"
	"github.com/torqueshop/voicedesk/internal/directory"
	"github.com/torqueshop/voicedesk/pkg/shop"
)

type silentSpeaker struct{}

func (silentSpeaker) Speak(ctx context.Context, _ string) error { return ctx.Err() }

// blockingRecorder never finishes a recording on its own.
type blockingRecorder struct{}

func (blockingRecorder) Record(ctx context.Context) (capture.Recording, error) {
	<-ctx.Done()
	return capture.Recording{}, context.Cause(ctx)
}

// instantRecorder returns a fixed recording immediately.
type instantRecorder struct{}

func (instantRecorder) Record(context.Context) (capture.Recording, error) {
	return capture.Recording{PCM: make([]byte, 3200), SizeBytes: 3200}, nil
}

// scriptTranscriber returns its lines in order.
type scriptTranscriber struct {
	mu    sync.Mutex
	lines []string
}

func (s *scriptTranscriber) Transcribe(context.Context, capture.Recording, []string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.lines) == 0 {
		return "", errors.New("script exhausted")
	}
	line := s.lines[0]
	s.lines = s.lines[1:]
	return line, nil
}

func managerDirectory() *directory.Snapshot {
	return directory.NewSnapshot(
		[]shop.Customer{{ID: "c1", Name: "John Smith"}},
		[]shop.Vehicle{{ID: "v1", CustomerID: "c1", Year: 2020, Make: "Honda", Model: "Accord"}},
	)
}

// factory builds sessions over rec; each session gets a fresh script.
func factory(rec conversation.Recorder, committer *commitmock.Committer, lines ...string) app.SessionFactory {
	return func(_ context.Context, mode shop.RecordKind) (*conversation.Session, error) {
		return conversation.New(conversation.Deps{
			Speaker:     silentSpeaker{},
			Recorder:    rec,
			Transcriber: &scriptTranscriber{lines: append([]string(nil), lines...)},
			Committer:   committer,
			Directory:   managerDirectory(),
		}, conversation.WithMode(mode))
	}
}

func waitFor(t *testing.T, sm *app.SessionManager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sm.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestSessionManager_StartRunsToCompletion(t *testing.T) {
	t.Parallel()

	committer := &commitmock.Committer{Receipt: shop.Receipt{ID: "r-1"}}
	sm := app.NewSessionManager(factory(instantRecorder{}, committer,
		"John Smith", "rotate tires one hour", "forty dollars", "no"))

	info, err := sm.Start(context.Background(), shop.KindInvoice)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if info.SessionID == "" || info.Mode != shop.KindInvoice || info.StartedAt.IsZero() {
		t.Errorf("info = %+v", info)
	}
	waitFor(t, sm)

	if sm.IsActive() {
		t.Error("still active after the session ended")
	}
	st, err := sm.Current()
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if st.Outcome == nil || st.Outcome.Step != conversation.StepComplete || st.Outcome.Receipt.ID != "r-1" {
		t.Errorf("outcome = %+v", st.Outcome)
	}
	calls := committer.Calls()
	if len(calls) != 1 || calls[0].Kind != shop.KindInvoice || calls[0].SessionID != info.SessionID {
		t.Errorf("commits = %+v", calls)
	}
	if got, ok := sm.Info(); !ok || got != info {
		t.Errorf("Info() = %+v, %v; want %+v", got, ok, info)
	}
}

func TestSessionManager_OneAtATime(t *testing.T) {
	t.Parallel()

	sm := app.NewSessionManager(factory(blockingRecorder{}, &commitmock.Committer{}))

	if _, err := sm.Start(context.Background(), shop.KindServiceLog); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !sm.IsActive() {
		t.Fatal("expected an active session")
	}
	if _, err := sm.Start(context.Background(), shop.KindServiceLog); !errors.Is(err, app.ErrSessionActive) {
		t.Errorf("second Start error = %v, want ErrSessionActive", err)
	}

	if err := sm.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	waitFor(t, sm)

	st, err := sm.Current()
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if st.Outcome == nil || st.Outcome.Step != conversation.StepCancelled {
		t.Errorf("outcome = %+v, want cancelled", st.Outcome)
	}

	// A finished session frees the slot.
	if _, err := sm.Start(context.Background(), shop.KindServiceLog); err != nil {
		t.Fatalf("Start after cancel: %v", err)
	}
	if err := sm.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if sm.IsActive() {
		t.Error("still active after Stop")
	}
}

func TestSessionManager_StartContextCancelDoesNotEndSession(t *testing.T) {
	t.Parallel()

	sm := app.NewSessionManager(factory(blockingRecorder{}, &commitmock.Committer{}))

	ctx, cancel := context.WithCancel(context.Background())
	if _, err := sm.Start(ctx, shop.KindServiceLog); err != nil {
		t.Fatalf("Start: %v", err)
	}
	cancel()
	time.Sleep(20 * time.Millisecond)
	if !sm.IsActive() {
		t.Error("session ended when the starting request's context was cancelled")
	}
	if err := sm.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestSessionManager_FactoryError(t *testing.T) {
	t.Parallel()

	boom := errors.New("no microphone")
	sm := app.NewSessionManager(func(context.Context, shop.RecordKind) (*conversation.Session, error) {
		return nil, boom
	})

	if _, err := sm.Start(context.Background(), shop.KindServiceLog); !errors.Is(err, boom) {
		t.Errorf("Start error = %v, want %v", err, boom)
	}
	if sm.IsActive() {
		t.Error("failed Start left the manager active")
	}
	if _, ok := sm.Info(); ok {
		t.Error("Info reports a session after a failed Start")
	}
}

func TestSessionManager_NoSession(t *testing.T) {
	t.Parallel()

	sm := app.NewSessionManager(factory(instantRecorder{}, &commitmock.Committer{}))

	if _, err := sm.Current(); !errors.Is(err, app.ErrNoSession) {
		t.Errorf("Current error = %v, want ErrNoSession", err)
	}
	if err := sm.Cancel(); !errors.Is(err, app.ErrNoSession) {
		t.Errorf("Cancel error = %v, want ErrNoSession", err)
	}
	if err := sm.Stop(context.Background()); err != nil {
		t.Errorf("Stop with no session: %v", err)
	}
}

func TestSessionManager_BuildDoesNotBlockStatus(t *testing.T) {
	t.Parallel()

	building := make(chan struct{})
	release := make(chan struct{})
	build := factory(blockingRecorder{}, &commitmock.Committer{})
	sm := app.NewSessionManager(func(ctx context.Context, mode shop.RecordKind) (*conversation.Session, error) {
		close(building)
		<-release
		return build(ctx, mode)
	})

	started := make(chan error, 1)
	go func() {
		_, err := sm.Start(context.Background(), shop.KindServiceLog)
		started <- err
	}()
	<-building

	// Status and cancel calls answer while the session is still being built.
	answered := make(chan struct{})
	go func() {
		defer close(answered)
		if sm.IsActive() {
			t.Error("IsActive() = true before the session was built")
		}
		if _, err := sm.Current(); !errors.Is(err, app.ErrNoSession) {
			t.Errorf("Current error = %v, want ErrNoSession", err)
		}
		if err := sm.Cancel(); !errors.Is(err, app.ErrNoSession) {
			t.Errorf("Cancel error = %v, want ErrNoSession", err)
		}
		if _, err := sm.Start(context.Background(), shop.KindServiceLog); !errors.Is(err, app.ErrSessionActive) {
			t.Errorf("concurrent Start error = %v, want ErrSessionActive", err)
		}
	}()
	select {
	case <-answered:
	case <-time.After(2 * time.Second):
		t.Fatal("status calls blocked behind session construction")
	}

	close(release)
	if err := <-started; err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !sm.IsActive() {
		t.Error("expected an active session after the build finished")
	}
	if err := sm.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
