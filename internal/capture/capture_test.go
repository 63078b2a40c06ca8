package capture_test

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/torqueshop/voicedesk/internal/capture"
	"github.com/torqueshop/voicedesk/pkg/audio"
	"github.com/torqueshop/voicedesk/pkg/audio/mock"
)

// frame100ms is 100 ms of 16 kHz mono PCM16.
const frame100ms = 3200

func tone(n int, amplitude int16) []byte {
	b := make([]byte, n)
	for i := 0; i+1 < n; i += 2 {
		binary.LittleEndian.PutUint16(b[i:], uint16(amplitude))
	}
	return b
}

func newController(t *testing.T, mic *mock.Microphone, cfg capture.Config) *capture.Controller {
	t.Helper()
	c, err := capture.New(mic, capture.WithConfig(cfg))
	if err != nil {
		t.Fatalf("capture.New: %v", err)
	}
	return c
}

func assertReleased(t *testing.T, mic *mock.Microphone, wantOpens int) {
	t.Helper()
	opens, closes := mic.Counts()
	if opens != wantOpens || closes != wantOpens {
		t.Errorf("mic opens=%d closes=%d, want %d each", opens, closes, wantOpens)
	}
	if held := mic.Held(); held != 0 {
		t.Errorf("mic still held by %d streams", held)
	}
}

func TestRecord_StopsAtCeiling(t *testing.T) {
	t.Parallel()

	mic := &mock.Microphone{Frames: [][]byte{tone(frame100ms, 0), tone(frame100ms, 0)}, Hold: true}
	c := newController(t, mic, capture.Config{MaxDuration: 50 * time.Millisecond})

	rec, err := c.Record(context.Background())
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if rec.Reason != capture.StopCeiling {
		t.Errorf("Reason = %q, want %q", rec.Reason, capture.StopCeiling)
	}
	if rec.SizeBytes != 2*frame100ms || len(rec.PCM) != rec.SizeBytes {
		t.Errorf("SizeBytes = %d (pcm %d), want %d", rec.SizeBytes, len(rec.PCM), 2*frame100ms)
	}
	if rec.Duration != 200*time.Millisecond {
		t.Errorf("Duration = %v, want 200ms", rec.Duration)
	}
	if rec.Format != (audio.Format{SampleRate: 16000, Channels: 1}) {
		t.Errorf("Format = %+v, want 16 kHz mono", rec.Format)
	}
	assertReleased(t, mic, 1)
}

func TestRecord_TooShort(t *testing.T) {
	t.Parallel()

	mic := &mock.Microphone{Frames: [][]byte{make([]byte, 200)}}
	c := newController(t, mic, capture.Config{})

	rec, err := c.Record(context.Background())
	if !errors.Is(err, capture.ErrTooShort) {
		t.Fatalf("Record err = %v, want ErrTooShort", err)
	}
	if rec.SizeBytes != 200 {
		t.Errorf("SizeBytes = %d, want 200", rec.SizeBytes)
	}
	if rec.Reason != capture.StopDevice {
		t.Errorf("Reason = %q, want %q", rec.Reason, capture.StopDevice)
	}
	assertReleased(t, mic, 1)
}

func TestStart_OpenErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		openErr error
		want    error
	}{
		{"permission", audio.ErrPermissionDenied, audio.ErrPermissionDenied},
		{"device", errors.New("no such device"), capture.ErrDeviceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			mic := &mock.Microphone{OpenErr: tt.openErr}
			c := newController(t, mic, capture.Config{})

			if _, err := c.Start(context.Background()); !errors.Is(err, tt.want) {
				t.Fatalf("Start err = %v, want %v", err, tt.want)
			}
			assertReleased(t, mic, 0)

			// A failed open must not leave the slot taken.
			mic.OpenErr = nil
			h, err := c.Start(context.Background())
			if err != nil {
				t.Fatalf("Start after failure: %v", err)
			}
			h.Cancel()
			assertReleased(t, mic, 1)
		})
	}
}

func TestStart_Busy(t *testing.T) {
	t.Parallel()

	mic := &mock.Microphone{Hold: true}
	c := newController(t, mic, capture.Config{MaxDuration: time.Minute})

	h, err := c.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := c.Start(context.Background()); !errors.Is(err, capture.ErrBusy) {
		t.Fatalf("second Start err = %v, want ErrBusy", err)
	}
	if held := mic.Held(); held != 1 {
		t.Fatalf("Held = %d, want 1", held)
	}

	h.Cancel()
	h2, err := c.Start(context.Background())
	if err != nil {
		t.Fatalf("Start after cancel: %v", err)
	}
	h2.Cancel()
	assertReleased(t, mic, 2)
}

func TestHandle_CancelDiscardsAudio(t *testing.T) {
	t.Parallel()

	mic := &mock.Microphone{Frames: [][]byte{tone(frame100ms, 3000)}, Hold: true}
	c := newController(t, mic, capture.Config{MaxDuration: time.Minute})

	h, err := c.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.Cancel()

	select {
	case <-h.Done():
	default:
		t.Fatal("Done not closed after Cancel returned")
	}
	if _, err := h.Stop(); !errors.Is(err, capture.ErrCancelled) {
		t.Errorf("Stop after Cancel err = %v, want ErrCancelled", err)
	}
	assertReleased(t, mic, 1)
}

func TestHandle_ExplicitStop(t *testing.T) {
	t.Parallel()

	mic := &mock.Microphone{Frames: [][]byte{tone(frame100ms, 3000)}, Hold: true}
	c := newController(t, mic, capture.Config{MaxDuration: time.Minute})

	h, err := c.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Give the collector a chance to buffer the frame.
	time.Sleep(20 * time.Millisecond)

	rec, err := h.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if rec.Reason != capture.StopExplicit {
		t.Errorf("Reason = %q, want %q", rec.Reason, capture.StopExplicit)
	}
	if rec.SizeBytes != frame100ms {
		t.Errorf("SizeBytes = %d, want %d", rec.SizeBytes, frame100ms)
	}

	// Stop is idempotent.
	again, err := h.Stop()
	if err != nil || again.SizeBytes != rec.SizeBytes {
		t.Errorf("second Stop = %d, %v; want %d, nil", again.SizeBytes, err, rec.SizeBytes)
	}
	assertReleased(t, mic, 1)
}

func TestRecord_ContextCancelReleases(t *testing.T) {
	t.Parallel()

	mic := &mock.Microphone{Frames: [][]byte{tone(frame100ms, 3000)}, Hold: true}
	c := newController(t, mic, capture.Config{MaxDuration: time.Minute})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := c.Record(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Record err = %v, want DeadlineExceeded", err)
	}
	assertReleased(t, mic, 1)
}

func TestRecord_SilenceAfterSpeech(t *testing.T) {
	t.Parallel()

	loud := tone(frame100ms, 8000)
	quiet := tone(frame100ms, 10)
	mic := &mock.Microphone{
		Frames: [][]byte{quiet, loud, loud, quiet, quiet, quiet, quiet, quiet},
		Hold:   true,
	}
	c := newController(t, mic, capture.Config{
		MaxDuration:      time.Minute,
		SilenceWindow:    200 * time.Millisecond,
		SilenceThreshold: 500,
	})

	rec, err := c.Record(context.Background())
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if rec.Reason != capture.StopSilence {
		t.Errorf("Reason = %q, want %q", rec.Reason, capture.StopSilence)
	}
	// Leading quiet does not count; the window closes after two quiet frames
	// following speech.
	if want := 5 * frame100ms; rec.SizeBytes != want {
		t.Errorf("SizeBytes = %d, want %d", rec.SizeBytes, want)
	}
	assertReleased(t, mic, 1)
}

func TestNew_NilMicrophone(t *testing.T) {
	t.Parallel()

	if _, err := capture.New(nil); err == nil {
		t.Fatal("New(nil) returned no error")
	}
}

func TestConfig_Defaults(t *testing.T) {
	t.Parallel()

	c := newController(t, &mock.Microphone{}, capture.Config{})
	cfg := c.Config()
	if cfg.MaxDuration != capture.DefaultMaxDuration {
		t.Errorf("MaxDuration = %v, want %v", cfg.MaxDuration, capture.DefaultMaxDuration)
	}
	if cfg.MinBytes != capture.DefaultMinBytes {
		t.Errorf("MinBytes = %d, want %d", cfg.MinBytes, capture.DefaultMinBytes)
	}
	if cfg.Format.SampleRate != capture.DefaultSampleRate || cfg.Format.Channels != 1 {
		t.Errorf("Format = %+v, want 16 kHz mono", cfg.Format)
	}
}
