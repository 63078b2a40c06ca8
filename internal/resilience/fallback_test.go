package resilience

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

func newGroup(maxFailures int) *FallbackGroup[string] {
	fg := NewFallbackGroup("backend", "backend", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: maxFailures, ResetTimeout: time.Hour},
	})
	fg.AddFallback("whisper", "whisper")
	return fg
}

func TestFallbackGroup_Execute(t *testing.T) {
	tests := []struct {
		name     string
		fail     map[string]bool
		wantUsed string
		wantErr  error
	}{
		{name: "primary succeeds", wantUsed: "backend"},
		{name: "primary fails", fail: map[string]bool{"backend": true}, wantUsed: "whisper"},
		{name: "all fail", fail: map[string]bool{"backend": true, "whisper": true}, wantErr: ErrAllFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fg := newGroup(3)
			var used string
			err := fg.Execute(func(v string) error {
				if tt.fail[v] {
					return errTest
				}
				used = v
				return nil
			})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil && !errors.Is(err, errTest) {
				t.Errorf("err = %v, want last error wrapped", err)
			}
			if used != tt.wantUsed {
				t.Errorf("used = %q, want %q", used, tt.wantUsed)
			}
		})
	}
}

func TestFallbackGroup_SkipsOpenProvider(t *testing.T) {
	fg := newGroup(2)

	for i := 0; i < 2; i++ {
		_ = fg.Execute(func(v string) error {
			if v == "backend" {
				return errTest
			}
			return nil
		})
	}

	var tried []string
	_ = fg.Execute(func(v string) error {
		tried = append(tried, v)
		return nil
	})
	if !slices.Equal(tried, []string{"whisper"}) {
		t.Fatalf("tried = %v, want only whisper (primary circuit open)", tried)
	}
}

func TestFallbackGroup_CancelStopsWalk(t *testing.T) {
	fg := newGroup(3)

	var tried []string
	err := fg.Execute(func(v string) error {
		tried = append(tried, v)
		return context.Canceled
	})
	if !errors.Is(err, context.Canceled) || errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want bare context.Canceled", err)
	}
	if len(tried) != 1 {
		t.Fatalf("tried = %v, want a single attempt", tried)
	}
}

func TestExecuteWithResult_Failover(t *testing.T) {
	fg := NewFallbackGroup(10, "ten", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fg.AddFallback("twenty", 20)

	result, err := ExecuteWithResult(fg, func(v int) (string, error) {
		if v == 10 {
			return "", errTest
		}
		return "from-twenty", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "from-twenty" {
		t.Fatalf("result = %q, want from-twenty", result)
	}
	if got := fg.Names(); !slices.Equal(got, []string{"ten", "twenty"}) {
		t.Errorf("Names() = %v", got)
	}
}
