//go:build !integration

package billing

import (
	"testing"
	"time"

	"recurring-billing/internal/domain"
)

func TestNewBackoffPolicy(t *testing.T) {
	t.Run("should reject an empty ladder", func(t *testing.T) {
		if _, err := NewBackoffPolicy(nil, time.Hour); err != domain.ErrInvalidArgument {
			t.Fatalf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("should reject non-positive durations", func(t *testing.T) {
		if _, err := NewBackoffPolicy([]time.Duration{time.Minute, 0}, time.Hour); err != domain.ErrInvalidArgument {
			t.Fatalf("expected ErrInvalidArgument, got %v", err)
		}
		if _, err := NewBackoffPolicy([]time.Duration{time.Minute}, 0); err != domain.ErrInvalidArgument {
			t.Fatalf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("should copy the ladder slice", func(t *testing.T) {
		steps := []time.Duration{time.Minute, time.Hour}
		p, err := NewBackoffPolicy(steps, time.Hour)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		steps[0] = 42 * time.Hour
		if got := p.DeclineDelay(2); got != time.Minute {
			t.Errorf("policy saw mutation of caller slice: got %v", got)
		}
	})
}

func TestBackoffPolicy_DeclineDelay(t *testing.T) {
	ladder := []time.Duration{15 * time.Minute, 6 * time.Hour, 6 * time.Hour, 6 * time.Hour, 6 * time.Hour}
	p, err := NewBackoffPolicy(ladder, 2*time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cases := []struct {
		name    string
		retries int
		want    time.Duration
	}{
		{"full ladder remaining picks the head step", 5, 15 * time.Minute},
		{"four retries left picks the second step", 4, 6 * time.Hour},
		{"last retry picks the tail step", 1, 6 * time.Hour},
		{"retries beyond the ladder clamp to the tail", 9, 6 * time.Hour},
		{"zero retries falls back to the tail", 0, 6 * time.Hour},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := p.DeclineDelay(tc.retries); got != tc.want {
				t.Errorf("DeclineDelay(%d) = %v, want %v", tc.retries, got, tc.want)
			}
		})
	}
}

func TestBackoffPolicy_TransportDelay(t *testing.T) {
	p, err := NewBackoffPolicy([]time.Duration{time.Minute}, 2*time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Fixed, independent of any retry count.
	if got := p.TransportDelay(); got != 2*time.Hour {
		t.Errorf("TransportDelay() = %v, want 2h", got)
	}
}
