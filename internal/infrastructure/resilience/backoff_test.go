package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffSchedule(t *testing.T) {
	b := &Backoff{Initial: time.Second, Max: 10 * time.Second}
	s := b.Schedule()

	want := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		10 * time.Second,
		10 * time.Second,
	}
	for i, w := range want {
		assert.Equal(t, w, s.NextBackOff(), "delay %d", i)
	}

	s.Reset()
	assert.Equal(t, time.Second, s.NextBackOff())
}

func TestBackoffJitterStaysInRange(t *testing.T) {
	b := &Backoff{Initial: time.Second, Max: time.Minute, Jitter: 0.25}

	for i := 0; i < 200; i++ {
		s := b.Schedule()
		s.NextBackOff()
		s.NextBackOff()
		d := s.NextBackOff()
		assert.GreaterOrEqual(t, d, 3*time.Second)
		assert.LessOrEqual(t, d, 5*time.Second)
	}
}

func TestBackoffZeroValues(t *testing.T) {
	b := &Backoff{}
	s := b.Schedule()
	assert.Equal(t, 100*time.Millisecond, s.NextBackOff())
	assert.Equal(t, 100*time.Millisecond, s.NextBackOff())
	assert.Equal(t, 100*time.Millisecond, b.StableAfter())
}

func TestBackoffStableAfter(t *testing.T) {
	tests := []struct {
		name string
		b    Backoff
		want time.Duration
	}{
		{name: "explicit", b: Backoff{Max: time.Minute, Stable: 5 * time.Second}, want: 5 * time.Second},
		{name: "max", b: Backoff{Initial: time.Second, Max: time.Minute}, want: time.Minute},
		{name: "initial only", b: Backoff{Initial: time.Second}, want: time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.b.StableAfter())
		})
	}
}

func TestDefaultBackoff(t *testing.T) {
	b := DefaultBackoff()
	assert.Equal(t, 500*time.Millisecond, b.Initial)
	assert.Equal(t, 30*time.Second, b.Max)

	s := b.Schedule()
	for i := 0; i < 100; i++ {
		assert.LessOrEqual(t, s.NextBackOff(), 36*time.Second)
	}
}
