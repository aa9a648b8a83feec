package core

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_Bounds(t *testing.T) {
	t.Parallel()

	b := NewBackoff(time.Second, time.Second, 0, rand.NewSource(42))
	for k := 0; k <= 6; k++ {
		lower := time.Second * time.Duration(1<<k)
		upper := lower + time.Second
		for i := 0; i < 200; i++ {
			d := b.Delay(k)
			assert.GreaterOrEqual(t, d, lower, "retry %d", k)
			assert.Less(t, d, upper, "retry %d", k)
		}
	}
}

func TestBackoff_Deterministic(t *testing.T) {
	t.Parallel()

	a := NewBackoff(100*time.Millisecond, 50*time.Millisecond, 0, rand.NewSource(7))
	b := NewBackoff(100*time.Millisecond, 50*time.Millisecond, 0, rand.NewSource(7))
	for k := 0; k < 5; k++ {
		assert.Equal(t, a.Delay(k), b.Delay(k))
	}
}

func TestBackoff_NoJitter(t *testing.T) {
	t.Parallel()

	b := NewBackoff(time.Second, 0, 0, nil)
	tests := []struct {
		retry int
		want  time.Duration
	}{
		{-1, time.Second},
		{0, time.Second},
		{1, 2 * time.Second},
		{3, 8 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, b.Delay(tt.retry))
	}
}

func TestBackoff_Cap(t *testing.T) {
	t.Parallel()

	b := NewBackoff(time.Second, 0, 5*time.Second, nil)
	assert.Equal(t, 4*time.Second, b.Delay(2))
	assert.Equal(t, 5*time.Second, b.Delay(3))
	assert.Equal(t, 5*time.Second, b.Delay(30))
}

func TestBackoff_LargeRetryDoesNotOverflow(t *testing.T) {
	t.Parallel()

	b := NewBackoff(time.Hour, time.Second, 0, rand.NewSource(1))
	d := b.Delay(200)
	assert.Positive(t, d)
}
