package bridge

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlotReplacesPreviousObserver(t *testing.T) {
	var s slot[string]
	var first, second []string

	ctx1, detach1 := s.attach(context.Background(), func(v string) error {
		first = append(first, v)
		return nil
	})
	defer detach1()
	s.deliver("a")

	ctx2, detach2 := s.attach(context.Background(), func(v string) error {
		second = append(second, v)
		return nil
	})
	defer detach2()
	s.deliver("b")

	assert.Error(t, ctx1.Err(), "first observer should be cancelled")
	assert.NoError(t, ctx2.Err())
	assert.Equal(t, []string{"a"}, first)
	assert.Equal(t, []string{"b"}, second)
}

func TestSlotReplaysLastValue(t *testing.T) {
	s := slot[[]string]{replay: true}
	s.deliver([]string{"com.a", "com.b"})

	var got [][]string
	_, detach := s.attach(context.Background(), func(v []string) error {
		got = append(got, v)
		return nil
	})
	defer detach()

	require.Len(t, got, 1)
	assert.Equal(t, []string{"com.a", "com.b"}, got[0])
}

func TestSlotWithoutReplayStartsEmpty(t *testing.T) {
	var s slot[string]
	s.deliver("before")

	var got []string
	_, detach := s.attach(context.Background(), func(v string) error {
		got = append(got, v)
		return nil
	})
	defer detach()

	assert.Empty(t, got)
}

func TestSlotDropsFailingObserver(t *testing.T) {
	var s slot[string]
	calls := 0
	ctx, detach := s.attach(context.Background(), func(string) error {
		calls++
		return errors.New("gone")
	})
	defer detach()

	s.deliver("x")
	s.deliver("y")

	assert.Equal(t, 1, calls)
	assert.False(t, s.active())
	assert.Error(t, ctx.Err())
}

func TestSlotStaleDetachKeepsNewObserver(t *testing.T) {
	var s slot[string]
	_, detach1 := s.attach(context.Background(), func(string) error { return nil })
	_, detach2 := s.attach(context.Background(), func(string) error { return nil })
	defer detach2()

	detach1()
	assert.True(t, s.active())
}
