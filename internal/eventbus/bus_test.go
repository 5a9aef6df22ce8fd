package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrefixSubscription(t *testing.T) {
	b := New()
	all, unsubAll := b.Subscribe(8)
	defer unsubAll()
	swaps, unsubSwaps := b.Subscribe(8, "swap.")
	defer unsubSwaps()

	Emit(b, TaskStarted, nil)
	Emit(b, SwapCreated, "id-1")

	e := <-all
	assert.Equal(t, TaskStarted, e.Type)
	assert.False(t, e.Time.IsZero())
	e = <-all
	assert.Equal(t, SwapCreated, e.Type)

	e = <-swaps
	assert.Equal(t, SwapCreated, e.Type)
	assert.Equal(t, "id-1", e.Data)
	select {
	case extra := <-swaps:
		t.Fatalf("unexpected event %q", extra.Type)
	case <-time.After(10 * time.Millisecond):
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	for i := 0; i < 5; i++ {
		Emit(b, SwapSkipped, i)
	}
	assert.Equal(t, uint64(4), Dropped(b))
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	_, ok := <-ch
	require.False(t, ok)
	Emit(b, SwapPaused, nil)
	Emit(nil, SwapPaused, nil)
}
