package broadcast_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ingen.audio/ingen/internal/broadcast"
	"ingen.audio/ingen/internal/ingenlog"
)

type recordingClient struct {
	mu  sync.Mutex
	got []broadcast.Message
}

func (c *recordingClient) Send(m broadcast.Message) {
	c.mu.Lock()
	c.got = append(c.got, m)
	c.mu.Unlock()
}

func (c *recordingClient) messages() []broadcast.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]broadcast.Message(nil), c.got...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.True(t, cond(), "condition never became true")
}

func TestBroadcasterForwardsToRegisteredClients(t *testing.T) {
	b := broadcast.New(ingenlog.New(), 8)
	c := &recordingClient{}
	b.Register(c)

	go b.Run()
	defer b.Stop()

	require.True(t, b.Post(func(bc broadcast.Broadcast) {
		bc.Send(broadcast.PutMsg("", nil))
	}))

	waitFor(t, func() bool { return len(c.messages()) == 1 })
}

func TestBroadcasterUnregisterStopsDelivery(t *testing.T) {
	b := broadcast.New(ingenlog.New(), 8)
	c := &recordingClient{}
	b.Register(c)
	b.Unregister(c)

	go b.Run()
	defer b.Stop()

	require.True(t, b.Post(func(bc broadcast.Broadcast) {
		bc.Send(broadcast.PutMsg("", nil))
	}))

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, c.messages())
}

// The Broadcaster only re-checks its pending garbage list when a new
// entry arrives (or on Stop), so this test retires a first entry, advances
// the cycle counter past it, then retires a second (not-yet-ready) entry to
// trigger the sweep and confirms only the first was released.
func TestBroadcasterRetiresGarbageOnlyPastItsCycle(t *testing.T) {
	b := broadcast.New(ingenlog.New(), 8)
	go b.Run()
	defer b.Stop()

	var mu sync.Mutex
	var releasedFirst, releasedSecond bool

	require.True(t, b.Retire(5, func() {
		mu.Lock()
		releasedFirst = true
		mu.Unlock()
	}))

	b.AdvanceCycle(6)

	require.True(t, b.Retire(100, func() {
		mu.Lock()
		releasedSecond = true
		mu.Unlock()
	}))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return releasedFirst
	})
	mu.Lock()
	assert.False(t, releasedSecond)
	mu.Unlock()
}

func TestBroadcasterStopDrainsRemainingGarbage(t *testing.T) {
	b := broadcast.New(ingenlog.New(), 8)
	go b.Run()

	var released bool
	var mu sync.Mutex
	require.True(t, b.Retire(0, func() {
		mu.Lock()
		released = true
		mu.Unlock()
	}))

	b.Stop()
	mu.Lock()
	defer mu.Unlock()
	assert.True(t, released)
}
