package notifications

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChannel records what it was sent.
type fakeChannel struct {
	mu       sync.Mutex
	messages [][]byte
	closed   bool
	full     bool
}

func (f *fakeChannel) Send(message []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || f.full {
		return false
	}
	f.messages = append(f.messages, message)
	return true
}

func (f *fakeChannel) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeChannel) received() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.messages...)
}

func TestPresenceRegistry_RegisterReplaces(t *testing.T) {
	p := NewPresenceRegistry(0)
	ctx := context.Background()
	first, second := &fakeChannel{}, &fakeChannel{}

	prev, err := p.Register(ctx, "alice", first)
	require.NoError(t, err)
	assert.Nil(t, prev)
	assert.True(t, p.Online("alice"))

	prev, err = p.Register(ctx, "alice", second)
	require.NoError(t, err)
	assert.Same(t, first, prev)
	assert.Equal(t, 1, p.Count())

	ch, ok := p.Lookup("alice")
	require.True(t, ok)
	assert.Same(t, second, ch)
}

func TestPresenceRegistry_StaleUnregisterKeepsNewer(t *testing.T) {
	p := NewPresenceRegistry(0)
	ctx := context.Background()
	old, current := &fakeChannel{}, &fakeChannel{}

	_, err := p.Register(ctx, "bob", old)
	require.NoError(t, err)
	_, err = p.Register(ctx, "bob", current)
	require.NoError(t, err)

	assert.False(t, p.Unregister(ctx, "bob", old))
	ch, ok := p.Lookup("bob")
	require.True(t, ok)
	assert.Same(t, current, ch)

	assert.True(t, p.Unregister(ctx, "bob", current))
	assert.False(t, p.Online("bob"))
	assert.Equal(t, 0, p.Count())

	assert.False(t, p.Unregister(ctx, "bob", current))
	assert.False(t, p.Unregister(ctx, "nobody", current))
}

func TestPresenceRegistry_Limit(t *testing.T) {
	p := NewPresenceRegistry(2)
	ctx := context.Background()

	_, err := p.Register(ctx, "a", &fakeChannel{})
	require.NoError(t, err)
	_, err = p.Register(ctx, "b", &fakeChannel{})
	require.NoError(t, err)

	_, err = p.Register(ctx, "c", &fakeChannel{})
	assert.ErrorIs(t, err, ErrChannelLimit)

	// replacing an existing identity is still allowed at the limit
	_, err = p.Register(ctx, "a", &fakeChannel{})
	assert.NoError(t, err)
}

func TestPresenceRegistry_ConcurrentChurn(t *testing.T) {
	p := NewPresenceRegistry(0)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("user-%d", i%10)
			ch := &fakeChannel{}
			if _, err := p.Register(ctx, id, ch); err != nil {
				return
			}
			p.Unregister(ctx, id, ch)
		}(i)
	}
	wg.Wait()

	online := 0
	for i := 0; i < 10; i++ {
		if p.Online(fmt.Sprintf("user-%d", i)) {
			online++
		}
	}
	assert.Equal(t, online, p.Count())
}

func TestPresenceRegistry_Shutdown(t *testing.T) {
	p := NewPresenceRegistry(0)
	ctx := context.Background()
	a, b := &fakeChannel{}, &fakeChannel{}
	_, _ = p.Register(ctx, "a", a)
	_, _ = p.Register(ctx, "b", b)

	p.Shutdown(ctx)

	assert.True(t, a.closed)
	assert.True(t, b.closed)
	assert.Equal(t, 0, p.Count())
	assert.False(t, p.Online("a"))
}
