package idgen

import (
	"strings"
	"sync"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewULIDParses(t *testing.T) {
	id := NewULID()
	_, err := ulid.Parse(id)
	require.NoError(t, err)
}

func TestNewULIDMonotonic(t *testing.T) {
	prev := NewULID()
	for i := 0; i < 1000; i++ {
		next := NewULID()
		assert.Greater(t, next, prev)
		prev = next
	}
}

func TestNewChannelIDUniqueUnderConcurrency(t *testing.T) {
	const n = 500
	var (
		mu   sync.Mutex
		seen = make(map[string]struct{}, n)
		wg   sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := NewChannelID()
			mu.Lock()
			seen[id] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, n)
	for id := range seen {
		assert.True(t, strings.HasPrefix(id, "ch_"))
	}
}
