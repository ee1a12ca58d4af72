package replay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreClaimIsSingleUse(t *testing.T) {
	s := newMemoryStore()
	defer s.Close()
	ctx := context.Background()

	claimed, err := s.Claim(ctx, "jti-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed, "first claim must succeed")

	claimed, err = s.Claim(ctx, "jti-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed, "second claim of the same jti must be rejected as a replay")
}

func TestMemoryStoreClaimExpires(t *testing.T) {
	s := newMemoryStore()
	defer s.Close()
	ctx := context.Background()

	claimed, err := s.Claim(ctx, "jti-2", time.Millisecond)
	require.NoError(t, err)
	assert.True(t, claimed)

	time.Sleep(5 * time.Millisecond)

	claimed, err = s.Claim(ctx, "jti-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed, "claim must be reusable once the TTL has elapsed")
}

func TestMemoryStoreClaimConcurrentOnlyOneWins(t *testing.T) {
	s := newMemoryStore()
	defer s.Close()
	ctx := context.Background()

	const attempts = 50
	var wg sync.WaitGroup
	results := make([]bool, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			claimed, err := s.Claim(ctx, "jti-race", time.Minute)
			require.NoError(t, err)
			results[i] = claimed
		}(i)
	}
	wg.Wait()

	successCount := 0
	for _, c := range results {
		if c {
			successCount++
		}
	}
	assert.Equal(t, 1, successCount, "exactly one concurrent claim of the same jti must succeed")
}

func TestNewFallsBackWithoutEndpoint(t *testing.T) {
	s := New("")
	defer s.Close()
	_, isMemory := s.(*memoryStore)
	assert.True(t, isMemory)
}
