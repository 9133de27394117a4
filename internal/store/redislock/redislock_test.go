package redislock

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T, opts ...Option) *Locker {
	t.Helper()
	addr := os.Getenv("LEDGER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set LEDGER_TEST_REDIS_ADDR to run redis lock tests")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(context.Background()).Err())
	prefix := fmt.Sprintf("ledger-test/%d/", time.Now().UnixNano())
	return New(client, prefix, opts...)
}

func TestLockExcludesConcurrentHolders(t *testing.T) {
	l := newTestLocker(t)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, "record/sales_entries/1")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}

func TestLockGivesUpAfterRetries(t *testing.T) {
	l := newTestLocker(t, WithRetry(time.Millisecond, 3))
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "busy")
	require.NoError(t, err)
	defer unlock()

	_, err = l.Lock(ctx, "busy")
	assert.ErrorIs(t, err, ErrNotObtained)
}
