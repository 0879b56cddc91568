package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentorial-chat/pkg/tasks"
)

type flakyProcessor struct {
	failures int
	calls    int
}

func (p *flakyProcessor) Process(context.Context, tasks.ResponseImportTask) error {
	p.calls++
	if p.calls <= p.failures {
		return errors.New("object store unavailable")
	}
	return nil
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func withoutBackoff(t *testing.T) {
	t.Helper()
	old := retryBackoff
	retryBackoff = 0
	t.Cleanup(func() { retryBackoff = old })
}

func TestProcessWithRetry_RecoversFromTransientFailures(t *testing.T) {
	withoutBackoff(t)
	mr, rdb := newTestRedis(t)
	p := &flakyProcessor{failures: 2}

	ok := processWithRetry(context.Background(), rdb, p, tasks.ResponseImportTask{ImportID: "imp-1"})

	assert.True(t, ok)
	assert.Equal(t, 3, p.calls)
	assert.False(t, mr.Exists(attemptsKey("imp-1")))
}

func TestProcessWithRetry_GivesUpAfterMaxAttempts(t *testing.T) {
	withoutBackoff(t)
	mr, rdb := newTestRedis(t)
	p := &flakyProcessor{failures: 100}

	ok := processWithRetry(context.Background(), rdb, p, tasks.ResponseImportTask{ImportID: "imp-2"})

	assert.True(t, ok)
	assert.Equal(t, maxAttempts, p.calls)
	got, err := mr.Get(attemptsKey("imp-2"))
	require.NoError(t, err)
	assert.Equal(t, "3", got)
}

func TestProcessWithRetry_ContinuesCountAcrossRestarts(t *testing.T) {
	withoutBackoff(t)
	mr, rdb := newTestRedis(t)
	require.NoError(t, mr.Set(attemptsKey("imp-3"), "2"))
	p := &flakyProcessor{failures: 100}

	ok := processWithRetry(context.Background(), rdb, p, tasks.ResponseImportTask{ImportID: "imp-3"})

	assert.True(t, ok)
	assert.Equal(t, 1, p.calls)
}

func TestProcessWithRetry_CountsLocallyWhenRedisIsDown(t *testing.T) {
	withoutBackoff(t)
	mr, rdb := newTestRedis(t)
	mr.Close()
	p := &flakyProcessor{failures: 100}

	ok := processWithRetry(context.Background(), rdb, p, tasks.ResponseImportTask{ImportID: "imp-4"})

	assert.True(t, ok)
	assert.Equal(t, maxAttempts, p.calls)
}

func TestProcessWithRetry_StopsWhenContextEnds(t *testing.T) {
	old := retryBackoff
	retryBackoff = time.Hour
	t.Cleanup(func() { retryBackoff = old })
	_, rdb := newTestRedis(t)
	p := &flakyProcessor{failures: 100}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	ok := processWithRetry(ctx, rdb, p, tasks.ResponseImportTask{ImportID: "imp-5"})

	assert.False(t, ok)
	assert.Equal(t, 1, p.calls)
}

func TestBrokerList(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, brokerList(" a:9092, ,b:9092 "))
	assert.Empty(t, brokerList(""))
}
