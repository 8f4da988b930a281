package lock

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

func testLocker(t *testing.T, l Locker) {
	t.Helper()
	ctx := context.Background()
	key := EntityKey("yt", "chan-"+uuid.NewString())

	release, err := l.Acquire(ctx, key)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	if _, err := l.Acquire(ctx, key); !errors.Is(err, ErrEntityBusy) {
		t.Fatalf("second Acquire() error = %v, want ErrEntityBusy", err)
	}

	other, err := l.Acquire(ctx, key+"-other")
	if err != nil {
		t.Fatalf("Acquire(other key) error = %v", err)
	}
	defer other(ctx)

	if err := release(ctx); err != nil {
		t.Fatalf("release() error = %v", err)
	}

	again, err := l.Acquire(ctx, key)
	if err != nil {
		t.Fatalf("Acquire() after release error = %v", err)
	}
	if err := again(ctx); err != nil {
		t.Fatalf("release() error = %v", err)
	}
}

func TestLocal(t *testing.T) {
	testLocker(t, NewLocal())
}

func TestLocalConcurrent(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		acquired atomic.Int32
		start    = make(chan struct{})
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := l.Acquire(ctx, "k"); err == nil {
				acquired.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := acquired.Load(); got != 1 {
		t.Errorf("acquired %d times, want 1", got)
	}
}

func TestLocalReleaseIsIdempotent(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	release, _ := l.Acquire(ctx, "k")
	_ = release(ctx)
	next, err := l.Acquire(ctx, "k")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	// A stale release must not free the new holder's lock.
	_ = release(ctx)
	if _, err := l.Acquire(ctx, "k"); !errors.Is(err, ErrEntityBusy) {
		t.Errorf("Acquire() error = %v, want ErrEntityBusy", err)
	}
	_ = next(ctx)
}

func TestKeys(t *testing.T) {
	if EntityKey("yt", "c1") == SourceKey("yt") {
		t.Error("entity and source keys collide")
	}
	if EntityKey("yt", "c1") == EntityKey("dg", "c1") {
		t.Error("entity keys ignore source")
	}
}

func TestRedis(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	client, err := NewRedisClient(ctx, url)
	if err != nil {
		t.Fatalf("NewRedisClient() error = %v", err)
	}
	defer client.Close()

	testLocker(t, NewRedis(client, time.Minute))

	t.Run("expires after ttl", func(t *testing.T) {
		l := NewRedis(client, 50*time.Millisecond)
		key := EntityKey("yt", uuid.NewString())
		if _, err := l.Acquire(ctx, key); err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
		time.Sleep(100 * time.Millisecond)
		release, err := l.Acquire(ctx, key)
		if err != nil {
			t.Fatalf("Acquire() after ttl error = %v", err)
		}
		_ = release(ctx)
	})

	t.Run("stale release keeps new holder", func(t *testing.T) {
		l := NewRedis(client, 50*time.Millisecond)
		key := EntityKey("yt", uuid.NewString())
		stale, _ := l.Acquire(ctx, key)
		time.Sleep(100 * time.Millisecond)
		fresh, err := NewRedis(client, time.Minute).Acquire(ctx, key)
		if err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
		_ = stale(ctx)
		if _, err := NewRedis(client, time.Minute).Acquire(ctx, key); !errors.Is(err, ErrEntityBusy) {
			t.Errorf("Acquire() error = %v, want ErrEntityBusy", err)
		}
		_ = fresh(ctx)
	})
}
