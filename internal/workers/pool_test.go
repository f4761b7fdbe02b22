package workers

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolBoundsConcurrency(t *testing.T) {
	p := NewPool(2)
	var active, peak int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Do(context.Background(), func(context.Context) error {
				n := atomic.AddInt32(&active, 1)
				for {
					old := atomic.LoadInt32(&peak)
					if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&active, -1)
				return nil
			})
		}()
	}
	wg.Wait()
	if peak > 2 {
		t.Fatalf("peak concurrency %d exceeds pool size 2", peak)
	}
}

func TestPoolDoReturnsError(t *testing.T) {
	p := NewPool(1)
	want := errors.New("boom")
	if err := p.Do(context.Background(), func(context.Context) error { return want }); !errors.Is(err, want) {
		t.Fatalf("got %v", err)
	}
}

func TestPoolDoHonoursContextWhileWaiting(t *testing.T) {
	p := NewPool(1)
	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = p.Do(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.Do(ctx, func(context.Context) error { return nil }); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want deadline exceeded, got %v", err)
	}
	close(release)
}

func TestPoolShutdownDrains(t *testing.T) {
	p := NewPool(2)
	var done int32
	for i := 0; i < 3; i++ {
		err := p.Go(context.Background(), func(context.Context) error {
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&done, 1)
			return nil
		}, nil)
		if err != nil {
			t.Fatal(err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt32(&done) != 3 {
		t.Fatalf("shutdown returned before in-flight work finished: %d", done)
	}

	if err := p.Do(context.Background(), func(context.Context) error { return nil }); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("Do after shutdown: %v", err)
	}
	if err := p.Go(context.Background(), func(context.Context) error { return nil }, nil); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("Go after shutdown: %v", err)
	}
}

func TestPoolGoReportsErrors(t *testing.T) {
	p := NewPool(1)
	got := make(chan error, 1)
	_ = p.Go(context.Background(), func(context.Context) error { return errors.New("bad") }, func(err error) { got <- err })
	select {
	case err := <-got:
		if err.Error() != "bad" {
			t.Fatalf("got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("onErr not called")
	}
}
