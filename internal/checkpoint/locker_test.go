package checkpoint

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestLockerSerializesSameThread(t *testing.T) {
	locker := NewLocker(time.Second)
	ctx := context.Background()

	if err := locker.Lock(ctx, "t1"); err != nil {
		t.Fatalf("first Lock: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		if err := locker.Lock(ctx, "t1"); err != nil {
			t.Errorf("second Lock: %v", err)
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second Lock acquired while first still held")
	case <-time.After(50 * time.Millisecond):
	}

	locker.Unlock("t1")

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second Lock never acquired after Unlock")
	}
	locker.Unlock("t1")
}

func TestLockerDistinctThreadsProceed(t *testing.T) {
	locker := NewLocker(100 * time.Millisecond)
	ctx := context.Background()

	if err := locker.Lock(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if err := locker.Lock(ctx, "b"); err != nil {
		t.Fatalf("Lock on a different thread blocked: %v", err)
	}
	locker.Unlock("a")
	locker.Unlock("b")
}

func TestLockerTimeout(t *testing.T) {
	locker := NewLocker(20 * time.Millisecond)
	ctx := context.Background()

	if err := locker.Lock(ctx, "t1"); err != nil {
		t.Fatal(err)
	}
	defer locker.Unlock("t1")

	if err := locker.Lock(ctx, "t1"); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("err = %v, want ErrLockTimeout", err)
	}
}

func TestLockerContextCancel(t *testing.T) {
	locker := NewLocker(time.Minute)

	if err := locker.Lock(context.Background(), "t1"); err != nil {
		t.Fatal(err)
	}
	defer locker.Unlock("t1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- locker.Lock(ctx, "t1") }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled waiter never returned")
	}
}

func TestLockerConcurrentCounter(t *testing.T) {
	locker := NewLocker(5 * time.Second)
	ctx := context.Background()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := locker.Lock(ctx, "t1"); err != nil {
				t.Errorf("Lock: %v", err)
				return
			}
			counter++
			locker.Unlock("t1")
		}()
	}
	wg.Wait()

	if counter != 20 {
		t.Errorf("counter = %d, want 20: lock did not serialize", counter)
	}
}
