package youtube

import (
	"sync"
	"testing"
	"time"
)

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	km := newKeyedMutex()

	var mu sync.Mutex
	active := 0
	maxActive := 0

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("same-hash")
			defer unlock()

			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Errorf("expected mutual exclusion per key, saw %d concurrent holders", maxActive)
	}
}

func TestKeyedMutex_DistinctKeysDoNotBlock(t *testing.T) {
	km := newKeyedMutex()

	unlockA := km.Lock("a")
	done := make(chan struct{})
	go func() {
		unlockB := km.Lock("b")
		unlockB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different key should not block")
	}
	unlockA()
}

func TestKeyedMutex_EntriesRemovedWhenIdle(t *testing.T) {
	km := newKeyedMutex()

	unlock := km.Lock("hash")
	unlock()

	km.mu.Lock()
	n := len(km.locks)
	km.mu.Unlock()
	if n != 0 {
		t.Errorf("expected empty lock table after release, got %d entries", n)
	}
}

func TestKeyedMutex_WaiterKeepsEntryAlive(t *testing.T) {
	km := newKeyedMutex()

	unlock1 := km.Lock("hash")

	acquired := make(chan func())
	go func() {
		acquired <- km.Lock("hash")
	}()

	// Give the second goroutine time to register as a waiter.
	time.Sleep(10 * time.Millisecond)
	unlock1()

	unlock2 := <-acquired
	unlock2()

	km.mu.Lock()
	n := len(km.locks)
	km.mu.Unlock()
	if n != 0 {
		t.Errorf("expected empty lock table after all holders release, got %d", n)
	}
}
