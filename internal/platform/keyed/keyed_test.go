package keyed

import (
	"sync"
	"testing"
)

func TestLockSerializesSameKey(t *testing.T) {
	m := NewMutex()
	const workers = 32
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := m.Lock("user-1")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	if counter != workers {
		t.Fatalf("expected %d increments, got %d", workers, counter)
	}
}

func TestLockDistinctKeysDoNotBlock(t *testing.T) {
	m := NewMutex()
	unlockA := m.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB := m.Lock("b")
		unlockB()
		close(done)
	}()
	<-done
}

func TestIdleKeysAreReleased(t *testing.T) {
	m := NewMutex()
	unlock := m.Lock("transient")
	unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.locks) != 0 {
		t.Fatalf("expected no retained locks, got %d", len(m.locks))
	}
}
