package idgen

import (
	"sync"
	"testing"
)

func TestNewUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 10000; i++ {
		id := New()
		if id == "" {
			t.Fatal("empty id")
		}
		if seen[id] {
			t.Fatalf("duplicate id after %d generations: %s", i, id)
		}
		seen[id] = true
	}
}

func TestNewConcurrent(t *testing.T) {
	const perGoroutine = 1000
	var mu sync.Mutex
	seen := make(map[string]bool)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids := make([]string, 0, perGoroutine)
			for i := 0; i < perGoroutine; i++ {
				ids = append(ids, New())
			}
			mu.Lock()
			defer mu.Unlock()
			for _, id := range ids {
				if seen[id] {
					t.Errorf("duplicate id: %s", id)
					return
				}
				seen[id] = true
			}
		}()
	}
	wg.Wait()
}
