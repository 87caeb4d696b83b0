package cache

import (
	"sync"
	"testing"
	"time"
)

func TestGetWithinTTL(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c := New[string](time.Minute).WithClock(func() time.Time { return now })

	c.Put("aws_stepfunctions:15", "overview", now)
	if v, ok := c.Get("aws_stepfunctions:15"); !ok || v != "overview" {
		t.Fatalf("expected a fresh hit, got %q, %v", v, ok)
	}

	now = now.Add(59 * time.Second)
	if _, ok := c.Get("aws_stepfunctions:15"); !ok {
		t.Fatalf("expected a hit just before expiry")
	}

	now = now.Add(time.Second)
	if _, ok := c.Get("aws_stepfunctions:15"); ok {
		t.Fatalf("expected a miss at expiry")
	}
}

func TestKeysAreIndependent(t *testing.T) {
	now := time.Now()
	c := New[int](time.Minute).WithClock(func() time.Time { return now })
	c.Put("a:15", 1, now)
	c.Put("a:20", 2, now)

	if v, _ := c.Get("a:15"); v != 1 {
		t.Fatalf("expected 1, got %d", v)
	}
	if v, _ := c.Get("a:20"); v != 2 {
		t.Fatalf("expected 2, got %d", v)
	}
	if _, ok := c.Get("b:15"); ok {
		t.Fatalf("unexpected hit for unknown key")
	}
}

func TestPutEvictsExpired(t *testing.T) {
	now := time.Now()
	c := New[int](time.Second).WithClock(func() time.Time { return now })
	c.Put("old", 1, now)
	now = now.Add(2 * time.Second)
	c.Put("new", 2, now)
	if c.Len() != 1 {
		t.Fatalf("expected expired entry to be evicted, have %d", c.Len())
	}
}

func TestDefaultTTL(t *testing.T) {
	if c := New[int](0); c.ttl != DefaultTTL {
		t.Fatalf("expected default ttl, got %s", c.ttl)
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := New[int](time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Put("k", i, time.Now())
			c.Get("k")
		}(i)
	}
	wg.Wait()
	if _, ok := c.Get("k"); !ok {
		t.Fatalf("expected a value after concurrent puts")
	}
}
