package cache

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestGetOrComputeHit(t *testing.T) {
	c := New[string]()
	calls := 0
	compute := func() (string, error) {
		calls++
		return "value", nil
	}

	for i := 0; i < 3; i++ {
		got, err := c.GetOrCompute("get_current_price:TSLA", 30*time.Second, compute)
		if err != nil {
			t.Fatalf("GetOrCompute: %v", err)
		}
		if got != "value" {
			t.Errorf("got %q", got)
		}
	}
	if calls != 1 {
		t.Errorf("compute should run once within the TTL window, ran %d times", calls)
	}
}

func TestExpiryTriggersRecompute(t *testing.T) {
	c := New[int]()
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	calls := 0
	compute := func() (int, error) {
		calls++
		return calls, nil
	}

	if v, _ := c.GetOrCompute("k", 30*time.Second, compute); v != 1 {
		t.Fatalf("first compute: %d", v)
	}

	now = now.Add(29 * time.Second)
	if v, _ := c.GetOrCompute("k", 30*time.Second, compute); v != 1 {
		t.Errorf("entry expired early: %d", v)
	}

	now = now.Add(2 * time.Second)
	if v, _ := c.GetOrCompute("k", 30*time.Second, compute); v != 2 {
		t.Errorf("expired entry should recompute exactly once, got %d", v)
	}
	if calls != 2 {
		t.Errorf("expected 2 computations, got %d", calls)
	}
}

func TestErrorsNotCached(t *testing.T) {
	c := New[string]()
	calls := 0
	failing := func() (string, error) {
		calls++
		return "", errors.New("upstream down")
	}

	if _, err := c.GetOrCompute("k", time.Minute, failing); err == nil {
		t.Fatal("expected error")
	}
	if _, err := c.GetOrCompute("k", time.Minute, failing); err == nil {
		t.Fatal("expected error on retry")
	}
	if calls != 2 {
		t.Errorf("failures must not be cached, compute ran %d times", calls)
	}

	ok := func() (string, error) { return "recovered", nil }
	if v, _ := c.GetOrCompute("k", time.Minute, ok); v != "recovered" {
		t.Errorf("recovery value not stored: %q", v)
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := New[int]()
	var wg sync.WaitGroup
	keys := []string{"a", "b", "c", "d"}

	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := keys[i%len(keys)]
			v, err := c.GetOrCompute(key, time.Minute, func() (int, error) {
				return len(key), nil
			})
			if err != nil || v != 1 {
				t.Errorf("key %s: v=%d err=%v", key, v, err)
			}
		}(i)
	}
	wg.Wait()

	if c.Len() != len(keys) {
		t.Errorf("expected %d entries, got %d", len(keys), c.Len())
	}
}

func TestPurge(t *testing.T) {
	c := New[string]()
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	c.GetOrCompute("short", time.Second, func() (string, error) { return "s", nil })
	c.GetOrCompute("long", time.Hour, func() (string, error) { return "l", nil })

	now = now.Add(time.Minute)
	if removed := c.Purge(); removed != 1 {
		t.Errorf("expected 1 purged entry, got %d", removed)
	}
	if c.Len() != 1 {
		t.Errorf("expected 1 remaining entry, got %d", c.Len())
	}
}

func TestKey(t *testing.T) {
	if got := Key("get_average_price", "TSLA", "7"); got != "get_average_price:TSLA:7" {
		t.Errorf("unexpected key %q", got)
	}
	if Key("get_average_price", "TSLA", "7") == Key("get_average_price", "TSLA", "30") {
		t.Error("distinct arguments must produce distinct keys")
	}
}
