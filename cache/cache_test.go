package cache

import (
	"errors"
	"testing"
	"time"
)

func TestCache_SetAndGet(t *testing.T) {
	c := NewCache(5*time.Minute, 0)
	defer c.Close()

	c.Set("key1", "value1")

	val, ok := c.Get("key1")
	if !ok {
		t.Error("Expected to find key1")
	}
	if val != "value1" {
		t.Errorf("Expected value1, got %v", val)
	}

	if _, ok = c.Get("nonexistent"); ok {
		t.Error("Should not find nonexistent key")
	}
}

func TestCache_SetWithTTL(t *testing.T) {
	c := NewCache(time.Hour, 0)
	defer c.Close()

	c.SetWithTTL("shortlived", "value", 50*time.Millisecond)
	if _, ok := c.Get("shortlived"); !ok {
		t.Error("Key should exist")
	}

	time.Sleep(80 * time.Millisecond)

	if _, ok := c.Get("shortlived"); ok {
		t.Error("Key should have expired with custom TTL")
	}

	// purge elimina físicamente lo expirado
	c.purge(time.Now())
	if c.Size() != 0 {
		t.Errorf("Expected empty cache after purge, got %d", c.Size())
	}
}

func TestCache_MaxEntries(t *testing.T) {
	c := NewCache(time.Hour, 2)
	defer c.Close()

	c.SetWithTTL("a", 1, time.Minute)
	c.SetWithTTL("b", 2, time.Hour)
	c.SetWithTTL("c", 3, time.Hour)

	if c.Size() != 2 {
		t.Fatalf("Expected 2 entries, got %d", c.Size())
	}
	if _, ok := c.Get("a"); ok {
		t.Error("Entry expiring first should have been evicted")
	}

	// sobrescribir una clave existente no desaloja
	c.Set("b", 20)
	if _, ok := c.Get("c"); !ok {
		t.Error("c should still be cached")
	}
}

func TestCache_DeleteAndClear(t *testing.T) {
	c := NewCache(time.Minute, 0)
	defer c.Close()

	c.Set("x", 1)
	c.Set("y", 2)
	c.Delete("x")
	if _, ok := c.Get("x"); ok {
		t.Error("x should be deleted")
	}
	c.Clear()
	if c.Size() != 0 {
		t.Error("Cache should be empty after Clear")
	}
}

func TestCache_GetOrCompute(t *testing.T) {
	c := NewCache(time.Minute, 0)
	defer c.Close()

	calls := 0
	compute := func() (interface{}, error) {
		calls++
		return "computed", nil
	}

	for i := 0; i < 3; i++ {
		val, err := c.GetOrCompute("k", compute)
		if err != nil || val != "computed" {
			t.Fatalf("unexpected result %v, %v", val, err)
		}
	}
	if calls != 1 {
		t.Errorf("compute should run once, ran %d times", calls)
	}

	_, err := c.GetOrCompute("bad", func() (interface{}, error) {
		return nil, errors.New("boom")
	})
	if err == nil {
		t.Error("Expected compute error")
	}
	if _, ok := c.Get("bad"); ok {
		t.Error("Errors must not be cached")
	}
}

func TestKeyFor(t *testing.T) {
	if KeyFor("ab", "c") == KeyFor("a", "bc") {
		t.Error("KeyFor must separate parts")
	}
	if KeyFor("x") != KeyFor("x") {
		t.Error("KeyFor must be stable")
	}
}

func TestCache_CloseTwice(t *testing.T) {
	c := NewCache(time.Minute, 0)
	c.Close()
	c.Close()
}
