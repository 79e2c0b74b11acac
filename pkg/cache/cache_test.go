package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/aishell/aish/pkg/command"
)

func TestPutGetRoundTrip(t *testing.T) {
	c := New(10, time.Hour)
	key := KeyFor("ls -la", "/tmp")
	res := command.Result{Command: "ls -la", ExitCode: 0, Stdout: "file.txt"}

	c.Put(key, res)
	got, ok := c.Get(key)
	if !ok {
		t.Fatal("expected cache hit")
	}
	if got != res {
		t.Errorf("cached result mutated: got %+v, want %+v", got, res)
	}
}

func TestKeyNormalization(t *testing.T) {
	if KeyFor("ls   -la", "/tmp") != KeyFor("ls -la", "/tmp") {
		t.Error("whitespace variants should share a key")
	}
	if KeyFor("ls -la", "/tmp") == KeyFor("ls -la", "/home") {
		t.Error("different working directories must not share a key")
	}
}

func TestTTLExpiryIsLazy(t *testing.T) {
	c := New(10, time.Minute)
	clock := time.Now()
	c.now = func() time.Time { return clock }

	key := KeyFor("cat notes", "/")
	c.Put(key, command.Result{Stdout: "hello"})

	clock = clock.Add(2 * time.Minute)
	if _, ok := c.Get(key); ok {
		t.Error("expired entry should miss")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry should be removed on Get, len = %d", c.Len())
	}
}

func TestLRUEviction(t *testing.T) {
	c := New(2, 0)
	a, b, d := KeyFor("a", ""), KeyFor("b", ""), KeyFor("d", "")

	c.Put(a, command.Result{Stdout: "a"})
	c.Put(b, command.Result{Stdout: "b"})
	c.Get(a) // a is now most recently used
	c.Put(d, command.Result{Stdout: "d"})

	if _, ok := c.Get(b); ok {
		t.Error("least recently used entry should have been evicted")
	}
	if _, ok := c.Get(a); !ok {
		t.Error("recently used entry should survive eviction")
	}
}

func TestSweepDropsOnlyExpired(t *testing.T) {
	c := New(10, time.Minute)
	clock := time.Now()
	c.now = func() time.Time { return clock }

	c.Put(KeyFor("old", ""), command.Result{})
	clock = clock.Add(30 * time.Second)
	c.Put(KeyFor("fresh", ""), command.Result{})
	clock = clock.Add(45 * time.Second)

	if dropped := c.Sweep(); dropped != 1 {
		t.Errorf("Sweep dropped %d, want 1", dropped)
	}
	if c.Len() != 1 {
		t.Errorf("len after sweep = %d, want 1", c.Len())
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := New(64, time.Hour)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := KeyFor("cmd", string(rune('a'+n)))
				c.Put(key, command.Result{ExitCode: n})
				c.Get(key)
			}
		}(i)
	}
	wg.Wait()
}
