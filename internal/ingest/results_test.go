package ingest

import (
	"context"
	"testing"
	"time"
)

func TestResultCache_PutGet(t *testing.T) {
	cache := NewResultCache(time.Hour)
	cache.Put(JobResult{JobID: 1, RequestID: "req-1", Status: JobStatusCompleted, Progress: 100})

	res, ok := cache.Get("req-1")
	if !ok {
		t.Fatal("expected a cached result")
	}
	if res.JobID != 1 || res.Status != JobStatusCompleted || res.Progress != 100 {
		t.Errorf("unexpected result: %+v", res)
	}
	if _, ok := cache.Get("req-unknown"); ok {
		t.Error("expected a miss for an unknown request id")
	}
}

func TestResultCache_Expiry(t *testing.T) {
	cache := NewResultCache(time.Minute)
	now := time.Now()
	cache.nowFunc = func() time.Time { return now }
	cache.Put(JobResult{JobID: 1, RequestID: "req-1", Status: JobStatusCompleted})

	now = now.Add(30 * time.Second)
	if _, ok := cache.Get("req-1"); !ok {
		t.Fatal("entry must still be alive before the ttl")
	}

	now = now.Add(31 * time.Second)
	if _, ok := cache.Get("req-1"); ok {
		t.Fatal("entry must expire after the ttl")
	}
	if cache.Len() != 0 {
		t.Errorf("expired entry must be dropped on read, have %d", cache.Len())
	}
}

func TestResultCache_EvictExpired(t *testing.T) {
	cache := NewResultCache(time.Minute)
	now := time.Now()
	cache.nowFunc = func() time.Time { return now }
	cache.Put(JobResult{JobID: 1, RequestID: "req-1"})
	cache.Put(JobResult{JobID: 2, RequestID: "req-2"})
	now = now.Add(2 * time.Minute)
	cache.Put(JobResult{JobID: 3, RequestID: "req-3"})

	if n := cache.EvictExpired(); n != 2 {
		t.Errorf("expected 2 evictions, got %d", n)
	}
	if _, ok := cache.Get("req-3"); !ok {
		t.Error("fresh entry must survive the sweep")
	}
}

func TestResultCache_DefaultTTL(t *testing.T) {
	cache := NewResultCache(0)
	if cache.ttl != DefaultResultTTL {
		t.Errorf("expected default ttl %v, got %v", DefaultResultTTL, cache.ttl)
	}
}

func TestResultCache_StartCleanup(t *testing.T) {
	cache := NewResultCache(time.Millisecond)
	cache.Put(JobResult{JobID: 1, RequestID: "req-1"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cache.StartCleanup(ctx, 5*time.Millisecond)

	deadline := time.Now().Add(time.Second)
	for cache.Len() > 0 {
		if time.Now().After(deadline) {
			t.Fatal("cleanup never evicted the expired entry")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
