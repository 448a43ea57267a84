package cache

import (
	"context"
	"os"
	"testing"
	"time"
)

func skipIfNoRedis(t *testing.T) {
	if os.Getenv("REDIS_TEST_ADDR") == "" {
		t.Skip("REDIS_TEST_ADDR not set, skipping Redis-backed read-through tests")
	}
}

func TestReadThroughEngine_GetEntry_CachesOnMiss(t *testing.T) {
	skipIfNoRedis(t)

	ctx := context.Background()
	inner := NewMemoryEngine(time.Minute)
	defer inner.Close()

	rt, err := NewReadThroughEngine(ctx, inner, RedisOptions{Addr: os.Getenv("REDIS_TEST_ADDR")})
	if err != nil {
		t.Fatalf("NewReadThroughEngine: %v", err)
	}
	defer rt.Close()

	ticket, err := inner.OpenNewTicket(ctx, "jobs", "job-1", time.Minute)
	if err != nil {
		t.Fatalf("OpenNewTicket: %v", err)
	}
	if _, err := inner.AddEntry(ctx, ticket.ID, "READY", []byte("v1")); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}

	first, err := rt.GetEntry(ctx, "jobs", "job-1")
	if err != nil {
		t.Fatalf("GetEntry (miss): %v", err)
	}
	if string(first.Value) != "v1" {
		t.Errorf("Value = %q, want v1", first.Value)
	}

	second, err := rt.GetEntry(ctx, "jobs", "job-1")
	if err != nil {
		t.Fatalf("GetEntry (hit): %v", err)
	}
	if string(second.Value) != "v1" {
		t.Errorf("Value = %q, want v1", second.Value)
	}
}

func TestReadThroughEngine_UpdateEntry_InvalidatesCache(t *testing.T) {
	skipIfNoRedis(t)

	ctx := context.Background()
	inner := NewMemoryEngine(time.Minute)
	defer inner.Close()

	rt, err := NewReadThroughEngine(ctx, inner, RedisOptions{Addr: os.Getenv("REDIS_TEST_ADDR")})
	if err != nil {
		t.Fatalf("NewReadThroughEngine: %v", err)
	}
	defer rt.Close()

	newTicket, err := inner.OpenNewTicket(ctx, "jobs", "job-2", time.Minute)
	if err != nil {
		t.Fatalf("OpenNewTicket: %v", err)
	}
	if _, err := inner.AddEntry(ctx, newTicket.ID, "READY", []byte("v1")); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}
	if _, err := rt.GetEntry(ctx, "jobs", "job-2"); err != nil {
		t.Fatalf("GetEntry: %v", err)
	}

	updateTicket, err := inner.OpenTicket(ctx, "jobs", "job-2", time.Minute)
	if err != nil {
		t.Fatalf("OpenTicket: %v", err)
	}
	if _, err := rt.UpdateEntry(ctx, updateTicket.ID, "RUNNING", []byte("v2")); err != nil {
		t.Fatalf("UpdateEntry: %v", err)
	}

	latest, err := rt.GetEntry(ctx, "jobs", "job-2")
	if err != nil {
		t.Fatalf("GetEntry after update: %v", err)
	}
	if string(latest.Value) != "v2" {
		t.Errorf("Value = %q, want v2 (cache should have been invalidated)", latest.Value)
	}
}
