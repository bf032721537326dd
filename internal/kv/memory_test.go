package kv

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"
)

func TestMemoryPutGetDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if err := m.Put(ctx, "a", []byte("one"), 0); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	got, err := m.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "one" {
		t.Fatalf("Get() = %q, want one", got)
	}
	if err := m.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := m.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() after delete error = %v, want ErrNotFound", err)
	}
}

func TestMemoryTTLExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	m := NewMemory().WithClock(func() time.Time { return now })

	if err := m.Put(ctx, "a", []byte("one"), time.Minute); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if _, err := m.Get(ctx, "a"); err != nil {
		t.Fatalf("Get() before expiry error = %v", err)
	}

	now = now.Add(time.Minute + time.Second)
	if _, err := m.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() after expiry error = %v, want ErrNotFound", err)
	}
}

func TestMemoryListPrefix(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	m := NewMemory().WithClock(func() time.Time { return now })

	_ = m.Put(ctx, "session:r1:a", []byte("1"), 0)
	_ = m.Put(ctx, "session:r1:b", []byte("2"), time.Minute)
	_ = m.Put(ctx, "session:r2:c", []byte("3"), 0)
	_ = m.Put(ctx, "action:r1:1", []byte("4"), 0)

	keys, err := m.List(ctx, "session:r1:")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "session:r1:a" || keys[1] != "session:r1:b" {
		t.Fatalf("List() = %v, want [session:r1:a session:r1:b]", keys)
	}

	now = now.Add(2 * time.Minute)
	keys, err = m.List(ctx, "session:r1:")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(keys) != 1 || keys[0] != "session:r1:a" {
		t.Fatalf("List() after expiry = %v, want [session:r1:a]", keys)
	}
}

func TestMemoryGetCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.Put(ctx, "a", []byte("one"), 0)
	got, _ := m.Get(ctx, "a")
	got[0] = 'X'
	again, _ := m.Get(ctx, "a")
	if string(again) != "one" {
		t.Fatalf("stored value mutated through Get result: %q", again)
	}
}
