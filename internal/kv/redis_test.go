package kv

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	return NewRedis(mr.Addr()), mr
}

func TestRedisPutGetDelete(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRedis(t)

	if err := r.Put(ctx, "a", []byte("one"), 0); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	got, err := r.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "one" {
		t.Fatalf("Get() = %q, want one", got)
	}
	if err := r.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := r.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() after delete error = %v, want ErrNotFound", err)
	}
}

func TestRedisTTLExpiry(t *testing.T) {
	ctx := context.Background()
	r, mr := newTestRedis(t)

	if err := r.Put(ctx, "a", []byte("one"), time.Minute); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if _, err := r.Get(ctx, "a"); err != nil {
		t.Fatalf("Get() before expiry error = %v", err)
	}

	mr.FastForward(time.Minute + time.Second)
	if _, err := r.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() after expiry error = %v, want ErrNotFound", err)
	}
}

func TestRedisListPrefix(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRedis(t)

	_ = r.Put(ctx, "session:r1:a", []byte("1"), 0)
	_ = r.Put(ctx, "session:r1:b", []byte("2"), 0)
	_ = r.Put(ctx, "action:r1:1", []byte("3"), 0)

	keys, err := r.List(ctx, "session:r1:")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "session:r1:a" || keys[1] != "session:r1:b" {
		t.Fatalf("List() = %v, want [session:r1:a session:r1:b]", keys)
	}
}
