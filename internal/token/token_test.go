package token

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestStaticSource(t *testing.T) {
	s := NewStatic("cred-1")
	defer s.Destroy()

	ctx := context.Background()
	cred, err := s.Current(ctx)
	if err != nil || cred != "cred-1" {
		t.Fatalf("Current = %q, %v", cred, err)
	}
	cred, err = s.Refresh(ctx)
	if err != nil || cred != "cred-1" {
		t.Fatalf("Refresh = %q, %v", cred, err)
	}
}

func TestStaticEmptyCredential(t *testing.T) {
	s := NewStatic("")
	if _, err := s.Current(context.Background()); !errors.Is(err, ErrNoCredential) {
		t.Errorf("expected ErrNoCredential, got %v", err)
	}
}

func TestRefreshingSuccess(t *testing.T) {
	calls := 0
	r := NewRefreshing("old", func(ctx context.Context) (string, error) {
		calls++
		return "new", nil
	}, time.Second)
	defer r.Destroy()

	ctx := context.Background()
	cred, err := r.Refresh(ctx)
	if err != nil || cred != "new" {
		t.Fatalf("Refresh = %q, %v", cred, err)
	}
	if calls != 1 {
		t.Errorf("expected 1 refresh call, got %d", calls)
	}

	cred, err = r.Current(ctx)
	if err != nil || cred != "new" {
		t.Fatalf("Current after refresh = %q, %v", cred, err)
	}
}

func TestRefreshingFailureKeepsLastKnown(t *testing.T) {
	r := NewRefreshing("last-known", func(ctx context.Context) (string, error) {
		return "", errors.New("auth backend down")
	}, time.Second)
	defer r.Destroy()

	ctx := context.Background()
	if _, err := r.Refresh(ctx); err == nil {
		t.Fatal("expected refresh error")
	}

	cred, err := r.Current(ctx)
	if err != nil || cred != "last-known" {
		t.Fatalf("last known credential lost: %q, %v", cred, err)
	}
}

func TestRefreshNotifiesSubscribers(t *testing.T) {
	r := NewRefreshing("a", func(ctx context.Context) (string, error) {
		return "b", nil
	}, time.Second)
	defer r.Destroy()

	notified := 0
	cancel := r.Subscribe(func() { notified++ })

	if _, err := r.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if notified != 1 {
		t.Errorf("expected 1 notification, got %d", notified)
	}

	cancel()
	cancel() // safe to call twice

	if _, err := r.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if notified != 1 {
		t.Errorf("cancelled subscriber was notified, count %d", notified)
	}
}

func TestRefreshTimeoutBounds(t *testing.T) {
	r := NewRefreshing("seed", func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}, 50*time.Millisecond)
	defer r.Destroy()

	start := time.Now()
	_, err := r.Refresh(context.Background())
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("refresh took %v, timeout not applied", elapsed)
	}
}
