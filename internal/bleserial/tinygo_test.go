package bleserial

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestAwaitConnect(t *testing.T) {
	got, err := awaitConnect(context.Background(),
		func() (string, error) { return "link", nil },
		func(string) { t.Error("release called for a returned link") })
	if err != nil || got != "link" {
		t.Fatalf("awaitConnect() = %q, %v", got, err)
	}

	dialErr := errors.New("page timeout")
	if _, err := awaitConnect(context.Background(),
		func() (string, error) { return "", dialErr },
		func(string) {}); !errors.Is(err, dialErr) {
		t.Errorf("error = %v, want %v", err, dialErr)
	}
}

func TestAwaitConnectCancelledReleasesLateLink(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	proceed := make(chan struct{})
	released := make(chan string, 1)

	done := make(chan error, 1)
	go func() {
		_, err := awaitConnect(ctx,
			func() (string, error) { <-proceed; return "late", nil },
			func(d string) { released <- d })
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("awaitConnect did not return after cancel")
	}

	close(proceed)
	select {
	case d := <-released:
		if d != "late" {
			t.Errorf("released %q, want late", d)
		}
	case <-time.After(time.Second):
		t.Fatal("link established after cancel was not released")
	}
}

func TestAwaitConnectCancelledFailedDialNotReleased(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	proceed := make(chan struct{})
	dialed := make(chan struct{})

	_, err := awaitConnect(ctx,
		func() (string, error) { <-proceed; defer close(dialed); return "", errors.New("refused") },
		func(string) { t.Error("release called for a failed dial") })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	close(proceed)
	<-dialed
	time.Sleep(20 * time.Millisecond)
}
