package main

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestServe_StopsBeforeReturning(t *testing.T) {
	server := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	errChan := make(chan error, 1)
	go func() {
		errChan <- serve(ctx, server, zap.NewNop(), func() { close(stopped) })
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errChan:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("serve did not return after cancellation")
	}

	select {
	case <-stopped:
	default:
		t.Fatalf("expected stop functions to run before serve returned")
	}
}

func TestServe_ReturnsListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	// The address is taken, so ListenAndServe fails immediately.
	server := &http.Server{Addr: ln.Addr().String(), Handler: http.NotFoundHandler()}

	called := false
	err = serve(context.Background(), server, zap.NewNop(), func() { called = true })
	if err == nil {
		t.Fatalf("expected listen error")
	}
	if called {
		t.Fatalf("expected stop functions not to run when the server never started")
	}
}
