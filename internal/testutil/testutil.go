// Package testutil provides shared test helpers and capture fixtures.
package testutil

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/banshee-data/facecap/internal/mocap/protocol"
)

// WaitTimeout bounds WaitFor.
const WaitTimeout = 5 * time.Second

// WaitFor polls cond until it holds, failing the test after WaitTimeout.
func WaitFor(t testing.TB, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(WaitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t testing.TB, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// Serve runs a request without a body through h.
func Serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, target, nil))
	return w
}

// FreeTCPAddr returns a loopback address that was free a moment ago.
func FreeTCPAddr(t testing.TB) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

// Datagrams builds raw messages from one sender, spaced step apart from base.
func Datagrams(base time.Time, step time.Duration, sender string, texts ...string) []protocol.RawMessage {
	msgs := make([]protocol.RawMessage, len(texts))
	for i, text := range texts {
		msgs[i] = protocol.RawMessage{
			Text:     text,
			Sender:   sender,
			Received: base.Add(time.Duration(i) * step),
		}
	}
	return msgs
}
