package tlspump

import (
	"crypto/tls"
	"testing"
	"time"

	"github.com/albertbausili/tlsedge/internal/tlstest"
	"github.com/albertbausili/tlsedge/internal/transport"
)

// pumpUntil services the session like an event loop would until cond holds.
func pumpUntil(t *testing.T, s *Session, tr transport.Transport, want bool, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out pumping the session")
		}
		if _, err := ProcessWriteRead(s, tr, want); err != nil {
			t.Fatalf("ProcessWriteRead: %v", err)
		}
		time.Sleep(time.Millisecond)
	}
}

// handshake completes a TLS handshake between a fresh session and a client
// running on its own goroutine.
func handshake(t *testing.T) (*Session, *tlstest.Pipe, *tls.Conn) {
	t.Helper()
	serverCfg, clientCfg := tlstest.Configs(t)
	p := tlstest.NewPipe()
	s := NewSession(serverCfg)
	client := tls.Client(p.Client(), clientCfg)
	t.Cleanup(func() {
		p.Shutdown()
		s.Close()
	})

	errc := make(chan error, 1)
	go func() { errc <- client.Handshake() }()

	pumpUntil(t, s, p.Server(), true, s.HandshakeComplete)
	if _, err := ProcessWriteRead(s, p.Server(), false); err != nil {
		t.Fatalf("ProcessWriteRead after handshake: %v", err)
	}
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("client handshake: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("client handshake timed out")
	}
	return s, p, client
}
