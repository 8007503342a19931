package netprobe

import (
	"net"
	"testing"
	"time"
)

func TestReachableAgainstLocalListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer func() { _ = ln.Close() }()

	p := TCPProber{Target: ln.Addr().String(), Timeout: time.Second}
	if !p.Reachable() {
		t.Fatalf("expected listener %s to be reachable", ln.Addr())
	}
}

func TestUnreachableReturnsFalse(t *testing.T) {
	// Reserved port with nothing listening; connection is refused immediately.
	p := TCPProber{Target: "127.0.0.1:1", Timeout: 500 * time.Millisecond}
	if p.Reachable() {
		t.Fatalf("expected closed port to be unreachable")
	}
}

func TestDefaultsApplied(t *testing.T) {
	p := Default()
	if p.Target != DefaultTarget || p.Timeout != DefaultTimeout {
		t.Fatalf("unexpected defaults: %+v", p)
	}
}
