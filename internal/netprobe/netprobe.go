package netprobe

import (
	"net"
	"time"
)

// Default reachability target and timeout. The target is a public DNS
// endpoint; the probe only needs the TCP handshake, no payload.
const (
	DefaultTarget  = "8.8.8.8:53"
	DefaultTimeout = 5 * time.Second
)

// Prober answers whether the network path to the remote store is worth
// trying. A false positive just costs one wasted request cycle downstream.
type Prober interface {
	Reachable() bool
}

// TCPProber dials Target once with Timeout and reports success.
type TCPProber struct {
	Target  string
	Timeout time.Duration
}

// Default returns a TCPProber with the package defaults.
func Default() TCPProber {
	return TCPProber{Target: DefaultTarget, Timeout: DefaultTimeout}
}

func (p TCPProber) Reachable() bool {
	target := p.Target
	if target == "" {
		target = DefaultTarget
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	conn, err := net.DialTimeout("tcp", target, timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
