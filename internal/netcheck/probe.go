package netcheck

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"
)

const defaultTimeout = 2 * time.Second

// Probe reports connectivity by opening a TCP connection to a known host.
type Probe struct {
	address string
	timeout time.Duration
	dialer  func(ctx context.Context, network, address string) (net.Conn, error)
}

// NewProbe checks address ("host:port"). An empty address reports online
// without dialing.
func NewProbe(address string, timeout time.Duration) *Probe {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	dialer := &net.Dialer{}
	return &Probe{
		address: strings.TrimSpace(address),
		timeout: timeout,
		dialer:  dialer.DialContext,
	}
}

func (p *Probe) IsConnected(ctx context.Context) (bool, error) {
	if p.address == "" {
		return true, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	conn, err := p.dialer(dialCtx, "tcp", p.address)
	if err != nil {
		return false, fmt.Errorf("no route to %s: %w", p.address, err)
	}
	_ = conn.Close()
	return true, nil
}
