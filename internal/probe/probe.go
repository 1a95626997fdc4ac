package probe

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

const (
	// protocolICMP is the IANA protocol number for ICMPv4.
	protocolICMP = 1

	defaultTimeout = 3 * time.Second
	maxReplySize   = 1500
)

// Prober reports whether a host answers on the network.
type Prober interface {
	// Probe returns nil when the host is reachable. A non-nil error
	// means the host did not answer within the prober's timeout.
	Probe(ctx context.Context, host string) error
}

// ICMPProber checks host liveness with an ICMP echo request.
//
// It first tries an unprivileged datagram ICMP socket (udp4), which works
// on Linux when net.ipv4.ping_group_range permits it, and falls back to a
// raw socket when the datagram socket is unavailable. If neither socket
// can be opened it degrades to a TCP connect probe against port 80, which
// all supported device firmwares expose during provisioning.
type ICMPProber struct {
	timeout time.Duration
}

// NewICMPProber creates a prober with the given per-probe timeout.
// A zero timeout selects the default of 3 seconds.
func NewICMPProber(timeout time.Duration) *ICMPProber {
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &ICMPProber{timeout: timeout}
}

var _ Prober = (*ICMPProber)(nil)

// Probe sends an echo request to host and waits for any ICMP reply.
func (p *ICMPProber) Probe(ctx context.Context, host string) error {
	ip := net.ParseIP(host)
	if ip == nil || ip.To4() == nil {
		return fmt.Errorf("probe: invalid IPv4 address %q", host)
	}

	deadline := time.Now().Add(p.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	conn, dst, err := openEcho(ip)
	if err != nil {
		// No ICMP socket available (unprivileged container, seccomp).
		return tcpProbe(ctx, host, deadline)
	}
	defer conn.Close()

	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{
			ID:   os.Getpid() & 0xffff,
			Seq:  1,
			Data: []byte("domoprov"),
		},
	}
	wire, err := msg.Marshal(nil)
	if err != nil {
		return fmt.Errorf("probe: marshal echo request: %w", err)
	}

	if _, err := conn.WriteTo(wire, dst); err != nil {
		return fmt.Errorf("probe: send to %s: %w", host, err)
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return fmt.Errorf("probe: set deadline: %w", err)
	}

	buf := make([]byte, maxReplySize)
	for {
		n, peer, err := conn.ReadFrom(buf)
		if err != nil {
			return fmt.Errorf("probe: no reply from %s: %w", host, err)
		}

		reply, err := icmp.ParseMessage(protocolICMP, buf[:n])
		if err != nil {
			continue
		}
		if reply.Type != ipv4.ICMPTypeEchoReply {
			continue
		}
		if peerIP(peer) != host {
			continue
		}
		return nil
	}
}

// openEcho opens an ICMP socket, preferring the unprivileged datagram
// variant, and returns the connection with the matching destination addr.
func openEcho(ip net.IP) (*icmp.PacketConn, net.Addr, error) {
	if conn, err := icmp.ListenPacket("udp4", "0.0.0.0"); err == nil {
		return conn, &net.UDPAddr{IP: ip}, nil
	}

	conn, err := icmp.ListenPacket("ip4:icmp", "0.0.0.0")
	if err != nil {
		return nil, nil, err
	}
	return conn, &net.IPAddr{IP: ip}, nil
}

// tcpProbe falls back to a plain TCP connect on port 80.
func tcpProbe(ctx context.Context, host string, deadline time.Time) error {
	dialer := net.Dialer{Deadline: deadline}

	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, "80"))
	if err != nil {
		return fmt.Errorf("probe: %s unreachable: %w", host, err)
	}
	conn.Close()
	return nil
}

func peerIP(addr net.Addr) string {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return a.IP.String()
	case *net.IPAddr:
		return a.IP.String()
	default:
		return addr.String()
	}
}
