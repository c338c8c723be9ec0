package spotter

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync/atomic"
	"time"
)

// Beacon announces a server. It sends a payload carrying the server's IPv4
// address every Interval, and an all-zero payload once when it stops so
// listeners can drop the host without waiting for the timeout.
type Beacon struct {
	conn     net.PacketConn
	dst      net.Addr
	payload  [PayloadSize]byte
	Interval time.Duration

	sent atomic.Uint64
}

// NewBeacon sends from conn to dst. A nil or unspecified ip still yields a
// nonzero availability byte.
func NewBeacon(conn net.PacketConn, dst net.Addr, ip net.IP) *Beacon {
	b := &Beacon{conn: conn, dst: dst, Interval: time.Second}
	if v4 := ip.To4(); v4 != nil {
		copy(b.payload[:], v4)
	}
	if b.payload[0] == 0 {
		b.payload = [PayloadSize]byte{1}
	}
	return b
}

// DialBeacon opens a UDP socket that broadcasts to port on the local
// network.
func DialBeacon(port int, ip net.IP) (*Beacon, error) {
	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return nil, fmt.Errorf("spotter: beacon: %w", err)
	}
	dst := &net.UDPAddr{IP: net.IPv4bcast, Port: port}
	return NewBeacon(conn, dst, ip), nil
}

// Payload is the datagram sent while available.
func (b *Beacon) Payload() [PayloadSize]byte { return b.payload }

// Sent counts datagrams written, the sign-off included.
func (b *Beacon) Sent() uint64 { return b.sent.Load() }

// Run announces until ctx is done, then signs off and closes the socket.
func (b *Beacon) Run(ctx context.Context) error {
	defer b.conn.Close()
	ticker := time.NewTicker(b.Interval)
	defer ticker.Stop()
	for {
		b.send(b.payload[:])
		select {
		case <-ctx.Done():
			var off [PayloadSize]byte
			return b.send(off[:])
		case <-ticker.C:
		}
	}
}

func (b *Beacon) send(p []byte) error {
	b.conn.SetWriteDeadline(time.Now().Add(b.Interval))
	if _, err := b.conn.WriteTo(p, b.dst); err != nil {
		log.Printf("spotter: beacon to %v: %v", b.dst, err)
		return err
	}
	b.sent.Add(1)
	return nil
}
