package udpgen

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/openpst/pstbench/internal/monitoring"
)

// Listener receives beam data packets on a UDP socket, tracking counts and
// sequence numbers. It stands in for the receive chain when only the
// generator side is under test, and backs the capture tooling.
type Listener struct {
	conn    *net.UDPConn
	capture *CaptureWriter

	mu      sync.Mutex
	packets uint64
	bytes   uint64
	seqs    []uint64
	decErrs int

	done chan struct{}
}

// Listen binds a UDP socket and starts receiving in the background. Use
// addr ":0" for an ephemeral port. A non-nil capture records every datagram.
func Listen(addr string, capture *CaptureWriter) (*Listener, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve listen address: %w", err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	l := &Listener{
		conn:    conn,
		capture: capture,
		done:    make(chan struct{}),
	}
	go l.run()
	return l, nil
}

// Addr returns the bound address, with the ephemeral port resolved.
func (l *Listener) Addr() *net.UDPAddr {
	return l.conn.LocalAddr().(*net.UDPAddr)
}

func (l *Listener) run() {
	defer close(l.done)

	buffer := make([]byte, 65536)
	for {
		n, _, err := l.conn.ReadFromUDP(buffer)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				monitoring.Logf("listener: read error: %v", err)
			}
			return
		}

		datagram := buffer[:n]
		hdr, _, _, decErr := DecodePacket(datagram)

		l.mu.Lock()
		l.packets++
		l.bytes += uint64(n)
		if decErr != nil {
			l.decErrs++
		} else {
			l.seqs = append(l.seqs, hdr.Sequence)
		}
		capture := l.capture
		l.mu.Unlock()

		if capture != nil {
			if err := capture.Record(datagram, time.Now()); err != nil {
				monitoring.Logf("listener: capture error: %v", err)
			}
		}
	}
}

// Stats returns the datagrams and bytes received so far.
func (l *Listener) Stats() (packets, bytes uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.packets, l.bytes
}

// Sequences returns the packet sequence numbers received, in arrival order.
func (l *Listener) Sequences() []uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]uint64, len(l.seqs))
	copy(out, l.seqs)
	return out
}

// DecodeErrors returns how many datagrams failed to decode as beam packets.
func (l *Listener) DecodeErrors() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.decErrs
}

// Close stops the listener and waits for the receive loop to exit.
func (l *Listener) Close() error {
	err := l.conn.Close()
	<-l.done
	return err
}
