package conn

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

// udpSink listens for datagrams on localhost and forwards them to a channel.
func udpSink(t *testing.T) (string, <-chan []byte) {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	t.Cleanup(func() { pc.Close() })

	ch := make(chan []byte, 8)
	go func() {
		buf := make([]byte, 2048)
		for {
			n, _, err := pc.ReadFrom(buf)
			if err != nil {
				return
			}
			data := make([]byte, n)
			copy(data, buf[:n])
			ch <- data
		}
	}()
	return pc.LocalAddr().String(), ch
}

func TestUDPExchangeFireAndForget(t *testing.T) {
	addr, got := udpSink(t)

	c := NewUDP(Options{Addr: addr})
	defer c.Close()

	resp, err := c.Exchange(context.Background(), []byte("sendir,1:1,1,37764,1,1,342,171,21,83\r"), nil, time.Second)
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if resp != nil {
		t.Errorf("Exchange() response = %q, want nil for UDP", resp)
	}

	select {
	case data := <-got:
		if string(data) != "sendir,1:1,1,37764,1,1,342,171,21,83\r" {
			t.Errorf("datagram = %q", data)
		}
	case <-time.After(time.Second):
		t.Fatal("datagram never arrived")
	}

	if c.State() != StateOpen {
		t.Errorf("State() = %v, want open", c.State())
	}
}

func TestUDPClosedRejectsExchange(t *testing.T) {
	c := NewUDP(Options{Addr: "127.0.0.1:1"})
	c.Close()

	_, err := c.Exchange(context.Background(), []byte("x"), nil, time.Second)
	if !errors.Is(err, ErrClosed) {
		t.Errorf("Exchange() on closed conn error = %v, want ErrClosed", err)
	}
}

func TestUDPListenerDeliversDatagrams(t *testing.T) {
	// pc plays the device end. The listener's socket is connected to pc,
	// so pushing datagrams to the listener's local address delivers them.
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	defer pc.Close()

	received := make(chan []byte, 8)
	l := NewUDPListener(pc.LocalAddr().String(), func(data []byte) {
		received <- data
	}, nil)
	if err := l.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer l.Close()

	laddr := listenerLocalAddr(l)
	if laddr == nil {
		t.Fatal("listener has no local address")
	}

	want := `{"jsonrpc":"2.0","method":"meter","params":{"param":"level","val":-12.5}}`
	if _, err := pc.WriteTo([]byte(want), laddr); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	select {
	case data := <-received:
		if string(data) != want {
			t.Errorf("datagram = %q, want %q", data, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("telemetry datagram never delivered")
	}
}

func listenerLocalAddr(l *UDPListener) net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.netConn == nil {
		return nil
	}
	return l.netConn.LocalAddr()
}

func TestUDPListenerClose(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	defer pc.Close()

	l := NewUDPListener(pc.LocalAddr().String(), func([]byte) {}, nil)
	if err := l.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	done := make(chan struct{})
	go func() {
		l.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Close() did not return")
	}

	// Second close is a no-op.
	if err := l.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
