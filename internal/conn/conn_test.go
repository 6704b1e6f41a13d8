package conn

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

// echoServer accepts connections and runs handler for each. Returns the
// listen address and a cleanup func.
func echoServer(t *testing.T, handler func(net.Conn)) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go handler(c)
		}
	}()
	return ln.Addr().String()
}

func lineComplete(buf []byte) bool {
	return bytes.HasSuffix(buf, []byte("\n"))
}

func TestTCPExchange(t *testing.T) {
	addr := echoServer(t, func(c net.Conn) {
		defer c.Close()
		buf := make([]byte, 256)
		n, err := c.Read(buf)
		if err != nil {
			return
		}
		if string(buf[:n]) == "PING\r\n" {
			c.Write([]byte("PONG\r\n"))
		}
	})

	c := NewTCP(Options{Addr: addr})
	defer c.Close()

	if got := c.State(); got != StateIdle {
		t.Errorf("State() before first exchange = %v, want idle", got)
	}

	resp, err := c.Exchange(context.Background(), []byte("PING\r\n"), lineComplete, time.Second)
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if string(resp) != "PONG\r\n" {
		t.Errorf("Exchange() = %q, want PONG", resp)
	}
	if got := c.State(); got != StateOpen {
		t.Errorf("State() after exchange = %v, want open", got)
	}
}

func TestTCPExchangeFragmentedResponse(t *testing.T) {
	addr := echoServer(t, func(c net.Conn) {
		defer c.Close()
		buf := make([]byte, 256)
		if _, err := c.Read(buf); err != nil {
			return
		}
		// Dribble the response in three writes.
		for _, part := range []string{`{"jsonrpc":"2.0",`, `"result":{}`, "}\r\n"} {
			c.Write([]byte(part))
			time.Sleep(10 * time.Millisecond)
		}
	})

	c := NewTCP(Options{Addr: addr})
	defer c.Close()

	resp, err := c.Exchange(context.Background(), []byte("x\r\n"), lineComplete, time.Second)
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	want := `{"jsonrpc":"2.0","result":{}}` + "\r\n"
	if string(resp) != want {
		t.Errorf("Exchange() = %q, want %q", resp, want)
	}
}

func TestTCPExchangeTimeout(t *testing.T) {
	addr := echoServer(t, func(c net.Conn) {
		// Accept the command, never answer.
		buf := make([]byte, 256)
		c.Read(buf)
		time.Sleep(2 * time.Second)
		c.Close()
	})

	c := NewTCP(Options{Addr: addr})
	defer c.Close()

	_, err := c.Exchange(context.Background(), []byte("x\r\n"), lineComplete, 50*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Exchange() error = %v, want ErrTimeout", err)
	}

	var ee *ExchangeError
	if !errors.As(err, &ee) {
		t.Fatal("Exchange() error is not *ExchangeError")
	}
	if ee.Stage != StageRead {
		t.Errorf("Stage = %v, want read", ee.Stage)
	}
	if !ee.BytesWritten() {
		t.Error("BytesWritten() = false for read-stage failure")
	}

	// Socket must be torn down after the failure.
	if got := c.State(); got != StateIdle {
		t.Errorf("State() after timeout = %v, want idle", got)
	}
}

func TestTCPDialFailureStage(t *testing.T) {
	// Grab a port and close the listener so dials are refused.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	c := NewTCP(Options{Addr: addr, DialTimeout: 200 * time.Millisecond})
	defer c.Close()

	_, err = c.Exchange(context.Background(), []byte("x\r\n"), lineComplete, time.Second)
	if !errors.Is(err, ErrIO) {
		t.Fatalf("Exchange() error = %v, want ErrIO", err)
	}

	var ee *ExchangeError
	if !errors.As(err, &ee) {
		t.Fatal("Exchange() error is not *ExchangeError")
	}
	if ee.Stage != StageConnect {
		t.Errorf("Stage = %v, want connect", ee.Stage)
	}
	if ee.BytesWritten() {
		t.Error("BytesWritten() = true for connect-stage failure")
	}
}

func TestTCPLazyReconnect(t *testing.T) {
	addr := echoServer(t, func(c net.Conn) {
		defer c.Close()
		buf := make([]byte, 256)
		for {
			n, err := c.Read(buf)
			if err != nil {
				return
			}
			if string(buf[:n]) == "DIE\r\n" {
				return // close without replying
			}
			c.Write([]byte("OK\r\n"))
		}
	})

	c := NewTCP(Options{Addr: addr, InitialBackoff: 10 * time.Millisecond})
	defer c.Close()

	if _, err := c.Exchange(context.Background(), []byte("a\r\n"), lineComplete, time.Second); err != nil {
		t.Fatalf("first Exchange() error = %v", err)
	}

	// Server closes the socket; this exchange fails and tears down.
	if _, err := c.Exchange(context.Background(), []byte("DIE\r\n"), lineComplete, time.Second); err == nil {
		t.Fatal("Exchange() after server close expected error")
	}

	// Next exchange re-dials and succeeds.
	resp, err := c.Exchange(context.Background(), []byte("b\r\n"), lineComplete, time.Second)
	if err != nil {
		t.Fatalf("Exchange() after reconnect error = %v", err)
	}
	if string(resp) != "OK\r\n" {
		t.Errorf("Exchange() = %q, want OK", resp)
	}
}

func TestTCPClosedConnRejectsExchange(t *testing.T) {
	c := NewTCP(Options{Addr: "127.0.0.1:1"})
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	_, err := c.Exchange(context.Background(), []byte("x"), lineComplete, time.Second)
	if !errors.Is(err, ErrClosed) {
		t.Errorf("Exchange() on closed conn error = %v, want ErrClosed", err)
	}
	if got := c.State(); got != StateClosed {
		t.Errorf("State() = %v, want closed", got)
	}
}

func TestTCPDrainRejectsExchange(t *testing.T) {
	c := NewTCP(Options{Addr: "127.0.0.1:1"})
	defer c.Close()
	c.Drain()

	_, err := c.Exchange(context.Background(), []byte("x"), lineComplete, time.Second)
	if !errors.Is(err, ErrClosed) {
		t.Errorf("Exchange() on draining conn error = %v, want ErrClosed", err)
	}
}

func TestBackoffProgression(t *testing.T) {
	b := newBackoff(200*time.Millisecond, 10*time.Second)

	if d := b.Next(); d != 0 {
		t.Errorf("first Next() = %v, want 0", d)
	}

	prev := time.Duration(0)
	for i := 0; i < 5; i++ {
		d := b.Next()
		if d <= 0 {
			t.Fatalf("Next() #%d = %v, want > 0", i+2, d)
		}
		if d > 10*time.Second+3*time.Second {
			t.Fatalf("Next() #%d = %v, exceeds cap", i+2, d)
		}
		if d < prev/2 {
			t.Fatalf("Next() #%d = %v, shrunk from %v", i+2, d, prev)
		}
		prev = d
	}

	b.Reset()
	if d := b.Next(); d != 0 {
		t.Errorf("Next() after Reset = %v, want 0", d)
	}
}

func TestBackoffWaitRespectsContext(t *testing.T) {
	b := newBackoff(time.Minute, time.Minute)
	b.Next() // burn the free first attempt

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := b.Wait(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Wait() took %v, should return on context cancel", elapsed)
	}
}
