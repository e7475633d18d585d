package signaling

import (
	"errors"
	"sync"
	"testing"
)

func TestWSConn_TrySendAfterClose(t *testing.T) {
	c := &wsConn{send: make(chan []byte, 1)}

	if err := c.TrySend([]byte("a")); err != nil {
		t.Fatalf("send before close: %v", err)
	}
	c.Close()
	if err := c.TrySend([]byte("b")); !errors.Is(err, ErrConnClosed) {
		t.Fatalf("expected ErrConnClosed after close, got %v", err)
	}
	// Close is idempotent.
	c.Close()
}

func TestWSConn_BackpressureWhenBufferFull(t *testing.T) {
	c := &wsConn{send: make(chan []byte, 1)}

	if err := c.TrySend([]byte("a")); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if err := c.TrySend([]byte("b")); !errors.Is(err, ErrBackpressure) {
		t.Fatalf("expected ErrBackpressure on full buffer, got %v", err)
	}
}

// A fan-out racing a detach must never panic: the hub snapshots connections
// outside its lock, so TrySend can land after Close.
func TestWSConn_ConcurrentSendAndClose(t *testing.T) {
	for i := 0; i < 200; i++ {
		c := &wsConn{send: make(chan []byte, 1)}
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 8; j++ {
				_ = c.TrySend([]byte("event"))
			}
		}()
		go func() {
			defer wg.Done()
			c.Close()
		}()
		wg.Wait()
	}
}
