package protocol

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"recsync/internal/rec"
)

// scriptTransport answers each written frame through respond. A nil return
// means no response (the command times out).
type scriptTransport struct {
	respond func(f Frame) [][]byte

	mu     sync.Mutex
	dec    Decoder
	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

func newScriptTransport(respond func(f Frame) [][]byte) *scriptTransport {
	return &scriptTransport{
		respond: respond,
		out:     make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (s *scriptTransport) Read(p []byte) (int, error) {
	select {
	case b := <-s.out:
		return copy(p, b), nil
	case <-s.closed:
		return 0, io.EOF
	}
}

func (s *scriptTransport) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dec.Feed(p)
	for {
		f, err := s.dec.Next()
		if err != nil {
			continue
		}
		if f == nil {
			return len(p), nil
		}
		for _, resp := range s.respond(*f) {
			s.out <- resp
		}
	}
}

func (s *scriptTransport) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func shortTimeouts() Timeouts {
	return Timeouts{
		Handshake: 200 * time.Millisecond,
		Command:   100 * time.Millisecond,
		Transfer:  100 * time.Millisecond,
	}
}

func TestClient_Call_RoundTrip(t *testing.T) {
	tr := newScriptTransport(func(f Frame) [][]byte {
		return [][]byte{EncodeFrame(Frame{Cmd: f.Cmd, Seq: f.Seq, Payload: []byte("pong")}, true)}
	})
	c := NewClient(tr, rec.NewNopLogger(), shortTimeouts())
	defer c.Close()

	got, err := c.Call(context.Background(), CmdPing, nil, c.Timeouts().Command)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if string(got) != "pong" {
		t.Errorf("Call() = %q, want %q", got, "pong")
	}
}

func TestClient_Call_EmptyResponseIsValid(t *testing.T) {
	tr := newScriptTransport(func(f Frame) [][]byte {
		return [][]byte{EncodeFrame(Frame{Cmd: f.Cmd, Seq: f.Seq}, true)}
	})
	c := NewClient(tr, rec.NewNopLogger(), shortTimeouts())
	defer c.Close()

	got, err := c.Call(context.Background(), CmdSetTime, []byte{1, 2, 3, 4}, c.Timeouts().Command)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Call() payload = %v, want empty", got)
	}
}

func TestClient_Call_Timeout(t *testing.T) {
	tr := newScriptTransport(func(f Frame) [][]byte { return nil })
	c := NewClient(tr, rec.NewNopLogger(), shortTimeouts())
	defer c.Close()

	_, err := c.Call(context.Background(), CmdHandshake, nil, 50*time.Millisecond)
	if !errors.Is(err, rec.ErrTimeout) {
		t.Fatalf("Call() error = %v, want ErrTimeout", err)
	}
}

func TestClient_Call_DiscardsStaleSeq(t *testing.T) {
	// Respond with a stale frame first, then the real answer.
	tr := newScriptTransport(func(f Frame) [][]byte {
		return [][]byte{
			EncodeFrame(Frame{Cmd: f.Cmd, Seq: f.Seq + 100, Payload: []byte("stale")}, true),
			EncodeFrame(Frame{Cmd: f.Cmd, Seq: f.Seq, Payload: []byte("fresh")}, true),
		}
	})
	c := NewClient(tr, rec.NewNopLogger(), shortTimeouts())
	defer c.Close()

	got, err := c.Call(context.Background(), CmdStorageInfo, nil, c.Timeouts().Command)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if string(got) != "fresh" {
		t.Errorf("Call() = %q, want %q", got, "fresh")
	}
}

func TestClient_Call_GarbageBeforeResponse(t *testing.T) {
	tr := newScriptTransport(func(f Frame) [][]byte {
		return [][]byte{
			{0xBA, 0xD1, 0xBA, 0xD1},
			EncodeFrame(Frame{Cmd: f.Cmd, Seq: f.Seq, Payload: []byte("ok")}, true),
		}
	})
	c := NewClient(tr, rec.NewNopLogger(), shortTimeouts())
	defer c.Close()

	got, err := c.Call(context.Background(), CmdGetSettings, nil, c.Timeouts().Command)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if string(got) != "ok" {
		t.Errorf("Call() = %q, want %q", got, "ok")
	}
}

func TestClient_Call_AfterClose(t *testing.T) {
	tr := newScriptTransport(func(f Frame) [][]byte { return nil })
	c := NewClient(tr, rec.NewNopLogger(), shortTimeouts())
	c.Close()

	_, err := c.Call(context.Background(), CmdPing, nil, c.Timeouts().Command)
	if !errors.Is(err, rec.ErrDisconnected) {
		t.Fatalf("Call() error = %v, want ErrDisconnected", err)
	}
}

func TestClient_Call_CancelledContext(t *testing.T) {
	tr := newScriptTransport(func(f Frame) [][]byte { return nil })
	c := NewClient(tr, rec.NewNopLogger(), shortTimeouts())
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Call(ctx, CmdPing, nil, c.Timeouts().Command)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Call() error = %v, want context.Canceled", err)
	}
}
