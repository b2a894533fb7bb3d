package ingest

import (
	"log/slog"
	"sync"
	"testing"
	"time"
)

type sendRecorder struct {
	mu    sync.Mutex
	sent  [][]byte
	errs  error
	calls int
}

func (r *sendRecorder) send(payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.sent = append(r.sent, payload)
	return r.errs
}

func (r *sendRecorder) payloads() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.sent))
	for i, p := range r.sent {
		out[i] = string(p)
	}
	return out
}

func TestKeepaliveSendsPings(t *testing.T) {
	rec := &sendRecorder{}
	k := NewKeepalive(10*time.Millisecond, slog.Default())
	k.Start(rec.send)
	defer k.Stop()

	deadline := time.After(time.Second)
	for {
		if len(rec.payloads()) >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("no pings sent within a second")
		case <-time.After(5 * time.Millisecond):
		}
	}
	for _, p := range rec.payloads() {
		if p != `{"op":"ping"}` {
			t.Fatalf("sent %q, want ping frame", p)
		}
	}
}

func TestKeepaliveAnswersPeerHeartbeat(t *testing.T) {
	rec := &sendRecorder{}
	k := NewKeepalive(time.Hour, slog.Default())
	k.Start(rec.send)
	defer k.Stop()

	k.HandlePeerHeartbeat()
	got := rec.payloads()
	if len(got) != 1 || got[0] != `{"op":"pong"}` {
		t.Fatalf("payloads = %v, want single pong frame", got)
	}
}

func TestKeepaliveAlive(t *testing.T) {
	k := NewKeepalive(time.Hour, slog.Default())
	if k.Alive(time.Minute) {
		t.Fatal("Alive() = true before Start")
	}

	k.Start(func([]byte) error { return nil })
	defer k.Stop()

	if !k.Alive(time.Minute) {
		t.Fatal("Alive() = false right after Start")
	}
	k.HandleHeartbeatAck()
	if !k.Alive(time.Minute) {
		t.Fatal("Alive() = false right after ack")
	}
	if k.Alive(0) {
		t.Fatal("Alive(0) = true, want false for zero silence budget")
	}
}

func TestKeepaliveStopIdempotent(t *testing.T) {
	k := NewKeepalive(time.Hour, slog.Default())
	k.Start(func([]byte) error { return nil })
	k.Stop()
	k.Stop()

	k.HandlePeerHeartbeat() // no send func anymore, must not panic
}
