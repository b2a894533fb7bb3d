// Package ingest owns the feed connection lifecycle: heartbeats, reconnect
// orchestration, message dispatch and the per-symbol market state registry.
package ingest

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// heartbeatMsg is the wire form of both directions of the heartbeat exchange.
type heartbeatMsg struct {
	Op string `json:"op"`
}

var (
	pingPayload, _ = json.Marshal(heartbeatMsg{Op: "ping"})
	pongPayload, _ = json.Marshal(heartbeatMsg{Op: "pong"})
)

// Keepalive sends periodic application-level pings over the feed connection
// and answers the peer's heartbeats. It knows nothing about market data.
type Keepalive struct {
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	send    func([]byte) error
	lastAck time.Time
	ticker  *time.Ticker
	done    chan struct{}
	started bool
}

// NewKeepalive creates a stopped keepalive handler.
func NewKeepalive(interval time.Duration, logger *slog.Logger) *Keepalive {
	return &Keepalive{
		interval: interval,
		logger:   logger.With(slog.String("component", "keepalive")),
	}
}

// Start begins the ping ticker, delivering outbound frames through send.
// Starting an already-running keepalive restarts it.
func (k *Keepalive) Start(send func([]byte) error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.started {
		k.stopLocked()
	}
	k.send = send
	k.lastAck = time.Now()
	k.ticker = time.NewTicker(k.interval)
	k.done = make(chan struct{})
	k.started = true

	go k.loop(k.ticker, k.done)
}

func (k *Keepalive) loop(ticker *time.Ticker, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			k.mu.Lock()
			send := k.send
			k.mu.Unlock()
			if send == nil {
				continue
			}
			if err := send(pingPayload); err != nil {
				k.logger.Warn("ping send failed", slog.String("error", err.Error()))
			}
		}
	}
}

// HandlePeerHeartbeat answers an inbound ping with a pong.
func (k *Keepalive) HandlePeerHeartbeat() {
	k.mu.Lock()
	send := k.send
	k.mu.Unlock()
	if send == nil {
		return
	}
	if err := send(pongPayload); err != nil {
		k.logger.Warn("pong send failed", slog.String("error", err.Error()))
	}
}

// HandleHeartbeatAck records the peer's pong.
func (k *Keepalive) HandleHeartbeatAck() {
	k.mu.Lock()
	k.lastAck = time.Now()
	k.mu.Unlock()
}

// Alive reports whether an ack arrived within maxSilence.
func (k *Keepalive) Alive(maxSilence time.Duration) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.started {
		return false
	}
	return time.Since(k.lastAck) <= maxSilence
}

// Stop halts the ping ticker. Safe to call when not running.
func (k *Keepalive) Stop() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.stopLocked()
}

func (k *Keepalive) stopLocked() {
	if !k.started {
		return
	}
	k.ticker.Stop()
	close(k.done)
	k.send = nil
	k.started = false
}
