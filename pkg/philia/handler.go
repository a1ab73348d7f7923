// Copyright 2024-2026 Aiku AI

// Package philia models the Philia unified messaging protocol as far as the
// bridge needs it: message segments, contact records, event records and the
// interfaces of the downstream side that consumes them.
package philia

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"
)

// EventHandler is the distribution sink for finished event records.
type EventHandler interface {
	Handle(ctx context.Context, evt Event)
}

// Endpoint is the downstream Philia side. It is started when the source
// account comes online and stopped when it goes offline.
type Endpoint interface {
	EventHandler
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// LogEndpoint is an Endpoint that writes every event it receives while
// started to a logger. It stands in for a real Philia transport.
type LogEndpoint struct {
	log zerolog.Logger

	mu      sync.Mutex
	running bool
	dropped int
}

var _ Endpoint = (*LogEndpoint)(nil)

func NewLogEndpoint(log zerolog.Logger) *LogEndpoint {
	return &LogEndpoint{log: log.With().Str("component", "philia").Logger()}
}

func (l *LogEndpoint) Start(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.running = true
	l.log.Info().Msg("Philia endpoint started")
	return nil
}

func (l *LogEndpoint) Stop(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.running = false
	l.log.Info().Int("dropped", l.dropped).Msg("Philia endpoint stopped")
	return nil
}

func (l *LogEndpoint) Handle(_ context.Context, evt Event) {
	l.mu.Lock()
	running := l.running
	if !running {
		l.dropped++
	}
	l.mu.Unlock()
	hdr := evt.Header()
	if !running {
		l.log.Debug().Str("event_id", hdr.ID).Msg("Dropping event while stopped")
		return
	}
	data, err := json.Marshal(evt)
	if err != nil {
		l.log.Err(err).Str("event_id", hdr.ID).Msg("Failed to encode event")
		return
	}
	l.log.Info().
		Str("event_id", hdr.ID).
		Str("type", string(hdr.Type)).
		Str("scene", string(hdr.Scene)).
		RawJSON("event", data).
		Msg("Event")
}
