// Package diagnostics provides the engine's structured logging, a durable
// event log for non-fatal faults, and a live stats broadcaster. Non-fatal
// faults are logged rather than surfaced as errors to the caller.
package diagnostics

import (
	"context"
	"log/slog"
	"os"

	"github.com/google/uuid"
)

// Diagnostics is one engine instance's diagnostics surface: a structured
// logger, a durable event store, and a live stats hub, all tagged with the
// instance's id so multi-engine deployments can tell their log lines and
// events apart.
type Diagnostics struct {
	InstanceID uuid.UUID

	log    *slog.Logger
	events *EventStore
	hub    *Hub
}

// Option configures New.
type Option func(*Diagnostics)

// WithEventStore attaches a durable event log (see OpenEventStore).
func WithEventStore(store *EventStore) Option {
	return func(d *Diagnostics) { d.events = store }
}

// WithHub attaches a live-stats broadcast hub (see NewHub).
func WithHub(hub *Hub) Option {
	return func(d *Diagnostics) { d.hub = hub }
}

// WithLogger overrides the default stderr JSON logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Diagnostics) { d.log = logger }
}

// New creates a Diagnostics instance with a fresh random instance id.
func New(options ...Option) *Diagnostics {
	d := &Diagnostics{
		InstanceID: uuid.New(),
		log:        slog.New(slog.NewJSONHandler(os.Stderr, nil)),
	}
	for _, opt := range options {
		opt(d)
	}
	return d
}

// Log emits a structured, leveled log line tagged with the instance id.
func (d *Diagnostics) Log(level slog.Level, msg string, args ...any) {
	args = append([]any{"instance", d.InstanceID.String()}, args...)
	d.log.Log(context.Background(), level, msg, args...)
}

// ReportOverCapacity records an OverCapacity fault: a structured warning
// line plus, if an event store is attached, a durable row for offline
// post-mortem.
func (d *Diagnostics) ReportOverCapacity(tree uint64, chunk uint32, detail string) {
	d.Log(slog.LevelWarn, "page cache over capacity", "tree_id", tree, "chunk_id", chunk, "detail", detail)
	if d.events != nil {
		_ = d.events.Record(Event{Kind: EventOverCapacity, TreeID: tree, ChunkID: chunk, Detail: detail})
	}
}

// ReportChunkDecodeFailed records a ChunkDecodeFailed fault.
func (d *Diagnostics) ReportChunkDecodeFailed(tree uint64, chunk uint32, detail string) {
	d.Log(slog.LevelError, "chunk decode failed", "tree_id", tree, "chunk_id", chunk, "detail", detail)
	if d.events != nil {
		_ = d.events.Record(Event{Kind: EventChunkDecodeFailed, TreeID: tree, ChunkID: chunk, Detail: detail})
	}
}

// Broadcast pushes a stats snapshot to every connected live-stats client, if
// a hub is attached.
func (d *Diagnostics) Broadcast(stats FrameStats) {
	if d.hub != nil {
		d.hub.Broadcast(stats)
	}
}

// Close releases the event store and hub, if attached.
func (d *Diagnostics) Close() error {
	var err error
	if d.events != nil {
		err = d.events.Close()
	}
	if d.hub != nil {
		d.hub.Close()
	}
	return err
}
