// Package presence is the stateful core of the dispatch server: it tracks
// live connections, matches users waiting for a chat to the admins that own
// their ride, bridges two-party rooms, and fans driver positions out to
// admins.
//
// All state is owned by a single goroutine (Broker.Run). Inbound events are
// tasks executed to completion, one at a time. Store calls run elsewhere and
// come back as continuation tasks, which re-check liveness before acting.
package presence

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
)

// RideStore resolves tracking identifiers against ride records.
type RideStore interface {
	// FindRide returns an error wrapping storage.ErrNotFound when no ride has the id.
	FindRide(ctx context.Context, trackingID string) (models.Ride, error)
	// RidesOwnedBy returns the subset of trackingIDs whose ride belongs to adminID.
	RidesOwnedBy(ctx context.Context, adminID string, trackingIDs []string) ([]string, error)
}

// LocationStore persists last-known driver positions.
type LocationStore interface {
	UpdateRideLocations(ctx context.Context, driverID string, loc models.Location) (int64, error)
	UpdateDriverLocation(ctx context.Context, driverID string, loc models.Location) error
}

// LocationIndex keeps a queryable view of current driver positions.
type LocationIndex interface {
	Upsert(ctx context.Context, loc models.DriverLocation) error
}

// Publisher forwards accepted location reports to a stream.
type Publisher interface {
	PublishLocation(ctx context.Context, loc models.DriverLocation) error
}

// Scope selects who receives driver location broadcasts.
type Scope int

const (
	ScopeAdmins Scope = iota
	ScopeAll
)

// Config wires a Broker to its collaborators. Only Rides is required.
type Config struct {
	Rides     RideStore
	Locations LocationStore
	Index     LocationIndex
	Publisher Publisher

	StoreTimeout   time.Duration
	BroadcastScope Scope
	QueueSize      int

	Logger *slog.Logger
	Now    func() time.Time
}

// Stats is a point-in-time view of broker state.
type Stats struct {
	Connections int `json:"connections"`
	Admins      int `json:"admins"`
	Pending     int `json:"pending"`
	Rooms       int `json:"rooms"`
}

// Broker is the presence and chat coordinator.
type Broker struct {
	cfg      Config
	log      *slog.Logger
	now      func() time.Time
	registry *Registry
	pending  *PendingQueue
	rooms    *RoomManager
	relay    *LocationRelay

	tasks    chan func()
	done     chan struct{}
	stopOnce sync.Once
	base     context.Context
	// inflight counts store calls whose continuation has not run yet.
	inflight sync.WaitGroup
}

func New(cfg Config) *Broker {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 3 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	b := &Broker{
		cfg:   cfg,
		log:   cfg.Logger.With("component", "presence"),
		now:   cfg.Now,
		tasks: make(chan func(), cfg.QueueSize),
		done:  make(chan struct{}),
		base:  context.Background(),
	}
	b.registry = NewRegistry(cfg.Now)
	b.pending = NewPendingQueue()
	b.rooms = NewRoomManager(b.registry, cfg.Now)
	b.relay = &LocationRelay{
		registry:  b.registry,
		store:     cfg.Locations,
		index:     cfg.Index,
		publisher: cfg.Publisher,
		scope:     cfg.BroadcastScope,
		now:       cfg.Now,
		log:       b.log,
		persist:   b.background,
	}
	b.registry.OnRemove(b.cleanupConnection)
	return b
}

// Run executes tasks until ctx is done. It must be called exactly once.
func (b *Broker) Run(ctx context.Context) {
	b.base = ctx
	b.log.Info("presence broker started")
	for {
		select {
		case task := <-b.tasks:
			task()
		case <-ctx.Done():
			b.stopOnce.Do(func() { close(b.done) })
			b.log.Info("presence broker stopped")
			return
		}
	}
}

// Connect registers a new connection as Anonymous.
func (b *Broker) Connect(p Peer) {
	b.submit(func() {
		b.registry.Register(p)
		b.log.Debug("connection registered", "conn_id", p.ID())
	})
}

// Disconnect removes a connection and runs the cleanup cascade. Calling it
// more than once for the same connection is harmless.
func (b *Broker) Disconnect(connID string) {
	b.submit(func() {
		if b.registry.Remove(connID) {
			b.log.Debug("connection removed", "conn_id", connID)
		}
	})
}

// Handle queues one inbound event from connID.
func (b *Broker) Handle(connID, event string, data json.RawMessage) {
	b.submit(func() { b.dispatch(connID, event, data) })
}

// ReportLocation queues a location report that did not arrive on a socket.
func (b *Broker) ReportLocation(loc models.DriverLocation) {
	b.submit(func() { b.relay.Report(loc) })
}

// Stats reads the current counts on the loop.
func (b *Broker) Stats(ctx context.Context) (Stats, error) {
	out := make(chan Stats, 1)
	if !b.submit(func() {
		out <- Stats{
			Connections: b.registry.Len(),
			Admins:      b.registry.Admins(),
			Pending:     b.pending.Len(),
			Rooms:       b.rooms.Len(),
		}
	}) {
		return Stats{}, context.Canceled
	}
	select {
	case s := <-out:
		return s, nil
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	case <-b.done:
		return Stats{}, context.Canceled
	}
}

func (b *Broker) submit(task func()) bool {
	select {
	case <-b.done:
		return false
	default:
	}
	select {
	case b.tasks <- task:
		return true
	case <-b.done:
		return false
	}
}

// suspend runs call off the loop with the store timeout and resumes on the
// loop with its result. resume must re-validate any state it relies on.
func suspend[T any](b *Broker, op string, call func(ctx context.Context) (T, error), resume func(T, error)) {
	b.inflight.Add(1)
	go func() {
		v, err := callStore(b, op, call)
		if !b.submit(func() {
			defer b.inflight.Done()
			resume(v, err)
		}) {
			b.inflight.Done()
		}
	}()
}

// background runs fn off the loop; errors are logged and counted only.
func (b *Broker) background(op string, fn func(ctx context.Context) error) {
	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()
		if _, err := callStore(b, op, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, fn(ctx)
		}); err != nil {
			b.log.Error("store call failed", "op", op, "error", err)
		}
	}()
}

func callStore[T any](b *Broker, op string, call func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(b.base, b.cfg.StoreTimeout)
	defer cancel()
	start := time.Now()
	v, err := call(ctx)
	observability.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		observability.StoreErrors.WithLabelValues(op).Inc()
	}
	return v, err
}
