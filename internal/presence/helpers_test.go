package presence

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/storage"
)

var testNow = time.UnixMilli(1700000000000)

func fixedClock() time.Time { return testNow }

// fakePeer records every frame sent to it.
type fakePeer struct {
	id string

	mu     sync.Mutex
	frames []models.Outbound
	closed bool
}

func newPeer(id string) *fakePeer { return &fakePeer{id: id} }

func (p *fakePeer) ID() string { return p.id }

func (p *fakePeer) Send(msg models.Outbound) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.frames = append(p.frames, msg)
	return true
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// events returns the payloads of every frame named event.
func (p *fakePeer) events(event string) []any {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []any
	for _, f := range p.frames {
		if f.Event == event {
			out = append(out, f.Data)
		}
	}
	return out
}

func (p *fakePeer) count(event string) int { return len(p.events(event)) }

func (p *fakePeer) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = nil
}

// gatedStore wraps a MemoryStore with injectable failures and a gate that
// holds calls until released.
type gatedStore struct {
	*storage.MemoryStore

	mu       sync.Mutex
	findErr  error
	ownedErr error
	locErr   error
	gate     chan struct{}
	locCalls int
}

func newStore() *gatedStore { return &gatedStore{MemoryStore: storage.NewMemoryStore()} }

func (s *gatedStore) hold() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gate = make(chan struct{})
}

func (s *gatedStore) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gate != nil {
		close(s.gate)
		s.gate = nil
	}
}

func (s *gatedStore) wait(ctx context.Context) {
	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()
	if gate == nil {
		return
	}
	select {
	case <-gate:
	case <-ctx.Done():
	}
}

func (s *gatedStore) FindRide(ctx context.Context, trackingID string) (models.Ride, error) {
	s.wait(ctx)
	s.mu.Lock()
	err := s.findErr
	s.mu.Unlock()
	if err != nil {
		return models.Ride{}, err
	}
	return s.MemoryStore.FindRide(ctx, trackingID)
}

func (s *gatedStore) RidesOwnedBy(ctx context.Context, adminID string, ids []string) ([]string, error) {
	s.wait(ctx)
	s.mu.Lock()
	err := s.ownedErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.MemoryStore.RidesOwnedBy(ctx, adminID, ids)
}

func (s *gatedStore) UpdateRideLocations(ctx context.Context, driverID string, loc models.Location) (int64, error) {
	s.mu.Lock()
	s.locCalls++
	err := s.locErr
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return s.MemoryStore.UpdateRideLocations(ctx, driverID, loc)
}

func (s *gatedStore) UpdateDriverLocation(ctx context.Context, driverID string, loc models.Location) error {
	s.mu.Lock()
	s.locCalls++
	err := s.locErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.MemoryStore.UpdateDriverLocation(ctx, driverID, loc)
}

func (s *gatedStore) locationCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locCalls
}

type testBroker struct {
	*Broker
	t     *testing.T
	store *gatedStore
}

func startBroker(t *testing.T, mutate ...func(*Config)) *testBroker {
	t.Helper()
	st := newStore()
	cfg := Config{
		Rides:        st,
		Locations:    st,
		StoreTimeout: time.Second,
		Logger:       logging.Discard(),
		Now:          fixedClock,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	b := New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Run(ctx)
	}()
	tb := &testBroker{Broker: b, t: t, store: st}
	t.Cleanup(func() {
		st.release()
		cancel()
		<-done
	})
	return tb
}

// connect registers a peer and returns it.
func (tb *testBroker) connect(id string) *fakePeer {
	p := newPeer(id)
	tb.Connect(p)
	return p
}

// admin connects a peer and registers it as adminID.
func (tb *testBroker) admin(connID, adminID string) *fakePeer {
	p := tb.connect(connID)
	tb.emit(p, models.EventRegisterAsAdmin, models.RegisterAsAdmin{AdminID: adminID, AdminName: "Name " + adminID})
	tb.settle()
	return p
}

func (tb *testBroker) emit(p *fakePeer, event string, payload any) {
	tb.t.Helper()
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			tb.t.Fatalf("marshal %s: %v", event, err)
		}
		raw = b
	}
	tb.Handle(p.ID(), event, raw)
}

func (tb *testBroker) emitRaw(p *fakePeer, event, raw string) {
	tb.Handle(p.ID(), event, json.RawMessage(raw))
}

// roundTrip returns once every task queued before it has run.
func (tb *testBroker) roundTrip() {
	done := make(chan struct{})
	if !tb.submit(func() { close(done) }) {
		tb.t.Fatal("broker stopped")
	}
	<-done
}

// settle waits until the loop is idle and no store call is outstanding.
func (tb *testBroker) settle() {
	for i := 0; i < 3; i++ {
		tb.roundTrip()
		tb.inflight.Wait()
	}
	tb.roundTrip()
}

// onLoop runs fn on the broker goroutine.
func (tb *testBroker) onLoop(fn func()) {
	done := make(chan struct{})
	tb.submit(func() {
		fn()
		close(done)
	})
	<-done
}
