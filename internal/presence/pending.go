package presence

import (
	"sort"
	"strings"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
)

// PendingEntry is a chat request waiting for an admin.
type PendingEntry struct {
	UserID     string
	OriginConn string
	UserName   string
	TrackingID string
	State      RequestState
	// Seq increases with every enqueue, so a handler resuming after a store
	// call can tell whether the entry it started with was replaced.
	Seq uint64
}

func (e *PendingEntry) summary() models.PendingSummary {
	return models.PendingSummary{UserID: e.UserID, UserName: e.UserName, TrackingID: e.TrackingID}
}

// PendingQueue maps a requesting user to its open chat request. At most one
// entry exists per user; a new request replaces the old one.
type PendingQueue struct {
	entries map[string]*PendingEntry
	seq     uint64
}

func NewPendingQueue() *PendingQueue {
	return &PendingQueue{entries: make(map[string]*PendingEntry)}
}

// Enqueue stores a request for userID, replacing any earlier one.
func (q *PendingQueue) Enqueue(userID, originConn, displayName, trackingID string) *PendingEntry {
	if displayName == "" {
		displayName = userID
	}
	state, _ := NoRequest.Next(Raise)
	q.seq++
	e := &PendingEntry{
		UserID:     userID,
		OriginConn: originConn,
		UserName:   displayName,
		TrackingID: strings.TrimSpace(trackingID),
		State:      state,
		Seq:        q.seq,
	}
	q.entries[userID] = e
	observability.RequestTransitions.WithLabelValues(state.String()).Inc()
	observability.PendingChats.Set(float64(len(q.entries)))
	return e
}

func (q *PendingQueue) Get(userID string) (*PendingEntry, bool) {
	e, ok := q.entries[userID]
	return e, ok
}

// Current reports whether the entry with the given sequence is still the
// one stored for userID.
func (q *PendingQueue) Current(userID string, seq uint64) (*PendingEntry, bool) {
	e, ok := q.entries[userID]
	if !ok || e.Seq != seq {
		return nil, false
	}
	return e, true
}

// MarkUnrouted moves the entry to AdminUnavailable if it is still current.
func (q *PendingQueue) MarkUnrouted(userID string, seq uint64) {
	e, ok := q.Current(userID, seq)
	if !ok {
		return
	}
	q.advance(e, Unrouted)
}

// TrackingIDs returns the distinct tracking identifiers of all entries.
func (q *PendingQueue) TrackingIDs() []string {
	seen := make(map[string]struct{}, len(q.entries))
	out := make([]string, 0, len(q.entries))
	for _, e := range q.ordered() {
		if _, dup := seen[e.TrackingID]; dup {
			continue
		}
		seen[e.TrackingID] = struct{}{}
		out = append(out, e.TrackingID)
	}
	return out
}

// ListFor returns, in enqueue order, every entry whose tracking identifier is
// in authorized. The result is never nil.
func (q *PendingQueue) ListFor(authorized map[string]struct{}) []models.PendingSummary {
	out := make([]models.PendingSummary, 0)
	for _, e := range q.ordered() {
		if _, ok := authorized[e.TrackingID]; ok {
			out = append(out, e.summary())
		}
	}
	return out
}

// Take removes and returns the entry for userID, moving it to Accepted. Only
// the first Take for an entry succeeds.
func (q *PendingQueue) Take(userID string) (*PendingEntry, bool) {
	e, ok := q.entries[userID]
	if !ok {
		return nil, false
	}
	delete(q.entries, userID)
	q.advance(e, Accept)
	observability.PendingChats.Set(float64(len(q.entries)))
	return e, true
}

// Remove cancels the entry for userID.
func (q *PendingQueue) Remove(userID string) bool {
	e, ok := q.entries[userID]
	if !ok {
		return false
	}
	delete(q.entries, userID)
	q.advance(e, Withdraw)
	observability.PendingChats.Set(float64(len(q.entries)))
	return true
}

// RemoveByOrigin cancels every entry raised from connID and returns the
// affected user ids in enqueue order.
func (q *PendingQueue) RemoveByOrigin(connID string) []string {
	var removed []string
	for _, e := range q.ordered() {
		if e.OriginConn == connID {
			removed = append(removed, e.UserID)
		}
	}
	for _, userID := range removed {
		q.Remove(userID)
	}
	return removed
}

func (q *PendingQueue) Len() int { return len(q.entries) }

func (q *PendingQueue) advance(e *PendingEntry, t Transition) {
	next, err := e.State.Next(t)
	if err != nil {
		return
	}
	e.State = next
	observability.RequestTransitions.WithLabelValues(next.String()).Inc()
}

func (q *PendingQueue) ordered() []*PendingEntry {
	out := make([]*PendingEntry, 0, len(q.entries))
	for _, e := range q.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}
