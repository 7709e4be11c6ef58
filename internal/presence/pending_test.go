package presence

import "testing"

func TestPendingEnqueueOverwrites(t *testing.T) {
	q := NewPendingQueue()
	first := q.Enqueue("u1", "c1", "", " t1 ")
	second := q.Enqueue("u1", "c2", "Uma", "t2")

	if first.TrackingID != "t1" || first.UserName != "u1" {
		t.Fatalf("first entry = %+v", first)
	}
	if q.Len() != 1 {
		t.Fatalf("len = %d, want 1", q.Len())
	}
	got, ok := q.Get("u1")
	if !ok || got != second || got.OriginConn != "c2" || got.State != Pending {
		t.Fatalf("stored entry = %+v", got)
	}
	if _, ok := q.Current("u1", first.Seq); ok {
		t.Fatal("superseded entry still reported current")
	}
	q.MarkUnrouted("u1", first.Seq)
	if got.State != Pending {
		t.Fatal("stale MarkUnrouted changed the new entry")
	}
	q.MarkUnrouted("u1", second.Seq)
	if got.State != AdminUnavailable {
		t.Fatalf("state = %s, want admin_unavailable", got.State)
	}
}

func TestPendingListForFiltersInOrder(t *testing.T) {
	q := NewPendingQueue()
	q.Enqueue("u1", "c1", "", "A")
	q.Enqueue("u2", "c2", "", "B")
	q.Enqueue("u3", "c3", "", "A")

	list := q.ListFor(map[string]struct{}{"A": {}})
	if len(list) != 2 || list[0].UserID != "u1" || list[1].UserID != "u3" {
		t.Fatalf("list = %+v", list)
	}
	if empty := q.ListFor(nil); empty == nil || len(empty) != 0 {
		t.Fatalf("unauthorized list = %#v", empty)
	}
	ids := q.TrackingIDs()
	if len(ids) != 2 || ids[0] != "A" || ids[1] != "B" {
		t.Fatalf("tracking ids = %v", ids)
	}
}

func TestPendingTakeOnce(t *testing.T) {
	q := NewPendingQueue()
	q.Enqueue("u1", "c1", "", "A")

	e, ok := q.Take("u1")
	if !ok || e.State != Accepted {
		t.Fatalf("take = %+v ok=%v", e, ok)
	}
	if _, ok := q.Take("u1"); ok {
		t.Fatal("second take should fail")
	}
	if q.Remove("u1") {
		t.Fatal("remove after take should fail")
	}
}

func TestPendingRemoveByOrigin(t *testing.T) {
	q := NewPendingQueue()
	q.Enqueue("u1", "c1", "", "A")
	q.Enqueue("u2", "c2", "", "B")
	q.Enqueue("u3", "c1", "", "C")

	removed := q.RemoveByOrigin("c1")
	if len(removed) != 2 || removed[0] != "u1" || removed[1] != "u3" {
		t.Fatalf("removed = %v", removed)
	}
	if q.Len() != 1 {
		t.Fatalf("len = %d, want 1", q.Len())
	}
	if again := q.RemoveByOrigin("c1"); len(again) != 0 {
		t.Fatalf("second pass removed %v", again)
	}
}
