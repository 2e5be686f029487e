package feed

import (
	"testing"
	"time"

	"github.com/mohammad-safakhou/deadnet/internal/store"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func post(id string, at time.Time) store.PostWithAuthor {
	return store.PostWithAuthor{
		Post:     store.Post{ID: id, CreatedAt: at, Title: "t-" + id, Body: "b-" + id, Type: store.PostTypePost},
		Username: "u-" + id,
	}
}

func comment(id, parent string, at time.Time) store.PostWithAuthor {
	return store.PostWithAuthor{
		Post:     store.Post{ID: id, CreatedAt: at, Body: "b-" + id, ReplyingTo: &parent, Type: store.PostTypeComment},
		Username: "u-" + id,
	}
}

func rootIDs(snap []FeedPost) []string {
	ids := make([]string, len(snap))
	for i, p := range snap {
		ids[i] = p.ID
	}
	return ids
}

func TestBuildOrdersRootsNewestFirst(t *testing.T) {
	tr := NewTree(time.Second)
	tr.Build([]store.PostWithAuthor{
		post("p1", t0),
		post("p3", t0.Add(2*time.Minute)),
		post("p2", t0.Add(time.Minute)),
	})
	got := rootIDs(tr.Snapshot())
	want := []string{"p3", "p2", "p1"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("roots = %v; want %v", got, want)
		}
	}
}

func TestBuildNestsRepliesOldestFirst(t *testing.T) {
	tr := NewTree(time.Second)
	tr.Build([]store.PostWithAuthor{
		post("p1", t0),
		comment("c2", "p1", t0.Add(2*time.Minute)),
		comment("c1", "p1", t0.Add(time.Minute)),
		comment("c3", "c1", t0.Add(3*time.Minute)),
	})
	snap := tr.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected single root, got %d", len(snap))
	}
	replies := snap[0].Replies
	if len(replies) != 2 || replies[0].ID != "c1" || replies[1].ID != "c2" {
		t.Fatalf("replies = %v; want [c1 c2]", rootIDs(replies))
	}
	if len(replies[0].Replies) != 1 || replies[0].Replies[0].ID != "c3" {
		t.Fatalf("nested reply missing: %+v", replies[0])
	}
}

func TestBuildDropsOrphanSubtrees(t *testing.T) {
	tr := NewTree(time.Second)
	tr.Build([]store.PostWithAuthor{
		post("p1", t0),
		comment("orphan", "missing", t0.Add(time.Minute)),
		comment("grandchild", "orphan", t0.Add(2*time.Minute)),
	})
	if tr.Len() != 1 {
		t.Fatalf("orphan chain must be dropped entirely, have %d nodes", tr.Len())
	}
}

func TestInsertPrependsNewRoot(t *testing.T) {
	tr := NewTree(time.Second)
	tr.Build([]store.PostWithAuthor{post("p1", t0)})
	if !tr.Insert(post("p2", t0.Add(time.Minute))) {
		t.Fatalf("root insert must apply")
	}
	got := rootIDs(tr.Snapshot())
	if got[0] != "p2" || got[1] != "p1" {
		t.Fatalf("roots = %v; want [p2 p1]", got)
	}
}

func TestInsertOrphanCommentDroppedForGood(t *testing.T) {
	tr := NewTree(time.Second)
	tr.Build([]store.PostWithAuthor{post("p1", t0)})
	if tr.Insert(comment("c1", "missing", t0.Add(time.Minute))) {
		t.Fatalf("orphan insert must be dropped")
	}
	// materializing the parent later does not resurrect the orphan
	if !tr.Insert(post("missing", t0.Add(2*time.Minute))) {
		t.Fatalf("parent insert must apply")
	}
	for _, root := range tr.Snapshot() {
		if len(root.Replies) != 0 {
			t.Fatalf("dropped orphan reappeared under %s", root.ID)
		}
	}
}

func TestInsertDuplicateKeepsPositionAndSubtree(t *testing.T) {
	tr := NewTree(time.Second)
	tr.Build([]store.PostWithAuthor{
		post("p1", t0),
		post("p2", t0.Add(time.Minute)),
		comment("c1", "p1", t0.Add(2*time.Minute)),
	})
	dup := post("p1", t0)
	dup.Body = "edited"
	if !tr.Insert(dup) {
		t.Fatalf("duplicate insert must apply as refresh")
	}
	snap := tr.Snapshot()
	if got := rootIDs(snap); got[0] != "p2" || got[1] != "p1" {
		t.Fatalf("duplicate insert moved roots: %v", got)
	}
	if snap[1].Body != "edited" {
		t.Fatalf("duplicate insert must refresh fields, body = %q", snap[1].Body)
	}
	if len(snap[1].Replies) != 1 {
		t.Fatalf("duplicate insert must keep the subtree")
	}
}

func TestUpdateSetsScoreTrend(t *testing.T) {
	tr := NewTree(time.Minute)
	now := t0
	tr.SetClock(func() time.Time { return now })
	tr.Build([]store.PostWithAuthor{post("p1", t0)})

	up := post("p1", t0)
	up.Score = 3
	if !tr.Update(up) {
		t.Fatalf("update must apply")
	}
	if snap := tr.Snapshot(); snap[0].ScoreTrend != TrendUp || snap[0].Score != 3 {
		t.Fatalf("expected up trend with score 3, got %+v", snap[0])
	}

	down := post("p1", t0)
	down.Score = 1
	tr.Update(down)
	if snap := tr.Snapshot(); snap[0].ScoreTrend != TrendDown {
		t.Fatalf("expected down trend, got %+v", snap[0])
	}

	// marks expire once the clock passes the TTL
	now = now.Add(2 * time.Minute)
	if snap := tr.Snapshot(); snap[0].ScoreTrend != "" {
		t.Fatalf("trend mark must expire, got %q", snap[0].ScoreTrend)
	}
}

func TestUpdateUnknownNodeDropped(t *testing.T) {
	tr := NewTree(time.Second)
	if tr.Update(post("ghost", t0)) {
		t.Fatalf("update of unknown node must be dropped")
	}
}

func TestNewMarkExpires(t *testing.T) {
	tr := NewTree(time.Minute)
	now := t0
	tr.SetClock(func() time.Time { return now })
	tr.Build([]store.PostWithAuthor{post("p1", t0)})
	tr.Insert(post("p2", t0.Add(time.Second)))

	snap := tr.Snapshot()
	if !snap[0].New {
		t.Fatalf("fresh insert must carry the new mark")
	}
	if snap[1].New {
		t.Fatalf("built posts never carry the new mark")
	}
	now = now.Add(2 * time.Minute)
	if snap := tr.Snapshot(); snap[0].New {
		t.Fatalf("new mark must expire")
	}
}

func TestDeleteRemovesSubtree(t *testing.T) {
	tr := NewTree(time.Second)
	tr.Build([]store.PostWithAuthor{
		post("p1", t0),
		post("p2", t0.Add(time.Minute)),
		comment("c1", "p1", t0.Add(2*time.Minute)),
		comment("c2", "c1", t0.Add(3*time.Minute)),
	})
	if !tr.Delete("p1") {
		t.Fatalf("delete must apply")
	}
	if tr.Len() != 1 {
		t.Fatalf("subtree must be pruned, have %d nodes", tr.Len())
	}
	if got := rootIDs(tr.Snapshot()); len(got) != 1 || got[0] != "p2" {
		t.Fatalf("roots = %v; want [p2]", got)
	}
	if tr.Delete("p1") {
		t.Fatalf("second delete must be dropped")
	}
}

func TestDeleteComment(t *testing.T) {
	tr := NewTree(time.Second)
	tr.Build([]store.PostWithAuthor{
		post("p1", t0),
		comment("c1", "p1", t0.Add(time.Minute)),
		comment("c2", "p1", t0.Add(2*time.Minute)),
	})
	if !tr.Delete("c1") {
		t.Fatalf("comment delete must apply")
	}
	snap := tr.Snapshot()
	if len(snap[0].Replies) != 1 || snap[0].Replies[0].ID != "c2" {
		t.Fatalf("replies = %v; want [c2]", rootIDs(snap[0].Replies))
	}
}
