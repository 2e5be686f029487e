// Package feed maintains the live nested reply tree: top-level posts
// newest-first as roots, each subtree's replies oldest-first. The tree
// is an arena of nodes keyed by id with children index lists, so
// locating a node anywhere in the tree is a map lookup, not a walk.
package feed

import (
	"sort"
	"time"

	"github.com/mohammad-safakhou/deadnet/internal/store"
)

// Transient score indicators.
const (
	TrendUp   = "up"
	TrendDown = "down"
)

type node struct {
	post       store.PostWithAuthor
	children   []string // oldest-first
	newUntil   time.Time
	scoreTrend string
	trendUntil time.Time
}

// Tree is the materialized reply forest. Not safe for concurrent use;
// the reconciler serializes all access.
type Tree struct {
	nodes   map[string]*node
	roots   []string // newest-first
	markTTL time.Duration
	now     func() time.Time
}

// NewTree creates an empty tree whose transient marks expire after
// markTTL.
func NewTree(markTTL time.Duration) *Tree {
	return &Tree{
		nodes:   make(map[string]*node),
		markTTL: markTTL,
		now:     time.Now,
	}
}

// SetClock overrides the mark-expiry clock. Tests use this.
func (t *Tree) SetClock(now func() time.Time) { t.now = now }

// Build replaces the tree contents from a full fetch. Roots are sorted
// newest-first, children oldest-first. Rows whose parent is absent from
// the input are dropped, along with their descendants: nothing is ever
// left dangling outside the tree.
func (t *Tree) Build(posts []store.PostWithAuthor) {
	t.nodes = make(map[string]*node, len(posts))
	t.roots = t.roots[:0]

	byID := make(map[string]store.PostWithAuthor, len(posts))
	for _, p := range posts {
		byID[p.ID] = p
	}

	// a row is kept only if its ancestor chain terminates at a root
	// present in the input; walks are bounded so an externally injected
	// cycle degrades to a drop instead of a hang
	reachable := func(p store.PostWithAuthor) bool {
		seen := map[string]bool{}
		for p.ReplyingTo != nil {
			if seen[p.ID] {
				return false
			}
			seen[p.ID] = true
			parent, ok := byID[*p.ReplyingTo]
			if !ok {
				return false
			}
			p = parent
		}
		return true
	}

	var kept []store.PostWithAuthor
	for _, p := range posts {
		if reachable(p) {
			kept = append(kept, p)
			t.nodes[p.ID] = &node{post: p}
		}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].CreatedAt.Before(kept[j].CreatedAt)
	})
	for _, p := range kept {
		if p.ReplyingTo == nil {
			// oldest processed first, prepend: roots end up newest-first
			t.roots = append([]string{p.ID}, t.roots...)
		} else {
			parent := t.nodes[*p.ReplyingTo]
			parent.children = append(parent.children, p.ID)
		}
	}
}

// Insert applies an insert event. New roots are prepended; replies are
// appended to their parent's children. An insert whose parent has not
// been materialized yet is dropped (the documented reconciliation gap).
// Returns whether the event was applied.
func (t *Tree) Insert(p store.PostWithAuthor) bool {
	if existing, ok := t.nodes[p.ID]; ok {
		// duplicate delivery: refresh fields, keep position and subtree
		existing.post = p
		return true
	}
	n := &node{post: p, newUntil: t.now().Add(t.markTTL)}
	if p.ReplyingTo == nil {
		t.nodes[p.ID] = n
		t.roots = append([]string{p.ID}, t.roots...)
		return true
	}
	parent, ok := t.nodes[*p.ReplyingTo]
	if !ok {
		return false
	}
	t.nodes[p.ID] = n
	parent.children = append(parent.children, p.ID)
	return true
}

// Update applies an update event: mutable fields are replaced in place,
// the replies subtree is preserved. A score change sets a transient
// directional indicator. Updates for unknown nodes are dropped.
func (t *Tree) Update(p store.PostWithAuthor) bool {
	n, ok := t.nodes[p.ID]
	if !ok {
		return false
	}
	if p.Score > n.post.Score {
		n.scoreTrend = TrendUp
		n.trendUntil = t.now().Add(t.markTTL)
	} else if p.Score < n.post.Score {
		n.scoreTrend = TrendDown
		n.trendUntil = t.now().Add(t.markTTL)
	}
	n.post.Score = p.Score
	n.post.Title = p.Title
	n.post.Body = p.Body
	return true
}

// Delete removes the node and its whole subtree from wherever it
// appears. Deletes for unknown nodes are dropped.
func (t *Tree) Delete(id string) bool {
	n, ok := t.nodes[id]
	if !ok {
		return false
	}
	if n.post.ReplyingTo == nil {
		t.roots = removeID(t.roots, id)
	} else if parent, ok := t.nodes[*n.post.ReplyingTo]; ok {
		parent.children = removeID(parent.children, id)
	}
	t.prune(id)
	return true
}

func (t *Tree) prune(id string) {
	n, ok := t.nodes[id]
	if !ok {
		return
	}
	for _, c := range n.children {
		t.prune(c)
	}
	delete(t.nodes, id)
}

// Len returns the number of materialized nodes.
func (t *Tree) Len() int { return len(t.nodes) }

// FeedPost is the rendered form of a node: the post, its author display
// fields, the transient marks, and its nested replies.
type FeedPost struct {
	ID         string     `json:"id"`
	CreatedAt  time.Time  `json:"created_at"`
	Score      int        `json:"score"`
	Title      string     `json:"title,omitempty"`
	Body       string     `json:"body"`
	Username   string     `json:"username"`
	Type       string     `json:"type"`
	New        bool       `json:"new,omitempty"`
	ScoreTrend string     `json:"score_trend,omitempty"`
	Replies    []FeedPost `json:"replies,omitempty"`
}

// Snapshot renders the whole tree. Transient marks are evaluated against
// the clock at render time; expired marks simply stop appearing.
func (t *Tree) Snapshot() []FeedPost {
	now := t.now()
	out := make([]FeedPost, 0, len(t.roots))
	for _, id := range t.roots {
		out = append(out, t.render(id, now))
	}
	return out
}

func (t *Tree) render(id string, now time.Time) FeedPost {
	n := t.nodes[id]
	fp := FeedPost{
		ID:        n.post.ID,
		CreatedAt: n.post.CreatedAt,
		Score:     n.post.Score,
		Title:     n.post.Title,
		Body:      n.post.Body,
		Username:  n.post.Username,
		Type:      n.post.Type,
	}
	if now.Before(n.newUntil) {
		fp.New = true
	}
	if n.scoreTrend != "" && now.Before(n.trendUntil) {
		fp.ScoreTrend = n.scoreTrend
	}
	for _, c := range n.children {
		fp.Replies = append(fp.Replies, t.render(c, now))
	}
	return fp
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
