package feed

import (
	"context"
	"log"
	"sync"

	"github.com/mohammad-safakhou/deadnet/internal/store"
	"github.com/mohammad-safakhou/deadnet/internal/telemetry"
)

// Source is the store surface the reconciler reads from. *store.Store
// satisfies it.
type Source interface {
	ListTopLevelPosts(ctx context.Context) ([]store.PostWithAuthor, error)
	ListReplies(ctx context.Context, parentIDs []string) ([]store.PostWithAuthor, error)
	GetPostWithAuthor(ctx context.Context, id string) (store.PostWithAuthor, bool, error)
	SubscribeChanges(ctx context.Context, h store.ChangeHandlers, logger *log.Logger) (func(), error)
}

// Reconciler subscribes to the posts change stream and incrementally
// maintains the reply tree, without refetching the whole tree per event.
// Event handling is single-threaded: one change at a time, in delivery
// order. Events for rows whose parent has not been materialized are
// dropped, not retried; that eventual-consistency gap is accepted.
type Reconciler struct {
	source  Source
	tree    *Tree
	logger  *log.Logger
	metrics *telemetry.Metrics

	events chan store.ChangeEvent

	// treeMu guards the tree: the event loop writes, HTTP handlers read
	treeMu sync.Mutex

	mu     sync.Mutex
	subs   map[int]chan []FeedPost
	nextID int
}

// NewReconciler wires a reconciler around an empty tree.
func NewReconciler(source Source, tree *Tree, logger *log.Logger, metrics *telemetry.Metrics) *Reconciler {
	return &Reconciler{
		source:  source,
		tree:    tree,
		logger:  logger,
		metrics: metrics,
		events:  make(chan store.ChangeEvent, 256),
		subs:    make(map[int]chan []FeedPost),
	}
}

// Start builds the initial tree from a full fetch, subscribes to the
// change stream and processes events until ctx is cancelled.
func (r *Reconciler) Start(ctx context.Context) error {
	if err := r.rebuild(ctx); err != nil {
		return err
	}

	push := func(ev store.ChangeEvent) {
		select {
		case r.events <- ev:
		default:
			r.logger.Printf("event buffer full, dropping %s %s", ev.Op, ev.ID)
			r.metrics.ReconcilerEvents.WithLabelValues(ev.Op, "dropped").Inc()
		}
	}
	unsubscribe, err := r.source.SubscribeChanges(ctx, store.ChangeHandlers{
		OnInsert: push,
		OnUpdate: push,
		OnDelete: push,
	}, r.logger)
	if err != nil {
		return err
	}

	go func() {
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-r.events:
				r.HandleEvent(ctx, ev)
				r.broadcast()
			}
		}
	}()
	return nil
}

// rebuild materializes the full tree: top-level posts, then all replies
// two levels deep, grouped client-side by parent.
func (r *Reconciler) rebuild(ctx context.Context) error {
	posts, err := r.source.ListTopLevelPosts(ctx)
	if err != nil {
		return err
	}
	all := append([]store.PostWithAuthor(nil), posts...)
	ids := make([]string, len(posts))
	for i, p := range posts {
		ids[i] = p.ID
	}
	for len(ids) > 0 {
		replies, err := r.source.ListReplies(ctx, ids)
		if err != nil {
			return err
		}
		if len(replies) == 0 {
			break
		}
		all = append(all, replies...)
		ids = ids[:0]
		for _, rep := range replies {
			ids = append(ids, rep.ID)
		}
	}
	r.treeMu.Lock()
	r.tree.Build(all)
	r.treeMu.Unlock()
	return nil
}

// HandleEvent applies one change event to the tree. Safe to call
// directly in tests; Start serializes calls in production.
func (r *Reconciler) HandleEvent(ctx context.Context, ev store.ChangeEvent) {
	r.treeMu.Lock()
	defer r.treeMu.Unlock()
	applied := false
	switch ev.Op {
	case store.OpInsert:
		row, found, err := r.source.GetPostWithAuthor(ctx, ev.ID)
		if err != nil || !found {
			r.logger.Printf("insert %s: row fetch failed (found=%v err=%v)", ev.ID, found, err)
			break
		}
		applied = r.tree.Insert(row)
	case store.OpUpdate:
		row, found, err := r.source.GetPostWithAuthor(ctx, ev.ID)
		if err != nil || !found {
			r.logger.Printf("update %s: row fetch failed (found=%v err=%v)", ev.ID, found, err)
			break
		}
		applied = r.tree.Update(row)
	case store.OpDelete:
		applied = r.tree.Delete(ev.ID)
	default:
		r.logger.Printf("unknown change op %q", ev.Op)
		return
	}
	outcome := "applied"
	if !applied {
		outcome = "dropped"
	}
	r.metrics.ReconcilerEvents.WithLabelValues(ev.Op, outcome).Inc()
}

// Snapshot renders the current tree.
func (r *Reconciler) Snapshot() []FeedPost {
	r.treeMu.Lock()
	defer r.treeMu.Unlock()
	return r.tree.Snapshot()
}

// Subscribe returns a channel receiving a fresh snapshot after every
// applied event, plus a cancel func. Slow consumers miss snapshots
// rather than blocking the event loop.
func (r *Reconciler) Subscribe() (<-chan []FeedPost, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	ch := make(chan []FeedPost, 1)
	r.subs[id] = ch
	return ch, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.subs, id)
	}
}

func (r *Reconciler) broadcast() {
	snap := r.Snapshot()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.subs {
		select {
		case ch <- snap:
		default:
			// replace the stale pending snapshot with the fresh one
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}
