// Package search maintains an in-memory full-text index over posts,
// fed by the same change stream the feed reconciler consumes.
package search

import (
	"context"
	"log"

	"github.com/blevesearch/bleve"

	"github.com/mohammad-safakhou/deadnet/internal/store"
)

// Source is the store surface the index reads from.
type Source interface {
	ListTopLevelPosts(ctx context.Context) ([]store.PostWithAuthor, error)
	ListReplies(ctx context.Context, parentIDs []string) ([]store.PostWithAuthor, error)
	GetPostWithAuthor(ctx context.Context, id string) (store.PostWithAuthor, bool, error)
	SubscribeChanges(ctx context.Context, h store.ChangeHandlers, logger *log.Logger) (func(), error)
}

type document struct {
	Title    string `json:"title"`
	Body     string `json:"body"`
	Username string `json:"username"`
	Type     string `json:"type"`
}

// Hit is one search result.
type Hit struct {
	ID       string  `json:"id"`
	Score    float64 `json:"score"`
	Title    string  `json:"title,omitempty"`
	Body     string  `json:"body"`
	Username string  `json:"username"`
}

// Index wraps a memory-only bleve index over the posts collection.
type Index struct {
	idx    bleve.Index
	logger *log.Logger
}

// NewIndex creates an empty in-memory index.
func NewIndex(logger *log.Logger) (*Index, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	return &Index{idx: idx, logger: logger}, nil
}

// Start bulk-indexes the current board and follows the change stream
// until ctx is cancelled.
func (i *Index) Start(ctx context.Context, source Source) error {
	posts, err := source.ListTopLevelPosts(ctx)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(posts))
	for _, p := range posts {
		i.indexPost(p)
		ids = append(ids, p.ID)
	}
	for len(ids) > 0 {
		replies, err := source.ListReplies(ctx, ids)
		if err != nil {
			return err
		}
		ids = ids[:0]
		for _, rep := range replies {
			i.indexPost(rep)
			ids = append(ids, rep.ID)
		}
	}

	upsert := func(ev store.ChangeEvent) {
		row, found, err := source.GetPostWithAuthor(ctx, ev.ID)
		if err != nil || !found {
			return
		}
		i.indexPost(row)
	}
	_, err = source.SubscribeChanges(ctx, store.ChangeHandlers{
		OnInsert: upsert,
		OnUpdate: upsert,
		OnDelete: func(ev store.ChangeEvent) {
			if err := i.idx.Delete(ev.ID); err != nil {
				i.logger.Printf("deleting %s from index: %v", ev.ID, err)
			}
		},
	}, i.logger)
	return err
}

func (i *Index) indexPost(p store.PostWithAuthor) {
	doc := document{Title: p.Title, Body: p.Body, Username: p.Username, Type: p.Type}
	if err := i.idx.Index(p.ID, doc); err != nil {
		i.logger.Printf("indexing %s: %v", p.ID, err)
	}
}

// Search runs a query-string search and returns up to limit hits.
func (i *Index) Search(q string, limit int) ([]Hit, error) {
	req := bleve.NewSearchRequestOptions(bleve.NewQueryStringQuery(q), limit, 0, false)
	req.Fields = []string{"title", "body", "username"}
	res, err := i.idx.Search(req)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hit := Hit{ID: h.ID, Score: h.Score}
		if v, ok := h.Fields["title"].(string); ok {
			hit.Title = v
		}
		if v, ok := h.Fields["body"].(string); ok {
			hit.Body = v
		}
		if v, ok := h.Fields["username"].(string); ok {
			hit.Username = v
		}
		hits = append(hits, hit)
	}
	return hits, nil
}
