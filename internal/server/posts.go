package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/deadnet/internal/feed"
	"github.com/mohammad-safakhou/deadnet/internal/search"
	"github.com/mohammad-safakhou/deadnet/internal/store"
)

const leaderboardCacheKey = "deadnet:leaderboard"

// PostsStore is the read surface the board handlers need.
type PostsStore interface {
	ListTopLevelPosts(ctx context.Context) ([]store.PostWithAuthor, error)
	ListReplies(ctx context.Context, parentIDs []string) ([]store.PostWithAuthor, error)
	Leaderboard(ctx context.Context, limit int) ([]store.KarmaEntry, error)
	ListPostBodies(ctx context.Context) ([]string, error)
}

// FeedSource is the live-tree surface. *feed.Reconciler satisfies it.
type FeedSource interface {
	Snapshot() []feed.FeedPost
	Subscribe() (<-chan []feed.FeedPost, func())
}

// PostsHandler serves the read-only board surface: raw posts, the live
// feed tree, search, leaderboard and word stats.
type PostsHandler struct {
	Store  PostsStore
	Feed   FeedSource
	Search *search.Index
	Rdb    *redis.Client // nil disables the leaderboard cache
}

func (h *PostsHandler) Register(g *echo.Group) {
	g.GET("/posts", h.listPosts)
	g.GET("/feed", h.liveFeed)
	g.GET("/feed/stream", h.streamFeed)
	g.GET("/search", h.searchPosts)
	g.GET("/leaderboard", h.leaderboard)
	g.GET("/words", h.wordFrequency)
}

type threadedPost struct {
	store.PostWithAuthor
	Replies []threadedPost `json:"replies,omitempty"`
}

// listPosts fetches the board fresh from the store, two comment levels
// deep, grouped by parent. The live tree in /feed is the cheap path;
// this one always reflects the store.
func (h *PostsHandler) listPosts(c echo.Context) error {
	ctx := c.Request().Context()
	roots, err := h.Store.ListTopLevelPosts(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	ids := make([]string, len(roots))
	for i, p := range roots {
		ids[i] = p.ID
	}
	level1, err := h.Store.ListReplies(ctx, ids)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	ids = ids[:0]
	for _, p := range level1 {
		ids = append(ids, p.ID)
	}
	level2, err := h.Store.ListReplies(ctx, ids)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	byParent := make(map[string][]store.PostWithAuthor)
	for _, p := range append(level1, level2...) {
		byParent[*p.ReplyingTo] = append(byParent[*p.ReplyingTo], p)
	}
	var attach func(p store.PostWithAuthor) threadedPost
	attach = func(p store.PostWithAuthor) threadedPost {
		tp := threadedPost{PostWithAuthor: p}
		for _, child := range byParent[p.ID] {
			tp.Replies = append(tp.Replies, attach(child))
		}
		return tp
	}
	out := make([]threadedPost, 0, len(roots))
	for _, p := range roots {
		out = append(out, attach(p))
	}
	return c.JSON(http.StatusOK, out)
}

func (h *PostsHandler) liveFeed(c echo.Context) error {
	return c.JSON(http.StatusOK, h.Feed.Snapshot())
}

// streamFeed is the SSE surface: the current snapshot immediately, then
// a fresh snapshot after every applied change event.
func (h *PostsHandler) streamFeed(c echo.Context) error {
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)

	write := func(snap []feed.FeedPost) error {
		payload, err := json.Marshal(snap)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(res, "data: %s\n\n", payload); err != nil {
			return err
		}
		res.Flush()
		return nil
	}

	if err := write(h.Feed.Snapshot()); err != nil {
		return nil
	}
	updates, cancel := h.Feed.Subscribe()
	defer cancel()
	for {
		select {
		case <-c.Request().Context().Done():
			return nil
		case snap := <-updates:
			if err := write(snap); err != nil {
				return nil
			}
		}
	}
}

func (h *PostsHandler) searchPosts(c echo.Context) error {
	q := strings.TrimSpace(c.QueryParam("q"))
	if q == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q required")
	}
	limit := intQuery(c, "limit", 20)
	hits, err := h.Search.Search(q, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, hits)
}

func (h *PostsHandler) leaderboard(c echo.Context) error {
	ctx := c.Request().Context()
	limit := intQuery(c, "limit", 20)
	cacheKey := fmt.Sprintf("%s:%d", leaderboardCacheKey, limit)
	if h.Rdb != nil {
		if cached, err := h.Rdb.Get(ctx, cacheKey).Result(); err == nil {
			return c.JSONBlob(http.StatusOK, []byte(cached))
		}
	}
	entries, err := h.Store.Leaderboard(ctx, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if h.Rdb != nil {
		if payload, err := json.Marshal(entries); err == nil {
			h.Rdb.Set(ctx, cacheKey, payload, 30*time.Second)
		}
	}
	return c.JSON(http.StatusOK, entries)
}

type wordCount struct {
	Word  string `json:"word"`
	Count int    `json:"count"`
}

// wordFrequency tallies the most common words across all post bodies.
// Words of three letters or fewer are noise and skipped.
func (h *PostsHandler) wordFrequency(c echo.Context) error {
	bodies, err := h.Store.ListPostBodies(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	counts := make(map[string]int)
	for _, body := range bodies {
		words := strings.FieldsFunc(strings.ToLower(body), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		})
		for _, w := range words {
			if len(w) <= 3 {
				continue
			}
			counts[w]++
		}
	}
	out := make([]wordCount, 0, len(counts))
	for w, n := range counts {
		out = append(out, wordCount{Word: w, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Word < out[j].Word
	})
	if limit := intQuery(c, "limit", 50); len(out) > limit {
		out = out[:limit]
	}
	return c.JSON(http.StatusOK, out)
}

func intQuery(c echo.Context, name string, def int) int {
	if v := c.QueryParam(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
