package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/deadnet/internal/feed"
	"github.com/mohammad-safakhou/deadnet/internal/store"
)

type stubPostsStore struct {
	roots   []store.PostWithAuthor
	replies map[string][]store.PostWithAuthor
	karma   []store.KarmaEntry
	bodies  []string
}

func (s *stubPostsStore) ListTopLevelPosts(ctx context.Context) ([]store.PostWithAuthor, error) {
	return s.roots, nil
}

func (s *stubPostsStore) ListReplies(ctx context.Context, parentIDs []string) ([]store.PostWithAuthor, error) {
	var out []store.PostWithAuthor
	for _, id := range parentIDs {
		out = append(out, s.replies[id]...)
	}
	return out, nil
}

func (s *stubPostsStore) Leaderboard(ctx context.Context, limit int) ([]store.KarmaEntry, error) {
	return s.karma, nil
}

func (s *stubPostsStore) ListPostBodies(ctx context.Context) ([]string, error) {
	return s.bodies, nil
}

type stubFeed struct {
	snap []feed.FeedPost
}

func (f *stubFeed) Snapshot() []feed.FeedPost { return f.snap }
func (f *stubFeed) Subscribe() (<-chan []feed.FeedPost, func()) {
	ch := make(chan []feed.FeedPost, 1)
	return ch, func() {}
}

func topLevel(id, title string) store.PostWithAuthor {
	return store.PostWithAuthor{
		Post:     store.Post{ID: id, Title: title, Body: "body", Type: store.PostTypePost},
		Username: "SwiftOtter1",
	}
}

func replyTo(id, parent string) store.PostWithAuthor {
	return store.PostWithAuthor{
		Post:     store.Post{ID: id, Body: "reply", ReplyingTo: &parent, Type: store.PostTypeComment},
		Username: "CalmPanda7",
	}
}

func doJSON(t *testing.T, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestListPostsGroupsTwoLevels(t *testing.T) {
	st := &stubPostsStore{
		roots: []store.PostWithAuthor{topLevel("p1", "Thread")},
		replies: map[string][]store.PostWithAuthor{
			"p1": {replyTo("c1", "p1")},
			"c1": {replyTo("c2", "c1")},
		},
	}
	h := &PostsHandler{Store: st, Feed: &stubFeed{}}
	e := echo.New()
	h.Register(e.Group("/api"))

	rec := doJSON(t, e, http.MethodGet, "/api/posts", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var out []struct {
		ID      string `json:"id"`
		Replies []struct {
			ID      string `json:"id"`
			Replies []struct {
				ID string `json:"id"`
			} `json:"replies"`
		} `json:"replies"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(out) != 1 || len(out[0].Replies) != 1 || len(out[0].Replies[0].Replies) != 1 {
		t.Fatalf("expected p1 -> c1 -> c2 nesting, got %s", rec.Body.String())
	}
	if out[0].Replies[0].Replies[0].ID != "c2" {
		t.Fatalf("nested reply = %q; want c2", out[0].Replies[0].Replies[0].ID)
	}
}

func TestLiveFeedServesSnapshot(t *testing.T) {
	h := &PostsHandler{
		Store: &stubPostsStore{},
		Feed:  &stubFeed{snap: []feed.FeedPost{{ID: "p1", Title: "Hello"}}},
	}
	e := echo.New()
	h.Register(e.Group("/api"))

	rec := doJSON(t, e, http.MethodGet, "/api/feed", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"id":"p1"`) {
		t.Fatalf("snapshot missing from body: %s", rec.Body.String())
	}
}

func TestLeaderboardWithoutRedis(t *testing.T) {
	h := &PostsHandler{
		Store: &stubPostsStore{karma: []store.KarmaEntry{{Username: "SwiftOtter1", Karma: 9, Posts: 3}}},
		Feed:  &stubFeed{},
	}
	e := echo.New()
	h.Register(e.Group("/api"))

	rec := doJSON(t, e, http.MethodGet, "/api/leaderboard", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var entries []store.KarmaEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(entries) != 1 || entries[0].Karma != 9 {
		t.Fatalf("unexpected entries %+v", entries)
	}
}

func TestWordFrequencyCountsAndOrders(t *testing.T) {
	h := &PostsHandler{
		Store: &stubPostsStore{bodies: []string{
			"Sourdough bread needs patience",
			"bread and more BREAD",
			"cat cat cat", // too short, skipped
		}},
		Feed: &stubFeed{},
	}
	e := echo.New()
	h.Register(e.Group("/api"))

	rec := doJSON(t, e, http.MethodGet, "/api/words", "")
	var words []wordCount
	if err := json.Unmarshal(rec.Body.Bytes(), &words); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(words) == 0 || words[0].Word != "bread" || words[0].Count != 3 {
		t.Fatalf("expected bread x3 first, got %+v", words)
	}
	for _, w := range words {
		if w.Word == "cat" {
			t.Fatalf("short words must be skipped")
		}
	}
}

func TestCreateAgentGeneratesUsername(t *testing.T) {
	st := &stubAgentsStore{}
	h := &AgentsHandler{Store: st}
	e := echo.New()
	h.Register(e.Group("/api/agents"))

	rec := doJSON(t, e, http.MethodPost, "/api/agents", `{"persona":"a grumpy engineer"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if st.created[0].username == "" {
		t.Fatalf("username must be generated when omitted")
	}
}

func TestCreateAgentRequiresPersona(t *testing.T) {
	h := &AgentsHandler{Store: &stubAgentsStore{}}
	e := echo.New()
	h.Register(e.Group("/api/agents"))

	rec := doJSON(t, e, http.MethodPost, "/api/agents", `{"username":"x"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d; want 400", rec.Code)
	}
}

type stubAgentsStore struct {
	created []struct{ username, persona string }
}

func (s *stubAgentsStore) ListAgents(ctx context.Context) ([]store.Agent, error) {
	return nil, nil
}

func (s *stubAgentsStore) CreateAgent(ctx context.Context, username, persona string) (store.Agent, error) {
	s.created = append(s.created, struct{ username, persona string }{username, persona})
	return store.Agent{ID: "a1", Username: username, Persona: persona}, nil
}

type stubRunner struct {
	calls atomic.Int32
	block chan struct{} // non-nil makes RunRecorded wait
}

func (r *stubRunner) RunRecorded(ctx context.Context, cycles, parallelism int, reset bool) (string, error) {
	r.calls.Add(1)
	if r.block != nil {
		<-r.block
	}
	return "run-1", nil
}

type stubRunsStore struct{ runs []store.SimRun }

func (s *stubRunsStore) ListSimRuns(ctx context.Context, limit int) ([]store.SimRun, error) {
	return s.runs, nil
}

func simulationEcho(h *SimulationHandler, secret []byte) *echo.Echo {
	e := echo.New()
	h.Register(e.Group("/api/simulation"), secret)
	return e
}

func TestSimulationRunRequiresAuth(t *testing.T) {
	h := &SimulationHandler{Driver: &stubRunner{}, Store: &stubRunsStore{}, Logger: log.New(log.Writer(), "[TEST] ", log.LstdFlags)}
	e := simulationEcho(h, []byte("secret"))

	rec := doJSON(t, e, http.MethodPost, "/api/simulation/run", `{"cycles":1}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d; want 401", rec.Code)
	}
}

func TestSimulationRunWithBearerToken(t *testing.T) {
	runner := &stubRunner{}
	h := &SimulationHandler{Driver: runner, Store: &stubRunsStore{}, Logger: log.New(log.Writer(), "[TEST] ", log.LstdFlags)}
	secret := []byte("secret")
	e := simulationEcho(h, secret)

	token, err := SignJWT("op-1", secret, time.Hour)
	if err != nil {
		t.Fatalf("SignJWT: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/simulation/run", strings.NewReader(`{"cycles":1,"parallelism":1}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	deadline := time.After(2 * time.Second)
	for runner.calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatalf("run never started")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func TestSimulationRunConflictWhileRunning(t *testing.T) {
	runner := &stubRunner{block: make(chan struct{})}
	defer close(runner.block)
	h := &SimulationHandler{Driver: runner, Store: &stubRunsStore{}, Logger: log.New(log.Writer(), "[TEST] ", log.LstdFlags)}
	secret := []byte("secret")
	e := simulationEcho(h, secret)
	token, _ := SignJWT("op-1", secret, time.Hour)

	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/simulation/run", strings.NewReader(`{}`))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec.Code
	}
	if code := send(); code != http.StatusAccepted {
		t.Fatalf("first run status = %d", code)
	}
	if code := send(); code != http.StatusConflict {
		t.Fatalf("overlapping run status = %d; want 409", code)
	}
}

func TestWithAuthRejectsExpiredToken(t *testing.T) {
	secret := []byte("secret")
	token, err := SignJWT("op-1", secret, -time.Minute)
	if err != nil {
		t.Fatalf("SignJWT: %v", err)
	}
	e := echo.New()
	e.GET("/private", withAuth(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}, secret))

	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d; want 401", rec.Code)
	}
}

func TestWithAuthAcceptsCookie(t *testing.T) {
	secret := []byte("secret")
	token, _ := SignJWT("op-1", secret, time.Hour)
	e := echo.New()
	e.GET("/private", withAuth(func(c echo.Context) error {
		return c.String(http.StatusOK, c.Get("operator_id").(string))
	}, secret))

	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	req.AddCookie(&http.Cookie{Name: "auth", Value: token})
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "op-1" {
		t.Fatalf("status = %d, body = %q", rec.Code, rec.Body.String())
	}
}
