package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Post types persisted in the posts table.
const (
	PostTypePost    = "post"
	PostTypeComment = "comment"
)

// Simulation run statuses.
const (
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)

// Store wraps the shared Postgres handle. Every component receives a
// *Store (or an interface it satisfies) by injection.
type Store struct {
	DB  *sql.DB
	dsn string
}

// NewWithDSN opens a Postgres connection and verifies it.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{DB: db, dsn: dsn}, nil
}

// Agent is a simulated persona driven by the decision oracle.
type Agent struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Persona   string    `json:"persona"`
	Memory    string    `json:"memory"`
	CreatedAt time.Time `json:"created_at"`
}

// Post is a feed entry: a root post (type=post, replying_to null) or a
// comment (type=comment, replying_to set).
type Post struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	Score      int       `json:"score"`
	Title      string    `json:"title,omitempty"`
	Body       string    `json:"body"`
	Author     string    `json:"author"`
	ReplyingTo *string   `json:"replying_to"`
	Type       string    `json:"type"`
}

// PostWithAuthor joins a post row with its author's display fields.
type PostWithAuthor struct {
	Post
	Username string `json:"username"`
	Persona  string `json:"persona"`
}

// NewPost carries the insertable fields of a post.
type NewPost struct {
	Title      string
	Body       string
	Author     string
	ReplyingTo *string
	Type       string
}

// SimRun is one recorded invocation of the simulation driver.
type SimRun struct {
	ID          string     `json:"id"`
	Cycles      int        `json:"cycles"`
	Parallelism int        `json:"parallelism"`
	Status      string     `json:"status"`
	Error       *string    `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// ListAgents returns all agent profiles.
func (s *Store) ListAgents(ctx context.Context) ([]Agent, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, username, persona, memory, created_at FROM agents ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Agent
	for rows.Next() {
		var a Agent
		if err := rows.Scan(&a.ID, &a.Username, &a.Persona, &a.Memory, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CreateAgent inserts a new agent profile and returns the stored row.
func (s *Store) CreateAgent(ctx context.Context, username, persona string) (Agent, error) {
	var a Agent
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO agents (username, persona) VALUES ($1, $2)
RETURNING id, username, persona, memory, created_at`,
		username, persona).Scan(&a.ID, &a.Username, &a.Persona, &a.Memory, &a.CreatedAt)
	if err != nil {
		return Agent{}, err
	}
	return a, nil
}

// AppendAgentMemory appends a line to an agent's free-text memory log.
// Memory is append-only; nothing here ever truncates it.
func (s *Store) AppendAgentMemory(ctx context.Context, agentID, entry string) error {
	_, err := s.DB.ExecContext(ctx, `
UPDATE agents SET memory = memory || $2 WHERE id = $1`, agentID, entry+"\n")
	return err
}

// ListTopLevelPosts returns all type=post rows with author fields,
// newest first.
func (s *Store) ListTopLevelPosts(ctx context.Context) ([]PostWithAuthor, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT p.id, p.created_at, p.score, COALESCE(p.title, ''), p.body, p.author, p.replying_to, p.type, a.username, a.persona
FROM posts p JOIN agents a ON a.id = p.author
WHERE p.type = 'post'
ORDER BY p.created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPostsWithAuthor(rows)
}

// ListReplies returns direct replies to any of the given parent ids,
// oldest first.
func (s *Store) ListReplies(ctx context.Context, parentIDs []string) ([]PostWithAuthor, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT p.id, p.created_at, p.score, COALESCE(p.title, ''), p.body, p.author, p.replying_to, p.type, a.username, a.persona
FROM posts p JOIN agents a ON a.id = p.author
WHERE p.replying_to = ANY($1)
ORDER BY p.created_at ASC`, pq.Array(parentIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPostsWithAuthor(rows)
}

// GetPostWithAuthor fetches a single post row with its author fields.
func (s *Store) GetPostWithAuthor(ctx context.Context, id string) (PostWithAuthor, bool, error) {
	var p PostWithAuthor
	err := s.DB.QueryRowContext(ctx, `
SELECT p.id, p.created_at, p.score, COALESCE(p.title, ''), p.body, p.author, p.replying_to, p.type, a.username, a.persona
FROM posts p JOIN agents a ON a.id = p.author
WHERE p.id = $1`, id).Scan(
		&p.ID, &p.CreatedAt, &p.Score, &p.Title, &p.Body, &p.Author, &p.ReplyingTo, &p.Type, &p.Username, &p.Persona)
	if err == sql.ErrNoRows {
		return PostWithAuthor{}, false, nil
	}
	if err != nil {
		return PostWithAuthor{}, false, err
	}
	return p, true, nil
}

// CreatePost inserts a post or comment and returns the stored row.
func (s *Store) CreatePost(ctx context.Context, np NewPost) (Post, error) {
	var title sql.NullString
	if np.Title != "" {
		title = sql.NullString{String: np.Title, Valid: true}
	}
	var p Post
	var storedTitle sql.NullString
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO posts (title, body, author, replying_to, type) VALUES ($1, $2, $3, $4, $5)
RETURNING id, created_at, score, title, body, author, replying_to, type`,
		title, np.Body, np.Author, np.ReplyingTo, np.Type).Scan(
		&p.ID, &p.CreatedAt, &p.Score, &storedTitle, &p.Body, &p.Author, &p.ReplyingTo, &p.Type)
	if err != nil {
		return Post{}, err
	}
	p.Title = storedTitle.String
	return p, nil
}

// GetPostScore reads the current score of a post.
func (s *Store) GetPostScore(ctx context.Context, id string) (int, error) {
	var score int
	err := s.DB.QueryRowContext(ctx, `SELECT score FROM posts WHERE id = $1`, id).Scan(&score)
	return score, err
}

// SetPostScore writes a post's score. Voting is deliberately
// read-then-write, not an atomic increment: concurrent voters can lose
// updates and that is accepted.
func (s *Store) SetPostScore(ctx context.Context, id string, score int) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE posts SET score = $2 WHERE id = $1`, id, score)
	return err
}

// DeleteAllPosts wipes the board. Callers must not run this concurrently
// with active simulation runs.
func (s *Store) DeleteAllPosts(ctx context.Context) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM posts`)
	return err
}

// CountPosts returns the number of rows in posts.
func (s *Store) CountPosts(ctx context.Context) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts`).Scan(&n)
	return n, err
}

// CreateSimRun records the start of a driver invocation.
func (s *Store) CreateSimRun(ctx context.Context, id string, cycles, parallelism int) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO sim_runs (id, cycles, parallelism, status) VALUES ($1, $2, $3, $4)`,
		id, cycles, parallelism, RunStatusRunning)
	return err
}

// FinishSimRun records the terminal status of a driver invocation.
func (s *Store) FinishSimRun(ctx context.Context, id, status string, errMsg *string) error {
	_, err := s.DB.ExecContext(ctx, `
UPDATE sim_runs SET status = $2, error = $3, finished_at = NOW() WHERE id = $1`,
		id, status, errMsg)
	return err
}

// ListSimRuns returns recent runs, newest first.
func (s *Store) ListSimRuns(ctx context.Context, limit int) ([]SimRun, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, cycles, parallelism, status, error, started_at, finished_at
FROM sim_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SimRun
	for rows.Next() {
		var r SimRun
		if err := rows.Scan(&r.ID, &r.Cycles, &r.Parallelism, &r.Status, &r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CreateOperator inserts an operator account.
func (s *Store) CreateOperator(ctx context.Context, email, hash string) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO operators (email, password_hash) VALUES ($1, $2)`, email, hash)
	return err
}

// GetOperatorByEmail returns the id and password hash for an operator.
func (s *Store) GetOperatorByEmail(ctx context.Context, email string) (id string, hash string, err error) {
	err = s.DB.QueryRowContext(ctx, `
SELECT id, password_hash FROM operators WHERE email = $1`, email).Scan(&id, &hash)
	return id, hash, err
}

// Leaderboard returns per-agent karma: the summed score of everything the
// agent authored, highest first.
func (s *Store) Leaderboard(ctx context.Context, limit int) ([]KarmaEntry, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT a.username, COALESCE(SUM(p.score), 0) AS karma, COUNT(p.id) AS posts
FROM agents a LEFT JOIN posts p ON p.author = a.id
GROUP BY a.username
ORDER BY karma DESC, a.username
LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []KarmaEntry
	for rows.Next() {
		var e KarmaEntry
		if err := rows.Scan(&e.Username, &e.Karma, &e.Posts); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// KarmaEntry is one leaderboard row.
type KarmaEntry struct {
	Username string `json:"username"`
	Karma    int    `json:"karma"`
	Posts    int    `json:"posts"`
}

// ListPostBodies returns the bodies (and titles) of all posts, for the
// word-frequency surface.
func (s *Store) ListPostBodies(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT COALESCE(title, '') || ' ' || body FROM posts`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanPostsWithAuthor(rows *sql.Rows) ([]PostWithAuthor, error) {
	var out []PostWithAuthor
	for rows.Next() {
		var p PostWithAuthor
		if err := rows.Scan(&p.ID, &p.CreatedAt, &p.Score, &p.Title, &p.Body, &p.Author, &p.ReplyingTo, &p.Type, &p.Username, &p.Persona); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
