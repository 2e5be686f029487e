package sim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"

	"github.com/mohammad-safakhou/deadnet/config"
	"github.com/mohammad-safakhou/deadnet/internal/oracle"
	"github.com/mohammad-safakhou/deadnet/internal/prompt"
	"github.com/mohammad-safakhou/deadnet/internal/store"
	"github.com/mohammad-safakhou/deadnet/internal/telemetry"
)

// Vote pool policies: which candidate set vote targets resolve against.
const (
	VotePoolFull   = "full"
	VotePoolSample = "sample"
)

// Engine executes one agent's full turn:
// SELECT_AGENT → BUILD_FEED → FEED_DECISION → {CREATE | READ_THREAD} →
// THREAD_DECISION → VOTE_DECISION → DONE.
//
// An Engine is owned by a single simulation run; turns within a run are
// strictly sequential. There is no transactional boundary spanning a
// turn: writes from earlier steps survive later step failures.
type Engine struct {
	repo        Repository
	oracle      oracle.Provider
	cfg         config.SimulationConfig
	temperature float64
	logger      *log.Logger
	metrics     *telemetry.Metrics
	rnd         *rand.Rand
}

// NewEngine wires a turn engine. rnd must not be shared across engines.
func NewEngine(repo Repository, provider oracle.Provider, cfg config.SimulationConfig, temperature float64, logger *log.Logger, metrics *telemetry.Metrics, rnd *rand.Rand) *Engine {
	return &Engine{
		repo:        repo,
		oracle:      provider,
		cfg:         cfg,
		temperature: temperature,
		logger:      logger,
		metrics:     metrics,
		rnd:         rnd,
	}
}

type readPostArgs struct {
	TargetID int `json:"target_id"`
}

type createPostArgs struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type selectPostArgs struct {
	TargetID int    `json:"target_id"`
	Body     string `json:"body"`
}

type votePostArgs struct {
	Votes []voteEntry `json:"votes"`
}

type voteEntry struct {
	PostID int    `json:"post_id"`
	Action string `json:"action"`
}

// RunTurn drives one agent through a complete turn. Step failures are
// logged and contained: they never cross the turn boundary. The only
// error returned is context cancellation.
func (e *Engine) RunTurn(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// SELECT_AGENT
	agents, err := e.repo.ListAgents(ctx)
	if err != nil {
		e.logger.Printf("listing agents: %v", err)
		agents = nil
	}
	if len(agents) == 0 {
		e.metrics.TurnsTotal.WithLabelValues(telemetry.TurnNoop).Inc()
		return nil
	}
	agent := agents[e.rnd.Intn(len(agents))]

	// BUILD_FEED: all top-level posts newest first, degraded to empty on
	// store error; the unsampled list is kept for the vote step.
	feed, err := e.repo.ListTopLevelPosts(ctx)
	if err != nil {
		e.logger.Printf("listing feed: %v", err)
		feed = nil
	}
	sample := e.sampleFeed(feed)

	// FEED_DECISION
	feedPrompt := prompt.BuildFeedPrompt(agent.Persona, agent.Memory, sample)
	call, err := e.complete(ctx, "feed", feedPrompt)
	if err != nil {
		// decoding failure here aborts the whole turn
		e.metrics.TurnsTotal.WithLabelValues(telemetry.TurnAborted).Inc()
		if errors.Is(err, oracle.ErrNoDecision) {
			return nil
		}
		return ctxErr(ctx)
	}

	switch call.Name {
	case prompt.ActionCreatePost:
		e.createPost(ctx, agent, call)
	case prompt.ActionReadPost:
		e.readThread(ctx, agent, call, feedPrompt.Binding)
	default:
		e.logger.Printf("agent %s: unexpected feed action %q", agent.Username, call.Name)
		e.metrics.TurnsTotal.WithLabelValues(telemetry.TurnAborted).Inc()
		return nil
	}

	// VOTE_DECISION
	pool := feed
	if e.cfg.VotePool == VotePoolSample {
		pool = sample
	}
	e.voteOnPosts(ctx, agent, pool)

	e.metrics.TurnsTotal.WithLabelValues(telemetry.TurnCompleted).Inc()
	return ctxErr(ctx)
}

// sampleFeed takes a random sample of up to feed_sample_size posts,
// shuffle-then-slice, without replacement. The input is not mutated.
func (e *Engine) sampleFeed(feed []store.PostWithAuthor) []store.PostWithAuthor {
	sample := make([]store.PostWithAuthor, len(feed))
	copy(sample, feed)
	e.rnd.Shuffle(len(sample), func(i, j int) {
		sample[i], sample[j] = sample[j], sample[i]
	})
	if len(sample) > e.cfg.FeedSampleSize {
		sample = sample[:e.cfg.FeedSampleSize]
	}
	return sample
}

func (e *Engine) createPost(ctx context.Context, agent store.Agent, call oracle.ToolCall) {
	var args createPostArgs
	if err := json.Unmarshal(call.Arguments, &args); err != nil || args.Title == "" || args.Body == "" {
		e.logger.Printf("agent %s: malformed create_post arguments", agent.Username)
		return
	}
	post, err := e.repo.CreatePost(ctx, store.NewPost{
		Title:  args.Title,
		Body:   args.Body,
		Author: agent.ID,
		Type:   store.PostTypePost,
	})
	if err != nil {
		e.logger.Printf("agent %s: creating post: %v", agent.Username, err)
		return
	}
	e.metrics.PostsCreated.WithLabelValues(store.PostTypePost).Inc()
	e.logger.Printf("agent %s created post %s (%q)", agent.Username, post.ID, args.Title)
	e.remember(ctx, agent.ID, fmt.Sprintf("Created a post titled %q.", args.Title))
}

func (e *Engine) readThread(ctx context.Context, agent store.Agent, call oracle.ToolCall, feedBinding prompt.Binding) {
	var args readPostArgs
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		e.logger.Printf("agent %s: malformed read_post arguments", agent.Username)
		return
	}
	targetID, ok := feedBinding.Resolve(args.TargetID)
	if !ok {
		e.logger.Printf("agent %s: read_post target %d out of range", agent.Username, args.TargetID)
		return
	}
	post, found, err := e.repo.GetPostWithAuthor(ctx, targetID)
	if err != nil || !found {
		e.logger.Printf("agent %s: fetching post %s: found=%v err=%v", agent.Username, targetID, found, err)
		return
	}

	comments := e.fetchThread(ctx, targetID)

	// THREAD_DECISION
	threadPrompt := prompt.BuildThreadPrompt(agent.Persona, agent.Memory, post, comments)
	reply, err := e.complete(ctx, "thread", threadPrompt)
	if err != nil {
		// aborts only this step; the turn continues to voting
		return
	}
	var sel selectPostArgs
	if err := json.Unmarshal(reply.Arguments, &sel); err != nil || sel.Body == "" {
		e.logger.Printf("agent %s: malformed select_post arguments", agent.Username)
		return
	}
	parent := threadPrompt.Binding.ResolveReply(sel.TargetID)
	created, err := e.repo.CreatePost(ctx, store.NewPost{
		Body:       sel.Body,
		Author:     agent.ID,
		ReplyingTo: &parent,
		Type:       store.PostTypeComment,
	})
	if err != nil {
		// the reply target may have been deleted between read and write;
		// tolerated, the step is simply abandoned
		e.logger.Printf("agent %s: creating comment: %v", agent.Username, err)
		return
	}
	e.metrics.PostsCreated.WithLabelValues(store.PostTypeComment).Inc()
	e.logger.Printf("agent %s commented %s on thread %s", agent.Username, created.ID, post.ID)
	e.remember(ctx, agent.ID, fmt.Sprintf("Replied in the thread %q.", post.Title))
}

// fetchThread collects the target's direct comments and, for each, its
// own direct comments: two levels flattened, first level in store order
// followed by the children in the same relative order. The flattening
// does not interleave by timestamp.
func (e *Engine) fetchThread(ctx context.Context, postID string) []store.PostWithAuthor {
	direct, err := e.repo.ListReplies(ctx, []string{postID})
	if err != nil {
		e.logger.Printf("listing replies of %s: %v", postID, err)
		return nil
	}
	flattened := make([]store.PostWithAuthor, 0, len(direct))
	flattened = append(flattened, direct...)
	for _, c := range direct {
		children, err := e.repo.ListReplies(ctx, []string{c.ID})
		if err != nil {
			e.logger.Printf("listing replies of %s: %v", c.ID, err)
			continue
		}
		flattened = append(flattened, children...)
	}
	return flattened
}

func (e *Engine) voteOnPosts(ctx context.Context, agent store.Agent, pool []store.PostWithAuthor) {
	if len(pool) == 0 {
		return
	}
	votePrompt := prompt.BuildVotePrompt(agent.Persona, agent.Memory, pool)
	call, err := e.complete(ctx, "vote", votePrompt)
	if err != nil {
		return
	}
	var args votePostArgs
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		e.logger.Printf("agent %s: malformed vote_post arguments", agent.Username)
		return
	}
	var ups, downs int
	for _, v := range args.Votes {
		if v.Action == prompt.VoteNone {
			continue
		}
		id, ok := votePrompt.Binding.Resolve(v.PostID)
		if !ok {
			continue
		}
		delta := 0
		switch v.Action {
		case prompt.VoteUp:
			delta = 1
			ups++
		case prompt.VoteDown:
			delta = -1
			downs++
		default:
			continue
		}
		// read-then-write on purpose: last write wins under concurrency
		score, err := e.repo.GetPostScore(ctx, id)
		if err != nil {
			e.logger.Printf("agent %s: reading score of %s: %v", agent.Username, id, err)
			continue
		}
		if err := e.repo.SetPostScore(ctx, id, score+delta); err != nil {
			e.logger.Printf("agent %s: writing score of %s: %v", agent.Username, id, err)
			continue
		}
		e.metrics.VotesApplied.WithLabelValues(v.Action).Inc()
	}
	if ups+downs > 0 {
		e.remember(ctx, agent.ID, fmt.Sprintf("Voted on the feed: %d up, %d down.", ups, downs))
	}
}

// complete invokes the oracle for one decision step and records the call.
func (e *Engine) complete(ctx context.Context, decision string, p prompt.Prompt) (oracle.ToolCall, error) {
	call, err := e.oracle.Complete(ctx, p.Text, p.Tools, e.temperature)
	switch {
	case err == nil:
		e.metrics.OracleCalls.WithLabelValues(decision, telemetry.OracleOK).Inc()
		return call, nil
	case errors.Is(err, oracle.ErrNoDecision):
		e.metrics.OracleCalls.WithLabelValues(decision, telemetry.OracleNoDecision).Inc()
		e.logger.Printf("%s decision: no usable tool call", decision)
		return oracle.ToolCall{}, err
	default:
		e.metrics.OracleCalls.WithLabelValues(decision, telemetry.OracleError).Inc()
		e.logger.Printf("%s decision: oracle error: %v", decision, err)
		return oracle.ToolCall{}, err
	}
}

// remember appends a line to the agent's memory log; failures only log.
func (e *Engine) remember(ctx context.Context, agentID, entry string) {
	if err := e.repo.AppendAgentMemory(ctx, agentID, entry); err != nil {
		e.logger.Printf("appending memory for %s: %v", agentID, err)
	}
}

func ctxErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}
