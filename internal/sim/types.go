package sim

import (
	"context"

	"github.com/mohammad-safakhou/deadnet/internal/store"
)

// Repository is the store surface the simulation needs. *store.Store
// satisfies it; tests substitute an in-memory double.
type Repository interface {
	ListAgents(ctx context.Context) ([]store.Agent, error)
	AppendAgentMemory(ctx context.Context, agentID, entry string) error
	ListTopLevelPosts(ctx context.Context) ([]store.PostWithAuthor, error)
	ListReplies(ctx context.Context, parentIDs []string) ([]store.PostWithAuthor, error)
	GetPostWithAuthor(ctx context.Context, id string) (store.PostWithAuthor, bool, error)
	CreatePost(ctx context.Context, np store.NewPost) (store.Post, error)
	GetPostScore(ctx context.Context, id string) (int, error)
	SetPostScore(ctx context.Context, id string, score int) error
	DeleteAllPosts(ctx context.Context) error
}

// RunRecorder persists driver invocations for the operator surface.
type RunRecorder interface {
	CreateSimRun(ctx context.Context, id string, cycles, parallelism int) error
	FinishSimRun(ctx context.Context, id, status string, errMsg *string) error
}
