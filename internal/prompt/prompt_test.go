package prompt

import (
	"strings"
	"testing"

	"github.com/mohammad-safakhou/deadnet/internal/store"
)

func candidate(id, title string) store.PostWithAuthor {
	return store.PostWithAuthor{
		Post:     store.Post{ID: id, Title: title, Body: "body of " + title, Type: store.PostTypePost},
		Username: "SwiftOtter1",
	}
}

func TestBuildFeedPromptNumbersPostsFromOne(t *testing.T) {
	p := BuildFeedPrompt("persona", "memory", []store.PostWithAuthor{
		candidate("a", "First"),
		candidate("b", "Second"),
	})
	if !strings.Contains(p.Text, "1. First") {
		t.Fatalf("expected 1-based numbering, got:\n%s", p.Text)
	}
	if !strings.Contains(p.Text, "2. Second") {
		t.Fatalf("expected second post numbered 2, got:\n%s", p.Text)
	}
	if strings.Contains(p.Text, "0. ") {
		t.Fatalf("feed list must not contain a position 0")
	}
}

func TestBuildFeedPromptEmptyBoard(t *testing.T) {
	p := BuildFeedPrompt("persona", "", nil)
	if !strings.Contains(p.Text, "the board is empty") {
		t.Fatalf("expected empty-board placeholder, got:\n%s", p.Text)
	}
	if p.Binding.Len() != 0 {
		t.Fatalf("expected empty binding, got %d", p.Binding.Len())
	}
	if len(p.Tools) != 2 {
		t.Fatalf("expected read_post and create_post tools, got %d", len(p.Tools))
	}
}

func TestBindingResolve(t *testing.T) {
	p := BuildFeedPrompt("", "", []store.PostWithAuthor{
		candidate("a", "A"),
		candidate("b", "B"),
		candidate("c", "C"),
	})
	id, ok := p.Binding.Resolve(1)
	if !ok || id != "a" {
		t.Fatalf("Resolve(1) = %q, %v; want a, true", id, ok)
	}
	id, ok = p.Binding.Resolve(3)
	if !ok || id != "c" {
		t.Fatalf("Resolve(3) = %q, %v; want c, true", id, ok)
	}
	if _, ok := p.Binding.Resolve(0); ok {
		t.Fatalf("Resolve(0) must fail")
	}
	if _, ok := p.Binding.Resolve(4); ok {
		t.Fatalf("Resolve(4) must fail")
	}
	if _, ok := p.Binding.Resolve(-1); ok {
		t.Fatalf("Resolve(-1) must fail")
	}
}

func TestThreadBindingResolveReply(t *testing.T) {
	root := candidate("root", "Thread")
	comments := []store.PostWithAuthor{
		{Post: store.Post{ID: "c1", Body: "first", Type: store.PostTypeComment}, Username: "x"},
		{Post: store.Post{ID: "c2", Body: "second", Type: store.PostTypeComment}, Username: "y"},
	}
	p := BuildThreadPrompt("persona", "memory", root, comments)

	if got := p.Binding.ResolveReply(0); got != "root" {
		t.Fatalf("ResolveReply(0) = %q; want root", got)
	}
	if got := p.Binding.ResolveReply(2); got != "c2" {
		t.Fatalf("ResolveReply(2) = %q; want c2", got)
	}
	// out of range falls back to the root post
	if got := p.Binding.ResolveReply(99); got != "root" {
		t.Fatalf("ResolveReply(99) = %q; want root", got)
	}
}

func TestBuildThreadPromptEmptyComments(t *testing.T) {
	p := BuildThreadPrompt("persona", "", candidate("root", "Thread"), nil)
	if !strings.Contains(p.Text, "no comments yet") {
		t.Fatalf("expected empty-comments placeholder, got:\n%s", p.Text)
	}
	if got := p.Binding.ResolveReply(1); got != "root" {
		t.Fatalf("with no comments every reply targets the root, got %q", got)
	}
}

func TestBuildVotePromptSchema(t *testing.T) {
	p := BuildVotePrompt("persona", "memory", []store.PostWithAuthor{candidate("a", "A")})
	if len(p.Tools) != 1 || p.Tools[0].Name != ActionVotePost {
		t.Fatalf("expected single vote_post tool, got %+v", p.Tools)
	}
	props, ok := p.Tools[0].Parameters["properties"].(map[string]interface{})
	if !ok {
		t.Fatalf("parameters missing properties")
	}
	votes, ok := props["votes"].(map[string]interface{})
	if !ok || votes["type"] != "array" {
		t.Fatalf("votes must be an array property, got %+v", props["votes"])
	}
}

func TestBuildersDoNotMutateInput(t *testing.T) {
	in := []store.PostWithAuthor{candidate("a", "A"), candidate("b", "B")}
	BuildFeedPrompt("p", "m", in)
	BuildVotePrompt("p", "m", in)
	if in[0].ID != "a" || in[1].ID != "b" {
		t.Fatalf("builders mutated their input: %+v", in)
	}
}
