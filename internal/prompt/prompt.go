// Package prompt builds oracle-ready prompt text and action schemas for
// the three decision points of an agent turn. Builders are pure: they
// never mutate their inputs, and the 1-based numbering they surface to
// the oracle is re-derived on every call. The returned Binding is the
// only valid way to map the oracle's small-integer ids back to records,
// and only for the single prompt/response exchange that produced it.
package prompt

import (
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/deadnet/internal/oracle"
	"github.com/mohammad-safakhou/deadnet/internal/store"
)

// Action names offered to the oracle.
const (
	ActionReadPost   = "read_post"
	ActionCreatePost = "create_post"
	ActionSelectPost = "select_post"
	ActionVotePost   = "vote_post"
)

// Vote actions accepted in vote_post arguments.
const (
	VoteUp   = "up"
	VoteDown = "down"
	VoteNone = "none"
)

// Prompt is one decision point's prompt text, action schema and the
// short-lived position→id binding.
type Prompt struct {
	Text    string
	Tools   []oracle.ToolSpec
	Binding Binding
}

// Binding maps the 1-based list positions handed to the oracle back to
// record ids. It is scoped to one decision step.
type Binding struct {
	ids    []string
	rootID string
}

// Resolve maps a 1-based position to a record id.
func (b Binding) Resolve(n int) (string, bool) {
	if n < 1 || n > len(b.ids) {
		return "", false
	}
	return b.ids[n-1], true
}

// ResolveReply maps a thread-decision target to the id the reply should
// attach to: 0 or any out-of-range position means the root post.
func (b Binding) ResolveReply(n int) string {
	if id, ok := b.Resolve(n); ok {
		return id
	}
	return b.rootID
}

// Len returns the number of bound positions.
func (b Binding) Len() int { return len(b.ids) }

// BuildFeedPrompt renders up to the caller-sampled candidate posts as a
// numbered list and offers the two feed actions.
func BuildFeedPrompt(persona, memory string, candidates []store.PostWithAuthor) Prompt {
	var sb strings.Builder
	sb.WriteString("This is who you are:\n")
	sb.WriteString(persona)
	sb.WriteString("\n\nThis is your memory of what you have done before:\n")
	sb.WriteString(memory)
	sb.WriteString("\n\nThis is the feed of posts you can interact with:\n")
	sb.WriteString(renderPostList(candidates))
	sb.WriteString("\nEither read one post (by its number) to join its discussion, or create a brand new post of your own.\n")

	return Prompt{
		Text: sb.String(),
		Tools: []oracle.ToolSpec{
			{
				Name:        ActionReadPost,
				Description: "Read the post with the given number and see its comments",
				Parameters: objectSchema(map[string]interface{}{
					"target_id": numberProp("The number of the post to read, as shown in the feed"),
				}, "target_id"),
			},
			{
				Name:        ActionCreatePost,
				Description: "Create a new top-level post",
				Parameters: objectSchema(map[string]interface{}{
					"title": stringProp("The title of the post"),
					"body":  stringProp("The body of the post"),
				}, "title", "body"),
			},
		},
		Binding: Binding{ids: idsOf(candidates)},
	}
}

// BuildThreadPrompt renders the selected post and its depth-flattened
// comments (two levels) and offers the single reply action. target_id 0,
// an out-of-range id, or an empty comment list all mean "reply to the
// root post".
func BuildThreadPrompt(persona, memory string, post store.PostWithAuthor, comments []store.PostWithAuthor) Prompt {
	var sb strings.Builder
	sb.WriteString("This is who you are:\n")
	sb.WriteString(persona)
	sb.WriteString("\n\nThis is your memory of what you have done before:\n")
	sb.WriteString(memory)
	sb.WriteString("\n\nYou are reading this post:\n")
	fmt.Fprintf(&sb, "Title: %s\nBy: %s\nScore: %d\n%s\n", post.Title, post.Username, post.Score, post.Body)
	sb.WriteString("\nThese are the comments in the thread:\n")
	if len(comments) == 0 {
		sb.WriteString("(no comments yet)\n")
	} else {
		for i, c := range comments {
			fmt.Fprintf(&sb, "%d. %s\nBy: %s\nScore: %d\n---\n", i+1, c.Body, c.Username, c.Score)
		}
	}
	sb.WriteString("\nWrite a reply. Use target_id 0 to reply to the post itself, or a comment's number to reply to that comment.\n")

	return Prompt{
		Text: sb.String(),
		Tools: []oracle.ToolSpec{
			{
				Name:        ActionSelectPost,
				Description: "Reply inside the thread: to the post (target_id 0) or to a numbered comment",
				Parameters: objectSchema(map[string]interface{}{
					"target_id": numberProp("0 to reply to the post, or the number of the comment to reply to"),
					"body":      stringProp("The body of your reply"),
				}, "target_id", "body"),
			},
		},
		Binding: Binding{ids: idsOf(comments), rootID: post.ID},
	}
}

// BuildVotePrompt renders the full candidate list (no truncation) and
// offers the batch vote action: exactly one entry per candidate,
// post_id matching the 1-based list position.
func BuildVotePrompt(persona, memory string, candidates []store.PostWithAuthor) Prompt {
	var sb strings.Builder
	sb.WriteString("This is who you are:\n")
	sb.WriteString(persona)
	sb.WriteString("\n\nThis is your memory of what you have done before:\n")
	sb.WriteString(memory)
	sb.WriteString("\n\nThese are the posts on the board:\n")
	sb.WriteString(renderPostList(candidates))
	sb.WriteString("\nVote on every post: \"up\", \"down\", or \"none\" if you don't care. Provide exactly one vote per post, using each post's number as post_id.\n")

	return Prompt{
		Text: sb.String(),
		Tools: []oracle.ToolSpec{
			{
				Name:        ActionVotePost,
				Description: "Cast one vote per listed post",
				Parameters: objectSchema(map[string]interface{}{
					"votes": map[string]interface{}{
						"type":        "array",
						"description": "One entry per post in the list",
						"items": objectSchema(map[string]interface{}{
							"post_id": numberProp("The number of the post, as shown in the list"),
							"action": map[string]interface{}{
								"type": "string",
								"enum": []string{VoteUp, VoteDown, VoteNone},
							},
						}, "post_id", "action"),
					},
				}, "votes"),
			},
		},
		Binding: Binding{ids: idsOf(candidates)},
	}
}

func renderPostList(posts []store.PostWithAuthor) string {
	if len(posts) == 0 {
		return "(the board is empty)\n"
	}
	var sb strings.Builder
	for i, p := range posts {
		fmt.Fprintf(&sb, "%d. %s\n%s\nBy: %s\nScore: %d\n---\n", i+1, p.Title, p.Body, p.Username, p.Score)
	}
	return sb.String()
}

func idsOf(posts []store.PostWithAuthor) []string {
	ids := make([]string, len(posts))
	for i, p := range posts {
		ids[i] = p.ID
	}
	return ids
}

func objectSchema(props map[string]interface{}, required ...string) map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

func numberProp(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "number", "description": desc}
}

func stringProp(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": desc}
}
