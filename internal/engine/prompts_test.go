package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/review-pipeline/internal/domain"
)

// chattySession returns a session with six alternating conversation turns,
// message-0 oldest.
func chattySession() *domain.Session {
	s := domain.NewSession("gnn survey", domain.LanguageEnglish, nil)
	for i := 0; i < 6; i++ {
		role := domain.RoleUser
		if i%2 == 1 {
			role = domain.RoleAssistant
		}
		s.AppendMessage(role, fmt.Sprintf("message-%d", i))
	}
	return s
}

func TestKeywordPromptHonorsHistoryBound(t *testing.T) {
	t.Parallel()

	s := chattySession()

	system, user := buildKeywordPrompt(s, 8, 1)
	assert.Contains(t, system, "at most 8")
	assert.Contains(t, user, s.Query)

	// One turn of history is the newest user/assistant exchange.
	assert.Contains(t, user, "message-4")
	assert.Contains(t, user, "message-5")
	for i := 0; i < 4; i++ {
		assert.NotContains(t, user, fmt.Sprintf("message-%d\n", i))
	}
}

func TestDraftPromptHonorsHistoryBound(t *testing.T) {
	t.Parallel()

	s := chattySession()
	s.Continuation = true
	approved := []*domain.Paper{{ID: "arxiv:1", Title: "Paper One", Approved: true}}

	_, user := buildDraftPrompt(s, approved, nil, 2)
	require.Contains(t, user, "Conversation so far:")
	assert.Contains(t, user, "message-2")
	assert.Contains(t, user, "message-5")
	assert.NotContains(t, user, "message-1\n")
	assert.NotContains(t, user, "message-0\n")

	// First-pass drafts carry no conversation block at all.
	s.Continuation = false
	_, user = buildDraftPrompt(s, approved, nil, 2)
	assert.NotContains(t, user, "Conversation so far:")
}

func TestDraftPromptListsDefects(t *testing.T) {
	t.Parallel()

	s := domain.NewSession("q", domain.LanguageEnglish, nil)
	approved := []*domain.Paper{{ID: "arxiv:1", Title: "Paper One", Approved: true}}
	defects := []string{"d1", "d2", "d3", "d4"}

	_, user := buildDraftPrompt(s, approved, defects, 5)
	assert.Contains(t, user, "- d1")
	assert.Contains(t, user, "- d3")
	// Feedback is capped at three defects per regeneration.
	assert.NotContains(t, user, "- d4")
}
