package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSession(t *testing.T) {
	t.Parallel()

	s := NewSession("contrastive learning", LanguageChinese, []SourceTag{SourceArXiv})

	assert.NotEqual(t, s.ID.String(), "00000000-0000-0000-0000-000000000000")
	assert.Equal(t, "contrastive learning", s.Query)
	assert.Equal(t, LanguageChinese, s.Language)
	assert.Equal(t, NodePlan, s.Current)
	assert.Equal(t, []Node{NodePlan}, s.Next)
	assert.Equal(t, DefaultMaxRetries, s.MaxRetries)
	assert.False(t, s.CreatedAt.IsZero())
}

func TestApprovedPapersPreservesCandidateOrder(t *testing.T) {
	t.Parallel()

	s := NewSession("q", LanguageEnglish, nil)
	s.Candidates = []*Paper{
		{ID: "a", Approved: true},
		{ID: "b"},
		{ID: "c", Approved: true},
		{ID: "d", Approved: true},
	}

	approved := s.ApprovedPapers()
	require.Len(t, approved, 3)
	// Candidate order defines the 1-based citation index space.
	assert.Equal(t, "a", approved[0].ID)
	assert.Equal(t, "c", approved[1].ID)
	assert.Equal(t, "d", approved[2].ID)
	assert.Equal(t, 3, s.ApprovedCount())
}

func TestCandidateByID(t *testing.T) {
	t.Parallel()

	s := NewSession("q", LanguageEnglish, nil)
	s.Candidates = []*Paper{{ID: "arxiv:1"}, {ID: "doi:10.1/x"}}

	require.NotNil(t, s.CandidateByID("doi:10.1/x"))
	assert.Nil(t, s.CandidateByID("missing"))
}

func TestAwaiting(t *testing.T) {
	t.Parallel()

	s := NewSession("q", LanguageEnglish, nil)
	assert.False(t, s.Awaiting())

	s.Current = NodeAwaitingApproval
	s.Next = []Node{NodeAwaitingApproval}
	assert.True(t, s.Awaiting())

	s.Current = NodeExtract
	s.Next = []Node{NodeDraft}
	assert.False(t, s.Awaiting())
}

func TestHasDraft(t *testing.T) {
	t.Parallel()

	s := NewSession("q", LanguageEnglish, nil)
	assert.False(t, s.HasDraft())

	s.Draft = &Draft{Title: "empty"}
	assert.False(t, s.HasDraft(), "a draft needs at least one section")

	s.Draft.Sections = []Section{{Heading: "Intro", Body: "text"}}
	assert.True(t, s.HasDraft())
}

func TestRecentMessages(t *testing.T) {
	t.Parallel()

	s := NewSession("q", LanguageEnglish, nil)
	for i := 0; i < 7; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		s.AppendMessage(role, "turn")
	}

	recent := s.RecentMessages(2)
	require.Len(t, recent, 4)
	assert.Equal(t, s.Messages[3:], recent)

	all := s.RecentMessages(10)
	assert.Len(t, all, 7)
}

func TestContributionEmpty(t *testing.T) {
	t.Parallel()

	var c *Contribution
	assert.True(t, c.Empty())
	assert.True(t, (&Contribution{}).Empty())
	assert.False(t, (&Contribution{Method: "GNN"}).Empty())
}

func TestNodeIsTerminal(t *testing.T) {
	t.Parallel()

	assert.True(t, NodeDone.IsTerminal())
	assert.True(t, NodeFailed.IsTerminal())
	assert.False(t, NodeAwaitingApproval.IsTerminal())
	assert.False(t, NodeDraft.IsTerminal())
}

func TestIsValidSourceTag(t *testing.T) {
	t.Parallel()

	assert.True(t, IsValidSourceTag(SourcePubMed))
	assert.False(t, IsValidSourceTag(SourceTag("scholar")))
}
