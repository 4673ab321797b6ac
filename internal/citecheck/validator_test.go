package citecheck

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/review-pipeline/internal/domain"
)

func approvedPapers(n int) []*domain.Paper {
	papers := make([]*domain.Paper, n)
	for i := range papers {
		papers[i] = &domain.Paper{
			ID:    "doi:10.1000/paper" + string(rune('a'+i)),
			Title: "Paper " + string(rune('A'+i)),
		}
	}
	return papers
}

func TestValidateCleanDraft(t *testing.T) {
	t.Parallel()

	draft := &domain.Draft{
		Title: "Survey",
		Sections: []domain.Section{
			{Heading: "Introduction", Body: "Transformers changed everything {cite:1}{cite:2}."},
			{Heading: "Methods", Body: "Attention {cite:2} builds on earlier work {cite:3}."},
		},
	}
	approved := approvedPapers(3)

	report := Validate(draft, approved)

	assert.True(t, report.Valid())
	assert.Empty(t, report.Messages())
	assert.Equal(t, []int{1, 2, 3}, report.CitedIndices)
	assert.Equal(t, []int{1, 2}, report.SectionCitations["Introduction"])
	assert.Equal(t, []int{2, 3}, report.SectionCitations["Methods"])
}

func TestValidateOutOfRange(t *testing.T) {
	t.Parallel()

	draft := &domain.Draft{
		Sections: []domain.Section{
			{Heading: "Results", Body: "Strong gains {cite:1} and bogus {cite:7} plus {cite:0}."},
		},
	}
	approved := approvedPapers(2)

	report := Validate(draft, approved)

	require.False(t, report.Valid())

	var outOfRange []Defect
	for _, d := range report.Defects {
		if d.Kind == DefectOutOfRange {
			outOfRange = append(outOfRange, d)
		}
	}
	require.Len(t, outOfRange, 2)
	assert.Equal(t, 7, outOfRange[0].Index)
	assert.Equal(t, 0, outOfRange[1].Index)
	assert.Equal(t, 2, outOfRange[0].Bound)
	assert.Contains(t, outOfRange[0].String(), "only indices 1 through 2")
}

func TestValidateUncoveredPaper(t *testing.T) {
	t.Parallel()

	draft := &domain.Draft{
		Sections: []domain.Section{
			{Heading: "Body", Body: "Only the first paper {cite:1} appears."},
		},
	}
	approved := approvedPapers(2)

	report := Validate(draft, approved)

	require.False(t, report.Valid())
	require.Len(t, report.Defects, 1)
	d := report.Defects[0]
	assert.Equal(t, DefectUncovered, d.Kind)
	assert.Equal(t, 2, d.Index)
	assert.Equal(t, approved[1].ID, d.PaperID)
	assert.Contains(t, d.String(), "never cited")
}

func TestValidateUncitedSection(t *testing.T) {
	t.Parallel()

	draft := &domain.Draft{
		Sections: []domain.Section{
			{Heading: "Cited", Body: "Work {cite:1} matters."},
			{Heading: "Conclusion", Body: "No markers here at all."},
		},
	}

	report := Validate(draft, approvedPapers(1))

	require.False(t, report.Valid())
	require.Len(t, report.Defects, 1)
	assert.Equal(t, DefectUncitedSection, report.Defects[0].Kind)
	assert.Equal(t, "Conclusion", report.Defects[0].Section)
}

func TestValidateRecomputesCitedPaperIDs(t *testing.T) {
	t.Parallel()

	approved := approvedPapers(3)
	draft := &domain.Draft{
		Sections: []domain.Section{
			{
				Heading: "Discussion",
				Body:    "See {cite:3} and again {cite:3}, also {cite:1}.",
				// Advisory output from generation: wrong, must be replaced.
				CitedPaperIDs: []string{"doi:bogus"},
			},
		},
	}

	Validate(draft, approved)

	assert.Equal(t, []string{approved[0].ID, approved[2].ID}, draft.Sections[0].CitedPaperIDs)
}

func TestValidateNilAndEmpty(t *testing.T) {
	t.Parallel()

	report := Validate(nil, approvedPapers(2))
	assert.True(t, report.Valid())
	assert.Empty(t, report.CitedIndices)

	// No approved papers: every marker is out of range.
	draft := &domain.Draft{
		Sections: []domain.Section{{Heading: "A", Body: "{cite:1}"}},
	}
	report = Validate(draft, nil)
	require.Len(t, report.Defects, 1)
	assert.Equal(t, DefectOutOfRange, report.Defects[0].Kind)
}

func TestCitedIndicesOrderAndDuplicates(t *testing.T) {
	t.Parallel()

	indices := CitedIndices("{cite:2} text {cite:1} more {cite:2} bad {cite:99}")
	assert.Equal(t, []int{2, 1, 2, 99}, indices)

	assert.Nil(t, CitedIndices("no markers, not even {cite:} or cite:1"))
}

func TestResolveMarkers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "single marker",
			input:    "as shown in {cite:1}.",
			expected: "as shown in [1].",
		},
		{
			name:     "adjacent markers",
			input:    "{cite:1}{cite:12}",
			expected: "[1][12]",
		},
		{
			name:     "malformed marker untouched",
			input:    "{cite:x} and {cite:}",
			expected: "{cite:x} and {cite:}",
		},
		{
			name:     "no markers",
			input:    "plain text",
			expected: "plain text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, ResolveMarkers(tt.input))
		})
	}
}
