// Package citecheck validates inline citation markers in generated drafts.
//
// Draft sections cite approved papers with {cite:N} markers, where N is the
// 1-based position of the paper in the approved list. Validation checks every
// marker against that index space and checks that every approved paper is
// cited somewhere. The generator's own per-section citation lists are
// advisory only and are recomputed here from the section text.
package citecheck

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"github.com/helixir/review-pipeline/internal/domain"
)

// markerPattern matches inline citation markers such as {cite:3}.
var markerPattern = regexp.MustCompile(`\{cite:(\d+)\}`)

// DefectKind classifies a citation defect.
type DefectKind string

const (
	// DefectOutOfRange marks a marker whose index falls outside
	// [1, approved count].
	DefectOutOfRange DefectKind = "out_of_range"

	// DefectUncovered marks an approved paper never cited by any section.
	DefectUncovered DefectKind = "uncovered"

	// DefectUncitedSection marks a section containing no markers at all.
	DefectUncitedSection DefectKind = "uncited_section"
)

// Defect is one validation finding. String renders the feedback text that is
// fed verbatim into a regeneration prompt.
type Defect struct {
	Kind    DefectKind
	Section string
	Index   int
	PaperID string
	Title   string

	// Bound is the approved paper count at validation time. Set for
	// out-of-range defects so the message can name the valid range.
	Bound int
}

// String renders the defect as regeneration feedback.
func (d Defect) String() string {
	switch d.Kind {
	case DefectOutOfRange:
		return fmt.Sprintf("section %q cites {cite:%d}, but only indices 1 through %d are valid", d.Section, d.Index, d.Bound)
	case DefectUncovered:
		return fmt.Sprintf("approved paper [%d] %q is never cited; cite it where its findings are discussed", d.Index, d.Title)
	case DefectUncitedSection:
		return fmt.Sprintf("section %q contains no citations; support its claims with {cite:N} markers", d.Section)
	default:
		return fmt.Sprintf("citation defect in section %q", d.Section)
	}
}

// Report is the result of validating one draft.
type Report struct {
	// Defects lists all findings, in section order then coverage order.
	Defects []Defect

	// CitedIndices is the sorted set of in-range indices cited anywhere.
	CitedIndices []int

	// SectionCitations maps section heading to the sorted in-range indices
	// that section cites, recomputed from its text.
	SectionCitations map[string][]int
}

// Valid reports whether the draft passed with no defects.
func (r *Report) Valid() bool {
	return len(r.Defects) == 0
}

// Messages renders all defects as feedback lines.
func (r *Report) Messages() []string {
	msgs := make([]string, 0, len(r.Defects))
	for _, d := range r.Defects {
		msgs = append(msgs, d.String())
	}
	return msgs
}

// Validate checks a draft against the approved papers. The approved slice
// order defines the citation index space: index N refers to approved[N-1].
// Validate also rewrites each section's CitedPaperIDs with the ground truth
// recomputed from the section body.
func Validate(draft *domain.Draft, approved []*domain.Paper) *Report {
	report := &Report{
		SectionCitations: make(map[string][]int),
	}
	if draft == nil {
		return report
	}

	n := len(approved)
	citedAnywhere := make(map[int]bool)

	for i := range draft.Sections {
		section := &draft.Sections[i]
		indices := scanMarkers(section.Body)

		if len(indices) == 0 {
			report.Defects = append(report.Defects, Defect{
				Kind:    DefectUncitedSection,
				Section: section.Heading,
			})
		}

		inRange := make([]int, 0, len(indices))
		seen := make(map[int]bool)
		for _, idx := range indices {
			if idx < 1 || idx > n {
				report.Defects = append(report.Defects, Defect{
					Kind:    DefectOutOfRange,
					Section: section.Heading,
					Index:   idx,
					Bound:   n,
				})
				continue
			}
			citedAnywhere[idx] = true
			if !seen[idx] {
				seen[idx] = true
				inRange = append(inRange, idx)
			}
		}
		sort.Ints(inRange)
		report.SectionCitations[section.Heading] = inRange

		// Replace the advisory field with the recomputed ground truth.
		section.CitedPaperIDs = section.CitedPaperIDs[:0]
		for _, idx := range inRange {
			section.CitedPaperIDs = append(section.CitedPaperIDs, approved[idx-1].ID)
		}
	}

	for i, paper := range approved {
		idx := i + 1
		if !citedAnywhere[idx] {
			report.Defects = append(report.Defects, Defect{
				Kind:    DefectUncovered,
				Index:   idx,
				PaperID: paper.ID,
				Title:   paper.Title,
			})
		}
	}

	report.CitedIndices = make([]int, 0, len(citedAnywhere))
	for idx := range citedAnywhere {
		report.CitedIndices = append(report.CitedIndices, idx)
	}
	sort.Ints(report.CitedIndices)

	return report
}

// CitedIndices returns every marker index occurring in the text, in order of
// appearance, including duplicates and out-of-range values.
func CitedIndices(text string) []int {
	return scanMarkers(text)
}

// ResolveMarkers rewrites {cite:N} markers as bracketed references [N] for
// presentation. Invalid markers are left untouched by bounds; callers
// validate first.
func ResolveMarkers(text string) string {
	return markerPattern.ReplaceAllString(text, "[$1]")
}

// scanMarkers extracts marker indices from text in order of appearance.
func scanMarkers(text string) []int {
	matches := markerPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	indices := make([]int, 0, len(matches))
	for _, m := range matches {
		idx, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		indices = append(indices, idx)
	}
	return indices
}
