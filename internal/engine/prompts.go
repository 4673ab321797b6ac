package engine

import (
	"fmt"
	"strings"

	"github.com/helixir/review-pipeline/internal/domain"
)

// languageName expands a language tag for prompt text.
func languageName(tag string) string {
	if tag == domain.LanguageChinese {
		return "Chinese"
	}
	return "English"
}

// buildKeywordPrompt builds the system and user prompts for search keyword
// planning. historyTurns bounds the conversation context included. The model
// must answer with a JSON object.
func buildKeywordPrompt(s *domain.Session, maxKeywords, historyTurns int) (string, string) {
	system := fmt.Sprintf(`You are a research librarian planning literature searches.
Given a research question, produce at most %d short search keyword phrases
that together cover the question. Respond with a JSON object only:
{"keywords": ["...", "..."]}`, maxKeywords)

	var b strings.Builder
	fmt.Fprintf(&b, "Research question: %s\n", s.Query)
	if history := s.RecentMessages(historyTurns); len(history) > 0 {
		b.WriteString("\nEarlier conversation for context:\n")
		for _, m := range history {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
		}
	}
	return system, b.String()
}

// buildExtractionPrompt builds the prompts for extracting a paper's
// contribution from its title and abstract.
func buildExtractionPrompt(paper *domain.Paper) (string, string) {
	system := `You are an expert research assistant. Read the paper metadata
and summarize its contribution. Respond with a JSON object only:
{
  "core_contribution": "one sentence",
  "contribution": {
    "problem": "", "method": "", "novelty": "", "dataset": "",
    "baseline": "", "results": "", "limitations": "", "future_work": ""
  }
}
Leave a field empty when the abstract does not support it.`

	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", paper.Title)
	if paper.Year > 0 {
		fmt.Fprintf(&b, "Year: %d\n", paper.Year)
	}
	if len(paper.Authors) > 0 {
		fmt.Fprintf(&b, "Authors: %s\n", strings.Join(paper.Authors, ", "))
	}
	if paper.Abstract != "" {
		fmt.Fprintf(&b, "Abstract: %s\n", paper.Abstract)
	} else {
		b.WriteString("Abstract: (not available; infer only from the title)\n")
	}
	return system, b.String()
}

// paperContext renders the approved papers as a numbered reference block.
// The 1-based positions are the only valid citation indices.
func paperContext(approved []*domain.Paper) string {
	var b strings.Builder
	for i, p := range approved {
		fmt.Fprintf(&b, "[%d] %s", i+1, p.Title)
		if p.Year > 0 {
			fmt.Fprintf(&b, " (%d)", p.Year)
		}
		b.WriteString("\n")
		switch {
		case p.CoreContribution != "":
			fmt.Fprintf(&b, "    Contribution: %s\n", p.CoreContribution)
		case p.Abstract != "":
			fmt.Fprintf(&b, "    Abstract: %s\n", truncate(p.Abstract, 600))
		}
		if !p.Contribution.Empty() {
			c := p.Contribution
			for _, field := range []struct{ label, value string }{
				{"Problem", c.Problem},
				{"Method", c.Method},
				{"Novelty", c.Novelty},
				{"Results", c.Results},
			} {
				if field.value != "" {
					fmt.Fprintf(&b, "    %s: %s\n", field.label, field.value)
				}
			}
		}
	}
	return b.String()
}

// buildDraftPrompt builds the prompts for generating (or regenerating) the
// review draft. defects carries validator feedback for regeneration; empty
// on the first pass. historyTurns bounds the conversation context included
// on continuation runs.
func buildDraftPrompt(s *domain.Session, approved []*domain.Paper, defects []string, historyTurns int) (string, string) {
	system := fmt.Sprintf(`You are an expert academic writer producing a literature review in %s.
Cite papers inline with {cite:N} markers, where N is the paper's number in
the reference list. Every section must contain at least one citation, every
listed paper must be cited somewhere, and N must stay within the list.
Respond with a JSON object only:
{"title": "...", "sections": [{"heading": "...", "body": "..."}]}`, languageName(s.Language))

	var b strings.Builder
	fmt.Fprintf(&b, "Research question: %s\n\n", s.Query)
	fmt.Fprintf(&b, "Reference list (%d papers):\n%s\n", len(approved), paperContext(approved))

	if s.Continuation {
		if history := s.RecentMessages(historyTurns); len(history) > 0 {
			b.WriteString("Conversation so far:\n")
			for _, m := range history {
				fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
			}
			b.WriteString("\nRevise the review to address the latest request while keeping the citation rules.\n")
		}
	}

	if len(defects) > 0 {
		b.WriteString("\nThe previous draft had citation problems. Fix all of them:\n")
		for i, d := range defects {
			if i >= 3 {
				break
			}
			fmt.Fprintf(&b, "- %s\n", d)
		}
	}

	return system, b.String()
}

// truncate shortens s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	out := make([]rune, 0, len(runes))
	size := 0
	for _, r := range runes {
		size += len(string(r))
		if size > n {
			break
		}
		out = append(out, r)
	}
	return string(out) + "…"
}
