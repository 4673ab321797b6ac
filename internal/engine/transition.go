package engine

import (
	"fmt"

	"github.com/helixir/review-pipeline/internal/domain"
)

// EntryNode returns the node a run enters at. Continuation runs with an
// existing draft skip straight to drafting; everything else starts at plan.
func EntryNode(s *domain.Session) domain.Node {
	if s.Continuation && s.HasDraft() {
		return domain.NodeDraft
	}
	return domain.NodePlan
}

// Route computes the successor of the node that just finished executing.
// It is a pure function of the node and the session state: it performs no
// I/O and mutates nothing except the retry counter bookkeeping, which is
// left to the caller via the returned node.
//
// The graph:
//
//	plan -> search -> awaiting_approval -> extract -> draft -> validate
//	validate -> done               (no defects)
//	validate -> retry_draft        (defects, retries remain)
//	validate -> failed             (defects, retries exhausted; best effort,
//	                                the flagged draft is kept)
//	retry_draft -> draft
func Route(completed domain.Node, s *domain.Session) (domain.Node, error) {
	switch completed {
	case domain.NodePlan:
		return domain.NodeSearch, nil
	case domain.NodeSearch:
		return domain.NodeAwaitingApproval, nil
	case domain.NodeAwaitingApproval:
		return domain.NodeExtract, nil
	case domain.NodeExtract:
		return domain.NodeDraft, nil
	case domain.NodeDraft:
		return domain.NodeValidate, nil
	case domain.NodeRetryDraft:
		return domain.NodeDraft, nil
	case domain.NodeValidate:
		if len(s.Defects) == 0 {
			return domain.NodeDone, nil
		}
		if s.RetryCount < s.MaxRetries {
			return domain.NodeRetryDraft, nil
		}
		// Retries exhausted: fail best-effort with the unvalidated draft.
		return domain.NodeFailed, nil
	case domain.NodeDone, domain.NodeFailed:
		return completed, fmt.Errorf("node %s is terminal", completed)
	default:
		return completed, fmt.Errorf("unknown node %s", completed)
	}
}
