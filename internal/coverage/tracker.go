package coverage

import (
	"fmt"
	"math"

	"github.com/draftsmith/backend/internal/storage/models"
)

// Tracker folds per-turn coverage into a conversation's cumulative
// state. Callers must serialize Update calls per conversation; the
// tracker itself holds no state.
type Tracker struct{}

func NewTracker() *Tracker {
	return &Tracker{}
}

// Update unions the turn's fragment ids into the set of everything
// ever surfaced in the conversation, then recomputes the cumulative
// percentage. The denominator only grows: the active document filter
// can change between turns and reported coverage must never go
// backward because a document was deselected.
func (t *Tracker) Update(conv *models.Conversation, newRefs []models.ScoredReference, turnCoverage *Descriptor) {
	if conv.FragmentsSeenEver == nil {
		conv.FragmentsSeenEver = make(map[string]struct{})
	}

	for _, ref := range newRefs {
		conv.FragmentsSeenEver[ref.FragmentID] = struct{}{}
	}

	if turnCoverage != nil && turnCoverage.FragmentsTotal > conv.FragmentsTotalMax {
		conv.FragmentsTotalMax = turnCoverage.FragmentsTotal
	}

	if conv.FragmentsTotalMax == 0 {
		conv.CoveragePct = 0
		conv.CoverageSummary = ""
		return
	}

	seen := len(conv.FragmentsSeenEver)
	pct := float64(seen) / float64(conv.FragmentsTotalMax) * 100
	// Filter changes can transiently leave more seen fragments than
	// the current denominator accounts for.
	pct = math.Min(pct, 100.0)
	conv.CoveragePct = math.Round(pct*10) / 10

	conv.CoverageSummary = fmt.Sprintf(
		"Across this conversation, you have seen %d of %d total fragments (~%.0f%% cumulative coverage).",
		seen, conv.FragmentsTotalMax, conv.CoveragePct,
	)
}
