package coverage

import (
	"fmt"
	"sort"
	"strings"

	"github.com/draftsmith/backend/internal/intent"
	"github.com/draftsmith/backend/internal/storage/models"
)

type Region string

const (
	RegionIntro      Region = "intro"
	RegionMiddle     Region = "middle"
	RegionConclusion Region = "conclusion"
)

// AllRegions in document order.
var AllRegions = []Region{RegionIntro, RegionMiddle, RegionConclusion}

// RegionOf classifies a fragment position into a structural region.
// Position is ordinal index over the document's total fragment count.
func RegionOf(ordinalIndex, fragmentsTotal int) Region {
	position := float64(ordinalIndex) / float64(fragmentsTotal)
	switch {
	case position < 0.2:
		return RegionIntro
	case position < 0.8:
		return RegionMiddle
	default:
		return RegionConclusion
	}
}

type DocumentCoverage struct {
	DocumentID     string
	Title          string
	FragmentsSeen  int
	FragmentsTotal int
	RegionsCovered []Region
	RegionsMissing []Region
}

// Descriptor reports how representative a retrieved set is of the
// corpus it was drawn from. Summary is calibrated prose injected into
// the generation prompt to bound the model's epistemic confidence.
type Descriptor struct {
	RetrievalType  intent.RetrievalType
	FragmentsSeen  int
	FragmentsTotal int
	CoveragePct    float64
	PerDocument    map[string]DocumentCoverage
	BlindSpots     []string
	Summary        string
}

// Computer derives coverage descriptors from fragment metadata. It
// performs no I/O; callers supply the corpus.
type Computer struct{}

func NewComputer() *Computer {
	return &Computer{}
}

// Compute groups the corpus by document and reports, per document,
// how many fragments the retrieved set touched and which regions it
// reached. The corpus is assumed to already reflect any document
// filter the caller applied.
func (c *Computer) Compute(corpus []models.Fragment, retrieved []models.ScoredReference, retrievalType intent.RetrievalType) *Descriptor {
	if len(corpus) == 0 {
		return &Descriptor{
			RetrievalType: retrievalType,
			PerDocument:   map[string]DocumentCoverage{},
			BlindSpots:    []string{"No documents available for analysis"},
			Summary:       "No documents are available. Cannot provide analysis.",
		}
	}

	retrievedIDs := make(map[string]bool, len(retrieved))
	for _, ref := range retrieved {
		retrievedIDs[ref.FragmentID] = true
	}

	byDocument := make(map[string][]models.Fragment)
	for _, f := range corpus {
		byDocument[f.DocumentID] = append(byDocument[f.DocumentID], f)
	}

	perDocument := make(map[string]DocumentCoverage, len(byDocument))
	var blindSpots []string
	totalSeen := 0

	docIDs := make([]string, 0, len(byDocument))
	for docID := range byDocument {
		docIDs = append(docIDs, docID)
	}
	sort.Strings(docIDs)

	for _, docID := range docIDs {
		fragments := byDocument[docID]
		title := documentTitle(fragments, docID)

		seen := 0
		covered := make(map[Region]bool)
		for _, f := range fragments {
			if !retrievedIDs[f.ID] {
				continue
			}
			seen++
			covered[RegionOf(f.OrdinalIndex, len(fragments))] = true
		}
		totalSeen += seen

		var regionsCovered, regionsMissing []Region
		for _, region := range AllRegions {
			if covered[region] {
				regionsCovered = append(regionsCovered, region)
			} else {
				regionsMissing = append(regionsMissing, region)
			}
		}

		if seen == 0 {
			blindSpots = append(blindSpots, fmt.Sprintf("'%s': no fragments retrieved", title))
		} else {
			for _, region := range regionsMissing {
				blindSpots = append(blindSpots, fmt.Sprintf("'%s': %s section not sampled", title, region))
			}
		}

		perDocument[docID] = DocumentCoverage{
			DocumentID:     docID,
			Title:          title,
			FragmentsSeen:  seen,
			FragmentsTotal: len(fragments),
			RegionsCovered: regionsCovered,
			RegionsMissing: regionsMissing,
		}
	}

	coveragePct := float64(totalSeen) / float64(len(corpus)) * 100

	return &Descriptor{
		RetrievalType:  retrievalType,
		FragmentsSeen:  totalSeen,
		FragmentsTotal: len(corpus),
		CoveragePct:    coveragePct,
		PerDocument:    perDocument,
		BlindSpots:     blindSpots,
		Summary:        BuildSummary(totalSeen, len(corpus), coveragePct, len(perDocument)),
	}
}

// BuildSummary renders the coverage statement in one of three
// registers. The thresholds gate how assertive the generator is
// allowed to be, so they must match the prompt contract exactly.
func BuildSummary(fragmentsSeen, fragmentsTotal int, coveragePct float64, numDocuments int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are seeing %d of %d total fragments (~%.0f%% of content) across %d document(s).",
		fragmentsSeen, fragmentsTotal, coveragePct, numDocuments)

	switch {
	case coveragePct < 15:
		b.WriteString(" With less than 15% coverage, provide only exploratory observations." +
			" Use tentative language like 'may suggest', 'appears to indicate', 'based on limited view'.")
	case coveragePct < 40:
		b.WriteString(" With moderate coverage, you can identify patterns but should note potential blind spots." +
			" Use language like 'the available content suggests', 'from what is visible'.")
	default:
		b.WriteString(" With broader coverage, you can make more confident observations while still citing sources.")
	}

	return b.String()
}

func documentTitle(fragments []models.Fragment, docID string) string {
	for _, f := range fragments {
		if title, ok := f.Tags["title"]; ok && title != "" {
			return title
		}
	}
	return docID
}
