package retrieval

import (
	"sort"

	"go.uber.org/zap"

	"github.com/draftsmith/backend/internal/coverage"
	"github.com/draftsmith/backend/internal/intent"
	"github.com/draftsmith/backend/internal/metrics"
	"github.com/draftsmith/backend/internal/storage/models"
	"github.com/draftsmith/backend/pkg/logger"
)

// Region sampling weights. Intros and conclusions carry a
// disproportionate share of a document's information relative to
// their length.
var regionWeights = []struct {
	region coverage.Region
	weight float64
}{
	{coverage.RegionIntro, 0.30},
	{coverage.RegionMiddle, 0.40},
	{coverage.RegionConclusion, 0.30},
}

var regionBounds = map[coverage.Region][2]float64{
	coverage.RegionIntro:      {0.0, 0.2},
	coverage.RegionMiddle:     {0.2, 0.8},
	coverage.RegionConclusion: {0.8, 1.0},
}

type SamplerConfig struct {
	TargetFragments  int
	MaxFragments     int
	ExcerptMaxLength int
}

// Sampler draws fragments from the intro, middle, and conclusion of
// each document instead of by query similarity. Used for analysis
// queries where representative coverage beats relevance ranking.
// Sampling is deterministic and does no I/O; callers supply the
// (already filtered) corpus.
type Sampler struct {
	cfg      SamplerConfig
	computer *coverage.Computer
}

func NewSampler(computer *coverage.Computer, cfg SamplerConfig) *Sampler {
	if cfg.TargetFragments == 0 {
		cfg.TargetFragments = 30
	}
	if cfg.MaxFragments == 0 {
		cfg.MaxFragments = 60
	}
	if cfg.ExcerptMaxLength == 0 {
		cfg.ExcerptMaxLength = 200
	}
	return &Sampler{cfg: cfg, computer: computer}
}

// Sample selects representative fragments across the corpus and
// reports the coverage the selection achieves. escalate doubles the
// target, capped at the configured ceiling, to widen coverage on
// request.
func (s *Sampler) Sample(corpus []models.Fragment, targetCount int, escalate bool) ([]models.ScoredReference, *coverage.Descriptor) {
	if targetCount == 0 {
		targetCount = s.cfg.TargetFragments
	}
	if escalate {
		targetCount = targetCount * 2
		if targetCount > s.cfg.MaxFragments {
			targetCount = s.cfg.MaxFragments
		}
	}

	if len(corpus) == 0 {
		desc := s.computer.Compute(nil, nil, intent.RetrievalDiverse)
		return []models.ScoredReference{}, desc
	}

	byDocument := make(map[string][]models.Fragment)
	for _, f := range corpus {
		byDocument[f.DocumentID] = append(byDocument[f.DocumentID], f)
	}

	docIDs := make([]string, 0, len(byDocument))
	for docID := range byDocument {
		sort.Slice(byDocument[docID], func(i, j int) bool {
			return byDocument[docID][i].OrdinalIndex < byDocument[docID][j].OrdinalIndex
		})
		docIDs = append(docIDs, docID)
	}
	sort.Strings(docIDs)

	perDoc := targetCount / len(byDocument)
	if perDoc < 3 {
		perDoc = 3
	}

	var sampled []models.Fragment
	for _, docID := range docIDs {
		fragments := byDocument[docID]

		if len(fragments) <= perDoc {
			sampled = append(sampled, fragments...)
			continue
		}

		for _, rw := range regionWeights {
			regionTarget := int(float64(perDoc) * rw.weight)
			if regionTarget < 1 {
				regionTarget = 1
			}

			regionFragments := sliceRegion(fragments, rw.region)
			if len(regionFragments) == 0 {
				continue
			}

			// Evenly-spaced stride keeps the sample deterministic and
			// spread through the region.
			step := len(regionFragments) / regionTarget
			if step < 1 {
				step = 1
			}
			taken := 0
			for i := 0; i < len(regionFragments) && taken < regionTarget; i += step {
				sampled = append(sampled, regionFragments[i])
				taken++
			}
		}
	}

	sort.Slice(sampled, func(i, j int) bool {
		if sampled[i].DocumentID != sampled[j].DocumentID {
			return sampled[i].DocumentID < sampled[j].DocumentID
		}
		return sampled[i].OrdinalIndex < sampled[j].OrdinalIndex
	})
	if len(sampled) > targetCount {
		sampled = sampled[:targetCount]
	}

	refs := make([]models.ScoredReference, len(sampled))
	for i, f := range sampled {
		// Synthetic position score: sortable, but never mistakable
		// for a genuine similarity score.
		score := 0.8 - float64(i)*0.01
		if score < 0.5 {
			score = 0.5
		}
		refs[i] = models.ScoredReference{
			DocumentID:     f.DocumentID,
			FragmentID:     f.ID,
			Excerpt:        truncateExcerpt(f.Content, s.cfg.ExcerptMaxLength),
			RelevanceScore: score,
			Tags:           f.Tags,
		}
	}

	desc := s.computer.Compute(corpus, refs, intent.RetrievalDiverse)

	logger.Info("Diverse sampling completed",
		zap.Int("documents_sampled", len(byDocument)),
		zap.Int("fragments_retrieved", len(refs)),
		zap.Float64("coverage_percentage", desc.CoveragePct),
	)
	metrics.RetrievalResultsCount.WithLabelValues(string(intent.RetrievalDiverse)).Observe(float64(len(refs)))

	return refs, desc
}

// sliceRegion cuts a document's ordered fragments down to one region.
func sliceRegion(fragments []models.Fragment, region coverage.Region) []models.Fragment {
	total := len(fragments)
	if total == 0 {
		return nil
	}

	bounds := regionBounds[region]
	start := int(float64(total) * bounds[0])
	end := int(float64(total) * bounds[1])

	// Small documents can collapse a region to nothing; give it one
	// fragment when there is room.
	if start == end && total > 3 {
		end = start + 1
	}

	return fragments[start:end]
}
