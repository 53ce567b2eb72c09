// Package rank computes display-ranking scores for synthesized stories.
package rank

import (
	"time"

	"github.com/newslens/newslens/internal/synth"
)

// Scoring weights. The score is only used to order a feed; it is never
// persisted and is re-derivable from stored story and article metrics.
const (
	WeightSource       = 10.0
	WeightArticle      = 2.0
	WeightDiversity    = 8.0
	RecencyMax         = 20.0
	CrossSpectrumBonus = 15.0

	// RecencyCeiling is the age at which the recency term reaches zero.
	RecencyCeiling = 48 * time.Hour
)

// StoryMetrics are the inputs to Score, all derivable from a stored story
// and its linked articles.
type StoryMetrics struct {
	SourceCount   int           // distinct source names
	ArticleCount  int           // linked articles
	DistinctLeans int           // distinct viewpoint categories
	Age           time.Duration // now minus story creation time
	LeftFraming   string
	RightFraming  string
}

// Score computes the relevance score for a story. Higher ranks earlier in
// the feed. Pure function, no side effects.
func Score(m StoryMetrics) float64 {
	score := float64(m.SourceCount)*WeightSource +
		float64(m.ArticleCount)*WeightArticle +
		float64(m.DistinctLeans)*WeightDiversity

	score += recencyTerm(m.Age)

	if CrossSpectrum(m.LeftFraming, m.RightFraming) {
		score += CrossSpectrumBonus
	}
	return score
}

// CrossSpectrum reports whether a story has substantive framing analysis
// from both left- and right-leaning coverage.
func CrossSpectrum(leftFraming, rightFraming string) bool {
	return leftFraming != "" && leftFraming != synth.NoLeftCoverageSentinel &&
		rightFraming != "" && rightFraming != synth.NoRightCoverageSentinel
}

// recencyTerm decays linearly from RecencyMax at age zero to zero at
// RecencyCeiling and beyond.
func recencyTerm(age time.Duration) float64 {
	if age <= 0 {
		return RecencyMax
	}
	if age >= RecencyCeiling {
		return 0
	}
	return RecencyMax * (1 - float64(age)/float64(RecencyCeiling))
}
