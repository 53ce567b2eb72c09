package synth

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/newslens/newslens/internal/store"
)

// Sentinel values the backend is instructed to return when a viewpoint is
// absent from the cluster. The relevance scorer checks against these.
const (
	NoLeftCoverageSentinel  = "No left-leaning coverage available."
	NoRightCoverageSentinel = "No right-leaning coverage available."
)

const synthesisPrompt = `You are a senior news editor writing a comprehensive briefing on a breaking story.
Synthesize these articles from multiple sources into a complete news summary.

Articles:
%s

Return a valid JSON object with the following fields:

1. "headline": A clear, informative headline that captures the core news event. Be specific and factual.

2. "consensus": Write this as a COMPLETE NEWS ARTICLE (8-12 sentences). Cover:
   - WHAT happened: The main event, actions taken, decisions made
   - WHO is involved: Key people, organizations, their roles
   - WHEN and WHERE: Timeline, locations, sequence of events
   - WHY it matters: Significance, stakes, what's at risk
   - CONTEXT: Background that helps readers understand the story
   - WHAT'S NEXT: Expected developments, upcoming decisions, implications

   Write in clear, engaging prose. This should read like a well-written news summary that fully informs someone who knows nothing about the story.

3. "left_framing": Analyze the TONE and FRAMING of left-leaning coverage (2-3 sentences). Focus on:
   - Word choices and characterizations (e.g., "reform" vs "cuts", "protest" vs "riot")
   - What they emphasize or lead with vs. what they bury or omit
   - The emotional register (alarmed, celebratory, critical, sympathetic)
   - Whose voices they amplify
   DO NOT repeat story facts. Only analyze HOW they tell it.
   If no left-leaning sources, say "` + NoLeftCoverageSentinel + `"

4. "right_framing": Analyze the TONE and FRAMING of right-leaning coverage (2-3 sentences). Focus on:
   - Word choices and characterizations
   - What they emphasize vs. minimize
   - The emotional register
   - Whose voices they amplify
   DO NOT repeat story facts. Only analyze HOW they tell it.
   If no right-leaning sources, say "` + NoRightCoverageSentinel + `"

5. "center_framing": Analyze center/wire service framing (1-2 sentences). Note their approach to neutrality and what framings they avoid.

6. "key_differences": Identify REVEALING DIVERGENCES between sources (2-4 sentences):
   - Facts one side reports that the other ignores entirely
   - Starkly different interpretations of the same event
   - Contradictory claims or disputed facts
   - What each side seems to WANT readers to conclude

   This section should help readers understand potential blind spots in any single source.

Output ONLY the JSON object. No preamble or explanation.`

// excerptLen returns the per-article body excerpt length for a cluster.
// Larger clusters get shorter excerpts so total prompt size stays bounded
// regardless of how many sources cover a story.
func excerptLen(clusterSize int) int {
	switch {
	case clusterSize <= 4:
		return 3000
	case clusterSize <= 8:
		return 2000
	default:
		return 1500
	}
}

// BuildPrompt renders a cluster into the synthesis prompt, one labeled
// block per article.
func BuildPrompt(articles []*store.Article) string {
	preview := excerptLen(len(articles))

	var blocks []string
	for _, a := range articles {
		body := a.Body
		if len(body) > preview {
			// Never split a multi-byte rune at the excerpt boundary.
			cut := preview
			for cut > 0 && !utf8.RuneStart(body[cut]) {
				cut--
			}
			body = body[:cut]
		}
		blocks = append(blocks, fmt.Sprintf(
			"\n[SOURCE: %s | LEAN: %s]\nHeadline: %s\nContent: %s\n---",
			a.SourceName, a.SourceLean, a.Headline, body))
	}

	return fmt.Sprintf(synthesisPrompt, strings.Join(blocks, "\n"))
}
