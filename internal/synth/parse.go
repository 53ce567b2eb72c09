package synth

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Synthesis is the structured response expected from the generative
// backend. Fields the backend omits stay at their empty-string defaults;
// only an empty headline makes the result unusable.
type Synthesis struct {
	Headline       string `json:"headline"`
	Consensus      string `json:"consensus"`
	LeftFraming    string `json:"left_framing"`
	RightFraming   string `json:"right_framing"`
	CenterFraming  string `json:"center_framing"`
	KeyDifferences string `json:"key_differences"`
}

// Some backends wrap the object in a markdown code fence despite being
// asked for raw JSON.
var fenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// stripFence extracts the JSON object from an incidental markdown code
// fence, or returns the input unchanged.
func stripFence(response string) string {
	if strings.Contains(response, "```") {
		if m := fenceRe.FindStringSubmatch(response); m != nil {
			return m[1]
		}
	}
	return response
}

// ParseSynthesis parses a raw backend response into a Synthesis. A partial
// object parses successfully with missing fields defaulted; structurally
// invalid JSON is an error the caller may retry.
func ParseSynthesis(response string) (*Synthesis, error) {
	response = strings.TrimSpace(stripFence(response))
	if response == "" {
		return nil, fmt.Errorf("empty response")
	}

	syn := &Synthesis{}
	if err := json.Unmarshal([]byte(response), syn); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return syn, nil
}
