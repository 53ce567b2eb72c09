package embed

import (
	"encoding/binary"
	"math"
	"strings"
	"unicode/utf8"
)

// MaxArticleTextLen bounds the text sent to the embedding provider per
// article. Fixed here rather than per-call so embedding inputs stay
// deterministic across runs.
const MaxArticleTextLen = 1000

// ArticleText builds the canonical embedding input for an article:
// "headline. body" truncated at MaxArticleTextLen.
func ArticleText(headline, body string) string {
	headline = strings.TrimSpace(headline)
	body = strings.TrimSpace(body)

	text := headline
	if body != "" {
		text = headline + ". " + body
	}
	return truncateAtRune(text, MaxArticleTextLen)
}

// truncateAtRune cuts s to at most max bytes without splitting a rune.
func truncateAtRune(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// VectorToBytes converts a float32 vector to its storable byte form
// (little-endian). The encoding is lossless for the numeric payload.
func VectorToBytes(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// BytesToVector converts a stored byte slice back to a float32 vector.
func BytesToVector(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}
