// Package chunker implements the word-boundary sliding-window splitter
// (spec §4.5) shared by the ingestion pipeline.
package chunker

import "strings"

// Chunk splits text into overlapping word-boundary windows.
//
// size is normalized to at least 64 words; overlap is clamped to
// [0, size/2] so that every window advances strictly past its predecessor.
// A zero-word input yields nil.
func Chunk(text string, size, overlap int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	effectiveSize := size
	if effectiveSize < 64 {
		effectiveSize = 64
	}

	effectiveOverlap := overlap
	if effectiveOverlap < 0 {
		effectiveOverlap = 0
	}
	if max := effectiveSize / 2; effectiveOverlap > max {
		effectiveOverlap = max
	}

	var chunks []string
	total := len(words)
	start := 0

	for start < total {
		end := start + effectiveSize
		if end > total {
			end = total
		}

		window := strings.TrimSpace(strings.Join(words[start:end], " "))
		if window != "" {
			chunks = append(chunks, window)
		}

		if end == total {
			break
		}
		start = end - effectiveOverlap
	}

	return chunks
}
