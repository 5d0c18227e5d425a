// Package rag condenses a project's knowledge-base files into the context
// and summary text used to ground section generation.
package rag

import "strings"

const (
	DefaultChunkChars   = 1200
	DefaultOverlapChars = 250
	charsPerWord        = 4
)

// Chunk splits text into overlapping word windows. Sizes are given in
// characters and converted at roughly four characters per word.
func Chunk(text string, maxChars, overlapChars int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	perChunk := maxChars / charsPerWord
	if perChunk < 1 {
		perChunk = 1
	}
	overlap := overlapChars / charsPerWord
	step := perChunk - overlap
	if step < 1 {
		step = 1
	}

	var chunks []string
	for i := 0; i < len(words); i += step {
		end := i + perChunk
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[i:end], " "))
		if end == len(words) {
			break
		}
	}
	return chunks
}
