package services

import "strings"

// ChunkWords splits text into overlapping word windows of size words,
// advancing size-overlap words per step. Words are joined with single
// spaces, so the output is whitespace-normalized. The function is
// pure: identical inputs always yield identical sequences, and the
// output order matches the original token order (chunk index i of the
// result is the chunk_index stored with its vector).
//
// Iteration stops once a window start falls inside the previous
// window's overlap tail, so a text of n words yields
// ceil((n-overlap)/(size-overlap)) chunks, clamped at zero.
func ChunkWords(text string, size, overlap int) ([]string, error) {
	if size <= 0 {
		return nil, &ConfigurationError{Detail: "chunk size must be positive"}
	}
	if overlap < 0 || overlap >= size {
		// A non-positive advance step would loop forever.
		return nil, &ConfigurationError{Detail: "chunk overlap must be non-negative and smaller than size"}
	}

	words := strings.Fields(text)
	step := size - overlap

	var chunks []string
	for i := 0; i < len(words)-overlap; i += step {
		end := i + size
		if end > len(words) {
			end = len(words)
		}
		chunk := strings.TrimSpace(strings.Join(words[i:end], " "))
		if chunk == "" {
			continue
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}
