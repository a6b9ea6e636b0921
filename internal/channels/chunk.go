package channels

// Chunk splits content for a platform with a hard message length limit.
// Content at or under limit is sent whole. Longer content is cut into
// pieces of at most size runes, preferring a newline boundary in the back
// half of each piece so paragraphs survive splitting. Counting runes keeps
// multi-byte text from being cut mid-character.
func Chunk(content string, limit, size int) []string {
	runes := []rune(content)
	if len(runes) <= limit {
		return []string{content}
	}

	var chunks []string
	for len(runes) > 0 {
		if len(runes) <= size {
			chunks = append(chunks, string(runes))
			break
		}
		cut := size
		for i := size - 1; i >= size/2; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	return chunks
}
