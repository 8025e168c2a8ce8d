package ingestion

import (
	"regexp"
	"strings"
)

const (
	DefaultChunkSize    = 400
	DefaultChunkOverlap = 75

	charsPerToken = 4
)

var paragraphBreak = regexp.MustCompile(`\n\s*\n`)

type Chunk struct {
	DocID   string `json:"doc_id"`
	ChunkID int    `json:"chunk_id"`
	Text    string `json:"text"`
}

// EstimateTokens approximates a token count at four characters per token.
func EstimateTokens(text string) int {
	return len(text) / charsPerToken
}

// Chunker packs whole paragraphs into chunks of at most Size estimated
// tokens. When a chunk is closed, its trailing Overlap/4 words are carried
// into the next one.
type Chunker struct {
	Size    int
	Overlap int
}

func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	return &Chunker{Size: size, Overlap: overlap}
}

func (c *Chunker) Split(docID, content string) []Chunk {
	var chunks []Chunk
	current := ""

	emit := func() {
		if text := strings.TrimSpace(current); text != "" {
			chunks = append(chunks, Chunk{DocID: docID, ChunkID: len(chunks), Text: text})
		}
	}

	for _, para := range paragraphBreak.Split(content, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		combined := para
		if current != "" {
			combined = current + "\n\n" + para
		}
		if EstimateTokens(combined) <= c.Size {
			current = combined
			continue
		}

		if current == "" {
			current = para
			continue
		}
		emit()
		current = c.carry(current) + para
	}
	emit()
	return chunks
}

// carry returns the overlap prefix for the chunk that follows prev.
func (c *Chunker) carry(prev string) string {
	n := c.Overlap / charsPerToken
	if n <= 0 {
		return ""
	}
	words := strings.Fields(prev)
	if len(words) <= n {
		return ""
	}
	return strings.Join(words[len(words)-n:], " ") + "\n\n"
}
