package document

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/secmon-lab/hypomnema/pkg/domain/model"
)

// Chunker splits documents into overlapping runs of sentences
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a chunker emitting size sentences per chunk, sharing
// overlap sentences with the previous chunk.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = 5
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	return &Chunker{size: size, overlap: overlap}
}

type sentence struct {
	text    string
	chapter string
}

// Chunk splits doc into chunks. Markdown headings set the chapter of the
// following sentences and are not part of the chunk text.
func (c *Chunker) Chunk(doc *Document) []*model.DocumentChunk {
	sentences := splitDocument(doc.Content)
	if len(sentences) == 0 {
		return nil
	}

	var chunks []*model.DocumentChunk
	step := c.size - c.overlap
	for start := 0; start < len(sentences); start += step {
		end := min(start+c.size, len(sentences))

		parts := make([]string, 0, end-start)
		for _, s := range sentences[start:end] {
			parts = append(parts, s.text)
		}

		chapter := sentences[start].chapter
		index := len(chunks)
		chunks = append(chunks, &model.DocumentChunk{
			Content:    strings.Join(parts, " "),
			SourceFile: doc.Path,
			Index:      index,
			Metadata: model.DocumentMetadata{
				Title:           doc.Title,
				Chapter:         chapter,
				SourceReference: sourceReference(doc.Title, chapter, index),
			},
		})

		if end == len(sentences) {
			break
		}
	}

	return chunks
}

func sourceReference(title, chapter string, index int) string {
	if chapter != "" {
		return fmt.Sprintf("%s, %s (part %d)", title, chapter, index+1)
	}
	return fmt.Sprintf("%s (part %d)", title, index+1)
}

func splitDocument(content string) []sentence {
	var result []sentence
	chapter := ""

	for _, para := range strings.Split(content, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		var body []string
		for _, line := range strings.Split(para, "\n") {
			trimmed := strings.TrimSpace(line)
			if strings.HasPrefix(trimmed, "#") {
				chapter = strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
				continue
			}
			if trimmed != "" {
				body = append(body, trimmed)
			}
		}

		for _, s := range splitSentences(strings.Join(body, " ")) {
			result = append(result, sentence{text: s, chapter: chapter})
		}
	}

	return result
}

// splitSentences splits on '.', '!' or '?' followed by whitespace
func splitSentences(text string) []string {
	var sentences []string
	runes := []rune(text)
	start := 0

	for i, r := range runes {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
			sentences = append(sentences, s)
		}
		start = i + 1
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		sentences = append(sentences, s)
	}

	return sentences
}
