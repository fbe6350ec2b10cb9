package processor

import (
	"strings"
	"unicode/utf8"
)

type ProcessorConfig struct {
	ChunkSize      int
	ChunkOverlap   int
	MinChunkLength int
}

// Processor cleans page text and cuts it into sentence-aligned chunks of at
// most ChunkSize characters, each starting with the tail of its predecessor.
type Processor struct {
	config ProcessorConfig
}

func NewWithConfig(config ProcessorConfig) Processor {
	if config.ChunkSize <= 0 {
		config.ChunkSize = 1000
	}
	if config.ChunkOverlap < 0 || config.ChunkOverlap >= config.ChunkSize {
		config.ChunkOverlap = 0
	}
	if config.MinChunkLength <= 0 {
		config.MinChunkLength = 100
	}

	return Processor{
		config: config,
	}
}

// Split returns the chunks for one page of text. Blank text yields none.
// Nothing is dropped: a short trailing piece is folded into the chunk before it.
func (p Processor) Split(text string) []string {
	clean := CleanText(text)
	if clean == "" {
		return nil
	}
	if utf8.RuneCountInString(clean) <= p.config.ChunkSize {
		return []string{clean}
	}
	return p.splitIntoChunks(clean)
}

// CleanText collapses runs of whitespace and trims the result.
func CleanText(text string) string {
	text = strings.ToValidUTF8(text, "")
	return strings.Join(strings.Fields(text), " ")
}

func (p Processor) splitIntoChunks(text string) []string {
	var chunks []string

	currentChunk := strings.Builder{}
	currentLen := 0

	flush := func() {
		chunk := strings.TrimSpace(currentChunk.String())
		currentChunk.Reset()
		currentLen = 0
		if chunk == "" {
			return
		}
		if n := len(chunks); n > 0 && utf8.RuneCountInString(chunk) < p.config.MinChunkLength &&
			utf8.RuneCountInString(chunks[n-1])+1+utf8.RuneCountInString(chunk) <= p.config.ChunkSize+p.config.MinChunkLength {
			chunks[n-1] = chunks[n-1] + " " + chunk
			return
		}
		chunks = append(chunks, chunk)
	}

	for _, sentence := range p.pieces(text) {
		sentenceLen := utf8.RuneCountInString(sentence)

		// If adding this sentence would exceed chunk size
		if currentLen > 0 && currentLen+1+sentenceLen > p.config.ChunkSize {
			previous := currentChunk.String()
			flush()

			// Start new chunk with overlap
			if overlap := tail(previous, p.config.ChunkOverlap); overlap != "" &&
				utf8.RuneCountInString(overlap)+1+sentenceLen <= p.config.ChunkSize {
				currentChunk.WriteString(overlap)
				currentLen = utf8.RuneCountInString(overlap)
			}
		}

		if currentLen > 0 {
			currentChunk.WriteString(" ")
			currentLen++
		}
		currentChunk.WriteString(sentence)
		currentLen += sentenceLen
	}
	flush()

	return chunks
}

// pieces splits text into sentences, breaking any sentence longer than the
// chunk size on word boundaries.
func (p Processor) pieces(text string) []string {
	var out []string
	for _, sentence := range splitIntoSentences(text) {
		if utf8.RuneCountInString(sentence) <= p.config.ChunkSize {
			out = append(out, sentence)
			continue
		}
		out = append(out, splitWords(sentence, p.config.ChunkSize)...)
	}
	return out
}

func splitIntoSentences(text string) []string {
	var sentences []string

	start := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', '!', '?':
			if i+1 == len(text) || text[i+1] == ' ' {
				if s := strings.TrimSpace(text[start : i+1]); s != "" {
					sentences = append(sentences, s)
				}
				start = i + 1
			}
		}
	}

	// Add any remaining text
	if s := strings.TrimSpace(text[start:]); s != "" {
		sentences = append(sentences, s)
	}

	return sentences
}

func splitWords(sentence string, size int) []string {
	var out []string
	current := strings.Builder{}
	currentLen := 0

	for _, word := range strings.Fields(sentence) {
		for utf8.RuneCountInString(word) > size {
			if currentLen > 0 {
				out = append(out, current.String())
				current.Reset()
				currentLen = 0
			}
			runes := []rune(word)
			out = append(out, string(runes[:size]))
			word = string(runes[size:])
		}

		wordLen := utf8.RuneCountInString(word)
		if currentLen > 0 && currentLen+1+wordLen > size {
			out = append(out, current.String())
			current.Reset()
			currentLen = 0
		}
		if currentLen > 0 {
			current.WriteString(" ")
			currentLen++
		}
		current.WriteString(word)
		currentLen += wordLen
	}
	if currentLen > 0 {
		out = append(out, current.String())
	}

	return out
}

// tail returns roughly the last n characters of s, starting at a word boundary.
func tail(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(strings.TrimSpace(s))
	if len(runes) <= n {
		return ""
	}
	t := string(runes[len(runes)-n:])
	if i := strings.IndexByte(t, ' '); i >= 0 {
		t = t[i+1:]
	}
	return strings.TrimSpace(t)
}
