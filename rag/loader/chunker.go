package loader

import (
	"fmt"
	"strings"

	"github.com/BaSui01/knowflow/llm/tokenizer"
)

// Chunker 按 token 预算滑动窗口切分文本。相邻块共享末尾不超过 overlap 个 token 的词；
// 段落边界保留为空行。单个超长的词独立成块。
type Chunker struct {
	tok     tokenizer.Tokenizer
	size    int
	overlap int
}

// NewChunker creates a chunker. A nil tokenizer falls back to the estimator.
func NewChunker(tok tokenizer.Tokenizer, size, overlap int) *Chunker {
	if tok == nil {
		tok = tokenizer.NewEstimatorTokenizer("", 0)
	}
	if size <= 0 {
		size = 400
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 10
	}
	return &Chunker{tok: tok, size: size, overlap: overlap}
}

type chunkWord struct {
	text      string
	tokens    int
	paragraph bool // 新段落的第一个词
}

// Split returns the chunks of text in order. Blank text yields no chunks.
func (c *Chunker) Split(text string) ([]string, error) {
	words, err := c.words(text)
	if err != nil {
		return nil, err
	}
	if len(words) == 0 {
		return nil, nil
	}

	var chunks []string
	for i := 0; i < len(words); {
		start, total, j := i, 0, i
		for j < len(words) && (j == start || total+words[j].tokens <= c.size) {
			total += words[j].tokens
			j++
		}
		chunks = append(chunks, render(words[start:j]))
		if j >= len(words) {
			break
		}

		// 回退若干词作为下一块的开头，至少前进一个词
		k, carried := j, 0
		for k > start+1 && carried+words[k-1].tokens <= c.overlap {
			k--
			carried += words[k].tokens
		}
		i = k
	}
	return chunks, nil
}

func (c *Chunker) words(text string) ([]chunkWord, error) {
	var out []chunkWord
	for _, para := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		first := true
		for _, w := range strings.Fields(para) {
			n, err := c.tok.CountTokens(w)
			if err != nil {
				return nil, fmt.Errorf("count tokens: %w", err)
			}
			if n < 1 {
				n = 1
			}
			out = append(out, chunkWord{text: w, tokens: n, paragraph: first && len(out) > 0})
			first = false
		}
	}
	return out, nil
}

func render(words []chunkWord) string {
	var b strings.Builder
	for i, w := range words {
		if i > 0 {
			if w.paragraph {
				b.WriteString("\n\n")
			} else {
				b.WriteByte(' ')
			}
		}
		b.WriteString(w.text)
	}
	return b.String()
}
