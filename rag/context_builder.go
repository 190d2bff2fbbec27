package rag

import (
	"fmt"
	"strings"

	"github.com/BaSui01/knowflow/llm/tokenizer"
)

// BuildContext 将片段渲染为 "--- Source i ---" 块，整体 token 数不超过 maxTokens。
// 放不下的片段正文被截断后停止；maxTokens <= 0 表示不限.
func BuildContext(frags []Fragment, tok tokenizer.Tokenizer, maxTokens int) (string, error) {
	var out string
	for i, f := range frags {
		header := fmt.Sprintf("--- Source %d ---\n", i+1)
		if f.DocumentID != "" {
			header += "Document: " + f.DocumentID + "\n"
		}
		header += "Content: "
		prefix := out
		if prefix != "" {
			prefix += "\n\n"
		}
		prefix += header
		body := strings.TrimSpace(f.Text)

		if maxTokens <= 0 {
			out = prefix + body
			continue
		}

		n, err := tok.CountTokens(prefix + body)
		if err != nil {
			return "", err
		}
		if n <= maxTokens {
			out = prefix + body
			continue
		}

		// 预算不足：截断正文，token 计数不可加时逐步收缩
		used, err := tok.CountTokens(prefix)
		if err != nil {
			return "", err
		}
		for budget := maxTokens - used; budget > 0; budget-- {
			cut, err := tok.Truncate(body, budget)
			if err != nil {
				return "", err
			}
			if n, err = tok.CountTokens(prefix + cut); err != nil {
				return "", err
			}
			if n <= maxTokens && cut != "" {
				out = prefix + cut
				break
			}
		}
		break
	}
	return out, nil
}
