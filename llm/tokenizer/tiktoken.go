package tokenizer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TiktokenTokenizer 为 OpenAI 系列模型包装 tiktoken.
type TiktokenTokenizer struct {
	model     string
	encoding  string
	maxTokens int
	enc       *tiktoken.Tiktoken
	once      sync.Once
	initErr   error
}

type encodingInfo struct {
	encoding  string
	maxTokens int
}

// modelEncodings 将模型名称映射到 tiktoken 编码和上下文大小。
var modelEncodings = map[string]encodingInfo{
	"gpt-4o":                 {encoding: "o200k_base", maxTokens: 128000},
	"gpt-4o-mini":            {encoding: "o200k_base", maxTokens: 128000},
	"gpt-4-turbo":            {encoding: "cl100k_base", maxTokens: 128000},
	"gpt-4":                  {encoding: "cl100k_base", maxTokens: 8192},
	"gpt-3.5-turbo":          {encoding: "cl100k_base", maxTokens: 16385},
	"text-embedding-3-large": {encoding: "cl100k_base", maxTokens: 8191},
	"text-embedding-3-small": {encoding: "cl100k_base", maxTokens: 8191},
}

func lookupEncoding(model string) encodingInfo {
	if info, ok := modelEncodings[model]; ok {
		return info
	}
	// 最长前缀匹配，"gpt-4o-2024" 应命中 gpt-4o 而不是 gpt-4
	best := ""
	for prefix := range modelEncodings {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best != "" {
		return modelEncodings[best]
	}
	return encodingInfo{encoding: "cl100k_base", maxTokens: 8192}
}

// NewTiktokenTokenizer 为给定模型创建 tiktoken 分词器，编码表延迟加载.
func NewTiktokenTokenizer(model string) *TiktokenTokenizer {
	info := lookupEncoding(model)
	return &TiktokenTokenizer{
		model:     model,
		encoding:  info.encoding,
		maxTokens: info.maxTokens,
	}
}

// init 延迟初始化编码（首次使用可能下载数据）.
func (t *TiktokenTokenizer) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

func (t *TiktokenTokenizer) CountTokens(text string) (int, error) {
	if err := t.init(); err != nil {
		return 0, err
	}
	return len(t.enc.Encode(text, nil, nil)), nil
}

func (t *TiktokenTokenizer) Truncate(text string, maxTokens int) (string, error) {
	if err := t.init(); err != nil {
		return "", err
	}
	if maxTokens <= 0 {
		return "", nil
	}
	tokens := t.enc.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text, nil
	}
	out := t.enc.Decode(tokens[:maxTokens])
	// 截断点可能落在多字节字符中间
	return strings.ToValidUTF8(out, ""), nil
}

func (t *TiktokenTokenizer) MaxTokens() int {
	return t.maxTokens
}

func (t *TiktokenTokenizer) Name() string {
	return fmt.Sprintf("tiktoken[%s]", t.encoding)
}
