package loader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// TextLoader 整个文件作为一个文档
type TextLoader struct{}

// NewTextLoader creates a TextLoader.
func NewTextLoader() *TextLoader { return &TextLoader{} }

func (l *TextLoader) Load(ctx context.Context, path string) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("text loader: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil, nil
	}
	name := filepath.Base(path)
	return []Document{{Title: strings.TrimSuffix(name, filepath.Ext(name)), Text: text}}, nil
}

func (l *TextLoader) Extensions() []string { return []string{".txt"} }
