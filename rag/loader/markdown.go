package loader

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// MarkdownLoader 按 ATX 标题切分，每节一个文档，标题记入 Title。
// 第一个标题之前的内容单独成节。
type MarkdownLoader struct{}

// NewMarkdownLoader creates a MarkdownLoader.
func NewMarkdownLoader() *MarkdownLoader { return &MarkdownLoader{} }

func (l *MarkdownLoader) Load(ctx context.Context, path string) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("markdown loader: %w", err)
	}
	defer f.Close()

	type section struct {
		heading string
		lines   []string
	}
	var sections []section
	inFence := false

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
		}
		if !inFence {
			if heading, _ := parseHeading(line); heading != "" {
				sections = append(sections, section{heading: heading})
				continue
			}
		}
		if len(sections) == 0 {
			sections = append(sections, section{})
		}
		last := &sections[len(sections)-1]
		last.lines = append(last.lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("markdown loader: reading %s: %w", path, err)
	}

	docs := make([]Document, 0, len(sections))
	for i, sec := range sections {
		body := strings.TrimSpace(strings.Join(sec.lines, "\n"))
		if body == "" {
			continue
		}
		docs = append(docs, Document{
			ID:    "s" + strconv.Itoa(i),
			Title: sec.heading,
			Text:  body,
		})
	}
	return docs, nil
}

// parseHeading 识别 "# Heading"，返回标题与级别 1-6
func parseHeading(line string) (string, int) {
	trimmed := strings.TrimSpace(line)
	level := 0
	for level < len(trimmed) && trimmed[level] == '#' {
		level++
	}
	if level < 1 || level > 6 || level == len(trimmed) || trimmed[level] != ' ' {
		return "", 0
	}
	return strings.TrimSpace(trimmed[level:]), level
}

func (l *MarkdownLoader) Extensions() []string { return []string{".md", ".markdown"} }
