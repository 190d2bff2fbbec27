package loader

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// CSVConfig 列映射。TextColumns 为空时拼接 id/title/dataset 以外的全部列。
type CSVConfig struct {
	Delimiter     rune
	IDColumn      string // 默认 "id"
	TitleColumn   string // 默认 "title"
	DatasetColumn string // 默认 "dataset_id"
	TextColumns   []string
}

// CSVLoader 首行为表头，每行一个文档
type CSVLoader struct {
	cfg CSVConfig
}

// NewCSVLoader creates a CSVLoader.
func NewCSVLoader(cfg CSVConfig) *CSVLoader {
	if cfg.Delimiter == 0 {
		cfg.Delimiter = ','
	}
	if cfg.IDColumn == "" {
		cfg.IDColumn = "id"
	}
	if cfg.TitleColumn == "" {
		cfg.TitleColumn = "title"
	}
	if cfg.DatasetColumn == "" {
		cfg.DatasetColumn = "dataset_id"
	}
	return &CSVLoader{cfg: cfg}
}

func (l *CSVLoader) Load(ctx context.Context, path string) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("csv loader: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = l.cfg.Delimiter
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("csv loader: %s header: %w", path, err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}
	textCols := l.textColumns(header, col)

	var docs []Document
	row := 0
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv loader: %s row %d: %w", path, row+1, err)
		}
		row++
		cell := func(name string) string {
			if i, ok := col[name]; ok && i < len(rec) {
				return strings.TrimSpace(rec[i])
			}
			return ""
		}

		parts := make([]string, 0, len(textCols))
		for _, i := range textCols {
			if i < len(rec) && strings.TrimSpace(rec[i]) != "" {
				parts = append(parts, strings.TrimSpace(rec[i]))
			}
		}
		if len(parts) == 0 {
			continue
		}
		id := cell(l.cfg.IDColumn)
		if id == "" {
			id = "r" + strconv.Itoa(row)
		}
		docs = append(docs, Document{
			ID:        id,
			DatasetID: cell(l.cfg.DatasetColumn),
			Title:     cell(l.cfg.TitleColumn),
			Text:      strings.Join(parts, "\n"),
		})
	}
	return docs, nil
}

func (l *CSVLoader) textColumns(header []string, col map[string]int) []int {
	if len(l.cfg.TextColumns) > 0 {
		out := make([]int, 0, len(l.cfg.TextColumns))
		for _, name := range l.cfg.TextColumns {
			if i, ok := col[name]; ok {
				out = append(out, i)
			}
		}
		return out
	}
	skip := map[string]bool{l.cfg.IDColumn: true, l.cfg.TitleColumn: true, l.cfg.DatasetColumn: true}
	out := make([]int, 0, len(header))
	for i, h := range header {
		if !skip[strings.TrimSpace(h)] {
			out = append(out, i)
		}
	}
	return out
}

func (l *CSVLoader) Extensions() []string { return []string{".csv"} }
