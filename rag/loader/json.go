package loader

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// JSONConfig 字段映射，空值使用默认字段名
type JSONConfig struct {
	IDField      string // 默认 "id"
	TextField    string // 默认 "text"，缺失时回退 "content"
	TitleField   string // 默认 "title"
	DatasetField string // 默认 "dataset_id"
}

// JSONLoader 读取对象数组（.json）或每行一个对象（.jsonl）
type JSONLoader struct {
	cfg JSONConfig
}

// NewJSONLoader creates a JSONLoader.
func NewJSONLoader(cfg JSONConfig) *JSONLoader {
	if cfg.IDField == "" {
		cfg.IDField = "id"
	}
	if cfg.TextField == "" {
		cfg.TextField = "text"
	}
	if cfg.TitleField == "" {
		cfg.TitleField = "title"
	}
	if cfg.DatasetField == "" {
		cfg.DatasetField = "dataset_id"
	}
	return &JSONLoader{cfg: cfg}
}

func (l *JSONLoader) Load(ctx context.Context, path string) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.EqualFold(filepath.Ext(path), ".jsonl") {
		return l.loadLines(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("json loader: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	var items []map[string]any
	if data[0] == '[' {
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("json loader: %s: %w", path, err)
		}
	} else {
		var obj map[string]any
		if err := json.Unmarshal(data, &obj); err != nil {
			return nil, fmt.Errorf("json loader: %s: %w", path, err)
		}
		items = []map[string]any{obj}
	}
	return l.toDocuments(items), nil
}

func (l *JSONLoader) loadLines(path string) ([]Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("jsonl loader: %w", err)
	}
	defer f.Close()

	var items []map[string]any
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, fmt.Errorf("jsonl loader: %s line %d: %w", path, line, err)
		}
		items = append(items, obj)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("jsonl loader: reading %s: %w", path, err)
	}
	return l.toDocuments(items), nil
}

// toDocuments 跳过没有正文的对象；缺失 id 时使用序号
func (l *JSONLoader) toDocuments(items []map[string]any) []Document {
	docs := make([]Document, 0, len(items))
	for i, obj := range items {
		text := stringField(obj, l.cfg.TextField)
		if text == "" {
			text = stringField(obj, "content")
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		id := stringField(obj, l.cfg.IDField)
		if id == "" {
			id = strconv.Itoa(i)
		}
		docs = append(docs, Document{
			ID:        id,
			DatasetID: stringField(obj, l.cfg.DatasetField),
			Title:     stringField(obj, l.cfg.TitleField),
			Text:      text,
		})
	}
	return docs
}

func stringField(obj map[string]any, key string) string {
	switch v := obj[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func (l *JSONLoader) Extensions() []string { return []string{".json", ".jsonl"} }
