package loader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/knowflow/testutil/mocks"
)

// wordTokenizer 每个空白分隔的词计 1 个 token
type wordTokenizer struct{}

func (wordTokenizer) CountTokens(text string) (int, error) { return len(strings.Fields(text)), nil }
func (wordTokenizer) Truncate(text string, n int) (string, error) {
	words := strings.Fields(text)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " "), nil
}
func (wordTokenizer) MaxTokens() int { return 1 << 20 }
func (wordTokenizer) Name() string   { return "words" }

func writeFile(t *testing.T, dir, rel, content string) string {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// ============================================================
// Registry
// ============================================================

func TestRegistry_Builtins(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, []string{".csv", ".htm", ".html", ".json", ".jsonl", ".markdown", ".md", ".txt"}, r.Extensions())

	r.Register(".XML", NewTextLoader())
	assert.Contains(t, r.Extensions(), ".xml")
	assert.True(t, r.Supports("a/b.Xml"))
}

func TestRegistry_LoadErrors(t *testing.T) {
	r := NewRegistry()

	_, err := r.Load(context.Background(), "noextension")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no extension")

	_, err = r.Load(context.Background(), "file.xyz")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no loader registered")
}

// ============================================================
// Loaders
// ============================================================

func TestTextLoader(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "notes.TXT", "  hello world \n")

	docs, err := NewRegistry().Load(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "hello world", docs[0].Text)
	assert.Equal(t, "notes", docs[0].Title)
	assert.Empty(t, docs[0].ID)

	empty := writeFile(t, dir, "empty.txt", "   \n")
	docs, err = NewTextLoader().Load(context.Background(), empty)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestMarkdownLoader_SplitsOnHeadings(t *testing.T) {
	path := writeFile(t, t.TempDir(), "guide.md", strings.Join([]string{
		"Intro paragraph.",
		"",
		"# Channels",
		"Channels connect goroutines.",
		"```",
		"# not a heading",
		"```",
		"## Empty",
		"",
		"## Select",
		"Select waits on channels.",
	}, "\n"))

	docs, err := NewMarkdownLoader().Load(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, docs, 3)

	assert.Equal(t, "s0", docs[0].ID)
	assert.Equal(t, "", docs[0].Title)
	assert.Equal(t, "Intro paragraph.", docs[0].Text)

	assert.Equal(t, "s1", docs[1].ID)
	assert.Equal(t, "Channels", docs[1].Title)
	assert.Contains(t, docs[1].Text, "# not a heading")

	assert.Equal(t, "s3", docs[2].ID)
	assert.Equal(t, "Select", docs[2].Title)
}

func TestParseHeading(t *testing.T) {
	tests := []struct {
		line  string
		title string
		level int
	}{
		{"# Title", "Title", 1},
		{"### Deep  ", "Deep", 3},
		{"#NoSpace", "", 0},
		{"####### seven", "", 0},
		{"plain", "", 0},
	}
	for _, tt := range tests {
		title, level := parseHeading(tt.line)
		assert.Equal(t, tt.title, title, tt.line)
		assert.Equal(t, tt.level, level, tt.line)
	}
}

func TestJSONLoader(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	t.Run("array", func(t *testing.T) {
		path := writeFile(t, dir, "docs.json", `[
			{"id": "a", "title": "A", "text": "alpha"},
			{"id": 7, "content": "seven", "dataset_id": "nums"},
			{"id": "skip", "text": "  "}
		]`)
		docs, err := NewJSONLoader(JSONConfig{}).Load(ctx, path)
		require.NoError(t, err)
		require.Len(t, docs, 2)
		assert.Equal(t, Document{ID: "a", Title: "A", Text: "alpha"}, docs[0])
		assert.Equal(t, Document{ID: "7", DatasetID: "nums", Text: "seven"}, docs[1])
	})

	t.Run("single object", func(t *testing.T) {
		path := writeFile(t, dir, "one.json", `{"body": "custom field"}`)
		docs, err := NewJSONLoader(JSONConfig{TextField: "body"}).Load(ctx, path)
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "0", docs[0].ID)
		assert.Equal(t, "custom field", docs[0].Text)
	})

	t.Run("jsonl", func(t *testing.T) {
		path := writeFile(t, dir, "lines.jsonl", "{\"text\":\"one\"}\n\n{\"text\":\"two\"}\n")
		docs, err := NewJSONLoader(JSONConfig{}).Load(ctx, path)
		require.NoError(t, err)
		require.Len(t, docs, 2)
		assert.Equal(t, "two", docs[1].Text)
	})

	t.Run("malformed jsonl reports line", func(t *testing.T) {
		path := writeFile(t, dir, "bad.jsonl", "{\"text\":\"one\"}\n{oops\n")
		_, err := NewJSONLoader(JSONConfig{}).Load(ctx, path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "line 2")
	})
}

func TestCSVLoader(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "faq.csv", "id,title,question,answer\nq1,First,What is Go?,A language\n,,,\nq2,,Why?,Because\n")

	docs, err := NewCSVLoader(CSVConfig{}).Load(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, Document{ID: "q1", Title: "First", Text: "What is Go?\nA language"}, docs[0])
	assert.Equal(t, "q2", docs[1].ID)

	docs, err = NewCSVLoader(CSVConfig{TextColumns: []string{"answer"}}).Load(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "A language", docs[0].Text)

	semi := writeFile(t, dir, "semi.csv", "q;a\nhello;world\n")
	docs, err = NewCSVLoader(CSVConfig{Delimiter: ';'}).Load(context.Background(), semi)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "r1", docs[0].ID)
	assert.Equal(t, "hello\nworld", docs[0].Text)
}

func TestHTMLLoader(t *testing.T) {
	dir := t.TempDir()
	page := writeFile(t, dir, "page.html", `<!doctype html>
<html><head><title> Select
  statement </title><style>p { color: red }</style></head>
<body>
  <nav>Home</nav>
  <h1>Ignored as title</h1>
  <p>Select   waits on <b>several</b> channels.</p>
  <script>var x = "hidden";</script>
  <ul><li>first</li><li>second</li></ul>
</body></html>`)

	docs, err := NewHTMLLoader().Load(context.Background(), page)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Select statement", docs[0].Title)
	assert.Equal(t, "Home\n\nIgnored as title\n\nSelect waits on several channels.\n\nfirst\n\nsecond", docs[0].Text)
	assert.NotContains(t, docs[0].Text, "hidden")
	assert.NotContains(t, docs[0].Text, "color")

	noTitle := writeFile(t, dir, "h1.htm", `<body><h1>Heading</h1><div>body text</div></body>`)
	docs, err = NewHTMLLoader().Load(context.Background(), noTitle)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Heading", docs[0].Title)

	bare := writeFile(t, dir, "bare.html", `<p>just text</p>`)
	docs, err = NewHTMLLoader().Load(context.Background(), bare)
	require.NoError(t, err)
	assert.Equal(t, "bare", docs[0].Title)

	empty := writeFile(t, dir, "empty.html", `<html><body><script>x()</script></body></html>`)
	docs, err = NewHTMLLoader().Load(context.Background(), empty)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

// ============================================================
// Chunker
// ============================================================

func TestChunker_Split(t *testing.T) {
	c := NewChunker(wordTokenizer{}, 4, 1)

	chunks, err := c.Split("a b c d e f g")
	require.NoError(t, err)
	assert.Equal(t, []string{"a b c d", "d e f g"}, chunks)

	chunks, err = c.Split("a b c")
	require.NoError(t, err)
	assert.Equal(t, []string{"a b c"}, chunks)

	chunks, err = c.Split("  \n\n ")
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestChunker_KeepsParagraphBreaks(t *testing.T) {
	c := NewChunker(wordTokenizer{}, 10, 0)
	chunks, err := c.Split("one two\n\nthree")
	require.NoError(t, err)
	assert.Equal(t, []string{"one two\n\nthree"}, chunks)
}

func TestChunker_AlwaysProgresses(t *testing.T) {
	// overlap 被钳制为 size/10 = 0
	c := NewChunker(wordTokenizer{}, 2, 5)
	chunks, err := c.Split("a b c d e")
	require.NoError(t, err)
	assert.Equal(t, []string{"a b", "c d", "e"}, chunks)
}

type countingTokenizer struct {
	wordTokenizer
	fail bool
}

func (c countingTokenizer) CountTokens(text string) (int, error) {
	if c.fail {
		return 0, errors.New("boom")
	}
	return len(text), nil
}

func TestChunker_OversizedWordStandsAlone(t *testing.T) {
	c := NewChunker(countingTokenizer{}, 5, 0)
	chunks, err := c.Split("ab cdefghij kl")
	require.NoError(t, err)
	assert.Equal(t, []string{"ab", "cdefghij", "kl"}, chunks)

	_, err = NewChunker(countingTokenizer{fail: true}, 5, 0).Split("x")
	assert.Error(t, err)
}

// ============================================================
// Ingest
// ============================================================

func TestIngest(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "readme.txt", "root level text")
	writeFile(t, dir, "go/channels.md", "# Channels\nChannels connect goroutines.\n# Select\nSelect multiplexes.")
	writeFile(t, dir, "go/faq.jsonl", `{"id":"x","text":"override","dataset_id":"other"}`)
	writeFile(t, dir, "go/image.png", "binary")
	writeFile(t, dir, ".git/config.txt", "hidden")

	frags, err := Ingest(context.Background(), dir, IngestOptions{
		Chunker:  NewChunker(wordTokenizer{}, 100, 0),
		Embedder: mocks.StaticEmbedder{Vector: []float64{0.5, 0.5}},
	})
	require.NoError(t, err)
	require.Len(t, frags, 4)

	byID := make(map[string]int, len(frags))
	for i, f := range frags {
		byID[f.ID] = i
		assert.Equal(t, []float64{0.5, 0.5}, f.Embedding)
	}

	f := frags[byID["go/channels.md#s0:0"]]
	assert.Equal(t, "go/channels.md#s0", f.DocumentID)
	assert.Equal(t, "go", f.DatasetID)
	assert.Equal(t, "Channels connect goroutines.", f.Text)

	assert.Contains(t, byID, "go/channels.md#s1:0")
	assert.Equal(t, "other", frags[byID["go/faq.jsonl#x:0"]].DatasetID)

	root := frags[byID["readme.txt:0"]]
	assert.Equal(t, "default", root.DatasetID)
	assert.Equal(t, "readme.txt", root.DocumentID)
}

func TestIngest_WithoutEmbedder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "one two three four five")

	frags, err := Ingest(context.Background(), dir, IngestOptions{
		Chunker:        NewChunker(wordTokenizer{}, 3, 1),
		DefaultDataset: "kb",
	})
	require.NoError(t, err)
	require.Len(t, frags, 2)
	assert.Equal(t, "a.txt:1", frags[1].ID)
	assert.Equal(t, "three four five", frags[1].Text)
	assert.Equal(t, "kb", frags[1].DatasetID)
	assert.Nil(t, frags[0].Embedding)
}

func TestIngest_Errors(t *testing.T) {
	_, err := Ingest(context.Background(), filepath.Join(t.TempDir(), "missing"), IngestOptions{})
	assert.Error(t, err)

	file := writeFile(t, t.TempDir(), "f.txt", "x")
	_, err = Ingest(context.Background(), file, IngestOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a directory")

	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "hello")
	_, err = Ingest(context.Background(), dir, IngestOptions{Embedder: mocks.StaticEmbedder{Err: errors.New("quota")}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Ingest(ctx, dir, IngestOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}
