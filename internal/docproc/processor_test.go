package docproc

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	kierrors "github.com/arvind-kalyan/knowledge-index-platform/pkg/errors"
)

func TestExtractTermsWords(t *testing.T) {
	p := New()
	terms := p.ExtractTerms("The Quick brown FOX")

	for _, want := range []string{"quick", "brown", "fox"} {
		if _, ok := terms[want]; !ok {
			t.Errorf("missing term %q", want)
		}
	}
	// Stop-word and single-character tokens are excluded.
	if _, ok := terms["the"]; ok {
		t.Error("stop-word 'the' should be excluded")
	}
	if _, ok := terms["a"]; ok {
		t.Error("single-character token should be excluded")
	}
}

func TestExtractTermsNgrams(t *testing.T) {
	p := New()
	terms := p.ExtractTerms("fox")

	for _, want := range []string{"fox", "__fox__"} {
		if _, ok := terms[want]; !ok {
			t.Errorf("missing term %q", want)
		}
	}

	terms = p.ExtractTerms("hello")
	for _, want := range []string{"hello", "__hel__", "__ell__", "__llo__"} {
		if _, ok := terms[want]; !ok {
			t.Errorf("missing term %q", want)
		}
	}
	// Two-character words get no sub-tokens.
	terms = p.ExtractTerms("go")
	if _, ok := terms["go"]; !ok {
		t.Error("missing term 'go'")
	}
	for term := range terms {
		if IsNgram(term) {
			t.Errorf("unexpected n-gram %q for a 2-character word", term)
		}
	}
}

func TestExtractTermsCodeIdentifiers(t *testing.T) {
	p := New()
	terms := p.ExtractTerms("def hello_world(): pass")

	if _, ok := terms["hello_world"]; !ok {
		t.Error("missing identifier token 'hello_world'")
	}
	// Substring matching via n-grams must cover the inner word.
	for _, want := range []string{"__hel__", "__llo__", "__wor__", "__rld__"} {
		if _, ok := terms[want]; !ok {
			t.Errorf("missing n-gram %q", want)
		}
	}
}

func TestExtractTermsPathologicalToken(t *testing.T) {
	p := New()
	long := strings.Repeat("x", 51)
	terms := p.ExtractTerms("normal " + long)
	if _, ok := terms[long]; ok {
		t.Error("token over 50 characters should be dropped")
	}
	if _, ok := terms["normal"]; !ok {
		t.Error("missing term 'normal'")
	}
}

func TestQueryTermsMatchIndexing(t *testing.T) {
	p := New()
	queryTerms := p.QueryTerms("Hello WORLD")
	docTerms := p.ExtractTerms("hello world")
	for _, term := range queryTerms {
		if _, ok := docTerms[term]; !ok {
			t.Errorf("query term %q not produced by document extraction", term)
		}
	}
	if len(p.QueryTerms("")) != 0 {
		t.Error("empty query should yield no terms")
	}
	if len(p.QueryTerms("!!! ???")) != 0 {
		t.Error("punctuation-only query should yield no terms")
	}
}

func TestExtractTitle(t *testing.T) {
	p := New()
	tests := []struct {
		name     string
		content  string
		filePath string
		want     string
	}{
		{
			name:     "markdown heading",
			content:  "# Getting Started\n\nSome text.",
			filePath: "docs/guide.md",
			want:     "Getting Started",
		},
		{
			name:     "heading not on first line",
			content:  "preamble\n# Real Title\n",
			filePath: "notes.md",
			want:     "Real Title",
		},
		{
			name:     "no heading humanizes filename",
			content:  "plain text with no heading",
			filePath: "docs/api-reference_v2.txt",
			want:     "Api Reference V2",
		},
		{
			name:     "h2 is not a title",
			content:  "## Subsection\nbody",
			filePath: "sub_section.md",
			want:     "Sub Section",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.ExtractTitle(tt.content, tt.filePath); got != tt.want {
				t.Errorf("ExtractTitle = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestProcessMetadata(t *testing.T) {
	p := New()
	content := []byte("# Title\nhello world")
	res := p.Process("docs/a.md", "/corpus/docs/a.md", content)

	if res.Meta.DocID != "docs/a.md" {
		t.Errorf("DocID = %q", res.Meta.DocID)
	}
	if res.Meta.Size != int64(len(content)) {
		t.Errorf("Size = %d, want %d", res.Meta.Size, len(content))
	}
	if len(res.Meta.Checksum) != 64 {
		t.Errorf("Checksum = %q, want 64 hex chars", res.Meta.Checksum)
	}
	if res.Meta.IndexedAt.IsZero() {
		t.Error("IndexedAt not set")
	}
	// Checksum is a pure function of content.
	again := p.Process("docs/a.md", "/corpus/docs/a.md", content)
	if again.Meta.Checksum != res.Meta.Checksum {
		t.Error("checksum not deterministic")
	}
	changed := p.Process("docs/a.md", "/corpus/docs/a.md", []byte("other content"))
	if changed.Meta.Checksum == res.Meta.Checksum {
		t.Error("checksum did not change with content")
	}
}

func TestProcessFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "note.md")
	if err := os.WriteFile(path, []byte("# Note\nhello"), 0644); err != nil {
		t.Fatal(err)
	}

	p := New()
	res, err := p.ProcessFile(dir, path)
	if err != nil {
		t.Fatalf("ProcessFile: %v", err)
	}
	if res.DocID != "note.md" {
		t.Errorf("DocID = %q, want note.md", res.DocID)
	}
	if _, ok := res.Terms["hello"]; !ok {
		t.Error("missing term 'hello'")
	}
}

func TestProcessFileUnreadable(t *testing.T) {
	dir := t.TempDir()
	p := New()

	if _, err := p.ProcessFile(dir, filepath.Join(dir, "missing.md")); !errors.Is(err, kierrors.ErrDocumentRead) {
		t.Errorf("missing file: err = %v, want ErrDocumentRead", err)
	}

	binPath := filepath.Join(dir, "binary.md")
	if err := os.WriteFile(binPath, []byte{0xff, 0xfe, 0x00, 0x80, 0x81}, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := p.ProcessFile(dir, binPath); !errors.Is(err, kierrors.ErrDocumentRead) {
		t.Errorf("invalid UTF-8: err = %v, want ErrDocumentRead", err)
	}
}
