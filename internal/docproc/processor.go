// Package docproc turns raw documents into index terms and metadata. Term
// extraction lower-cases word tokens and augments every word of three or more
// characters with its contiguous 3-character windows, wrapped in a delimiter
// so they cannot collide with whole-word terms. This gives the index
// substring-style matching at the cost of index size.
package docproc

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	kierrors "github.com/arvind-kalyan/knowledge-index-platform/pkg/errors"
)

const (
	minTokenLen = 2
	maxTokenLen = 50
	ngramSize   = 3
)

var wordPattern = regexp.MustCompile(`[a-z0-9_]+`)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "by": {}, "for": {}, "from": {}, "has": {}, "he": {},
	"in": {}, "is": {}, "it": {}, "its": {}, "of": {}, "on": {},
	"or": {}, "that": {}, "the": {}, "to": {}, "was": {}, "were": {},
	"will": {}, "with": {}, "this": {},
}

// Metadata describes one indexed document.
type Metadata struct {
	DocID     string    `json:"doc_id"`
	FilePath  string    `json:"file_path"`
	Title     string    `json:"title"`
	Size      int64     `json:"size"`
	Checksum  string    `json:"checksum"`
	IndexedAt time.Time `json:"indexed_at"`
}

// Result is the output of processing a single document.
type Result struct {
	DocID string
	Terms map[string]struct{}
	Meta  Metadata
}

// Processor extracts terms and metadata from raw documents. It is stateless
// and safe for concurrent use.
type Processor struct {
	titleCaser cases.Caser
}

// New creates a Processor.
func New() *Processor {
	return &Processor{
		titleCaser: cases.Title(language.English),
	}
}

// ProcessFile reads the file at path and processes it. The document ID is the
// path relative to corpusRoot, with forward slashes. Unreadable or
// non-UTF-8 files yield ErrDocumentRead.
func (p *Processor) ProcessFile(corpusRoot, path string) (*Result, error) {
	rel, err := filepath.Rel(corpusRoot, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	docID := filepath.ToSlash(rel)

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", kierrors.ErrDocumentRead, path, err)
	}
	if !utf8.Valid(content) {
		return nil, fmt.Errorf("%w: %s: not valid UTF-8", kierrors.ErrDocumentRead, path)
	}
	return p.Process(docID, path, content), nil
}

// Process extracts terms and metadata from already-loaded content.
func (p *Processor) Process(docID, filePath string, content []byte) *Result {
	text := string(content)
	return &Result{
		DocID: docID,
		Terms: p.ExtractTerms(text),
		Meta: Metadata{
			DocID:     docID,
			FilePath:  filePath,
			Title:     p.ExtractTitle(text, filePath),
			Size:      int64(len(content)),
			Checksum:  checksum(content),
			IndexedAt: time.Now().UTC(),
		},
	}
}

// ExtractTerms returns the term set for text: lower-cased word tokens of
// length >= 2 (stop-words removed, pathological tokens over 50 characters
// dropped) plus wrapped 3-character n-gram sub-tokens for words of length
// >= 3.
func (p *Processor) ExtractTerms(text string) map[string]struct{} {
	terms := make(map[string]struct{})
	for _, word := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		if len(word) < minTokenLen || len(word) > maxTokenLen {
			continue
		}
		if _, isStop := stopWords[word]; isStop {
			continue
		}
		terms[word] = struct{}{}
		if len(word) >= ngramSize {
			for i := 0; i+ngramSize <= len(word); i++ {
				terms[wrapNgram(word[i:i+ngramSize])] = struct{}{}
			}
		}
	}
	return terms
}

// QueryTerms extracts terms from a query string using the same rules as
// document indexing, returned in deterministic (sorted) order.
func (p *Processor) QueryTerms(query string) []string {
	set := p.ExtractTerms(query)
	terms := make([]string, 0, len(set))
	for term := range set {
		terms = append(terms, term)
	}
	sort.Strings(terms)
	return terms
}

// ExtractTitle returns the first level-1 markdown heading in text, or a
// humanized form of the filename when no heading is present.
func (p *Processor) ExtractTitle(text, filePath string) string {
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "# ") {
			if title := strings.TrimSpace(line[2:]); title != "" {
				return title
			}
		}
	}
	return p.humanize(filePath)
}

// humanize turns "docs/api-reference_v2.md" into "Api Reference V2".
func (p *Processor) humanize(filePath string) string {
	base := filepath.Base(filePath)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.NewReplacer("-", " ", "_", " ").Replace(base)
	base = strings.Join(strings.Fields(base), " ")
	if base == "" {
		return filepath.Base(filePath)
	}
	return p.titleCaser.String(base)
}

// IsNgram reports whether term is a wrapped n-gram sub-token.
func IsNgram(term string) bool {
	return strings.HasPrefix(term, "__") && strings.HasSuffix(term, "__") &&
		len(term) == ngramSize+4
}

func wrapNgram(gram string) string {
	return "__" + gram + "__"
}

func checksum(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
