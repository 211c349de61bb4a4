package bloom

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	kierrors "github.com/arvind-kalyan/knowledge-index-platform/pkg/errors"
)

func randomTerms(r *rand.Rand, n int, prefix string) []string {
	terms := make([]string, n)
	for i := range terms {
		terms[i] = fmt.Sprintf("%s-%d-%08x", prefix, i, r.Uint32())
	}
	return terms
}

// Every added term must be reported present, for varying set sizes.
func TestNoFalseNegatives(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for _, n := range []int{1, 10, 100, 1000} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			f := New(10_000, 3)
			terms := randomTerms(r, n, "added")
			for _, term := range terms {
				f.Add(term)
			}
			for _, term := range terms {
				if !f.Contains(term) {
					t.Errorf("Contains(%q) = false for an added term", term)
				}
			}
		})
	}
}

func TestFalsePositiveRateBound(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	f := New(1000, 3)
	for _, term := range randomTerms(r, 100, "member") {
		f.Add(term)
	}

	const trials = 1000
	falsePositives := 0
	for _, term := range randomTerms(r, trials, "stranger") {
		if f.Contains(term) {
			falsePositives++
		}
	}
	// Expected FP rate for m=1000, k=3, n=100 is ~1.7%.
	rate := float64(falsePositives) / float64(trials)
	if rate >= 0.05 {
		t.Errorf("false-positive rate %.3f, want < 0.05", rate)
	}
}

func TestAbsentTermRejected(t *testing.T) {
	f := New(100_000, 5)
	f.Add("python")
	f.Add("elder")
	if f.Contains("nonexistentterm12345") {
		t.Skip("false positive on a generously sized filter; tolerated but unexpected")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "global.bloom")
	f := New(5000, 4)
	terms := []string{"alpha", "beta", "__abc__", "hello", "world"}
	for _, term := range terms {
		f.Add(term)
	}
	if err := f.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Size() != f.Size() {
		t.Errorf("Size = %d, want %d", loaded.Size(), f.Size())
	}
	if loaded.NumHashes() != f.NumHashes() {
		t.Errorf("NumHashes = %d, want %d", loaded.NumHashes(), f.NumHashes())
	}
	for _, term := range terms {
		if !loaded.Contains(term) {
			t.Errorf("loaded filter missing term %q", term)
		}
	}
	if loaded.Contains("never-added-term-xyz") != f.Contains("never-added-term-xyz") {
		t.Errorf("loaded filter disagrees with original on an absent term")
	}
}

func TestLoadCorruptFile(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content []byte
	}{
		{"empty", nil},
		{"truncated", []byte("KIBF")},
		{"garbage", []byte("this is not a bloom filter file at all, just text")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name)
			if err := os.WriteFile(path, tt.content, 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); !errors.Is(err, kierrors.ErrCorruptIndex) {
				t.Errorf("Load = %v, want ErrCorruptIndex", err)
			}
		})
	}
}

func TestLoadFlippedChecksum(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flipped.bloom")
	f := New(1000, 3)
	f.Add("canary")
	if err := f.Save(path); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	data[len(data)/2] ^= 0xFF
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); !errors.Is(err, kierrors.ErrCorruptIndex) {
		t.Errorf("Load of tampered file = %v, want ErrCorruptIndex", err)
	}
}

func TestConcurrentAdd(t *testing.T) {
	f := New(100_000, 3)
	done := make(chan []string, 8)
	for w := 0; w < 8; w++ {
		go func(w int) {
			r := rand.New(rand.NewSource(int64(w)))
			terms := randomTerms(r, 200, fmt.Sprintf("w%d", w))
			for _, term := range terms {
				f.Add(term)
			}
			done <- terms
		}(w)
	}
	for w := 0; w < 8; w++ {
		for _, term := range <-done {
			if !f.Contains(term) {
				t.Errorf("term %q lost during concurrent adds", term)
			}
		}
	}
}
