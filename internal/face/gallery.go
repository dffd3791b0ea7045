package face

import (
	"sync/atomic"

	"github.com/ayusman/watchpost/internal/store"
)

// DefaultThreshold is the minimum cosine similarity counted as a match.
const DefaultThreshold = 0.5

// Entry is one known identity with all of its enrolled vectors.
type Entry struct {
	Name       string
	Embeddings []Embedding
}

// Match is the best gallery hit for a query embedding.
type Match struct {
	Name       string
	Similarity float32
}

type snapshot struct {
	entries []Entry
	dim     int
}

// Gallery holds an immutable snapshot of known identities. Replace swaps the
// snapshot atomically so matching never blocks on a reload.
type Gallery struct {
	snap      atomic.Pointer[snapshot]
	threshold float32
}

// NewGallery creates an empty gallery.
func NewGallery(threshold float32) *Gallery {
	g := &Gallery{threshold: threshold}
	g.snap.Store(&snapshot{})
	return g
}

// Threshold returns the similarity a match must exceed.
func (g *Gallery) Threshold() float32 { return g.threshold }

// Replace builds a new snapshot from stored records, grouped by name in record order.
// Vectors are renormalized. Records whose length differs from the first record, or that
// cannot be normalized, are skipped; the number skipped is returned.
func (g *Gallery) Replace(records []store.EmbeddingRecord) int {
	next := &snapshot{}
	index := make(map[string]int)
	skipped := 0

	for _, r := range records {
		if next.dim == 0 {
			next.dim = len(r.Vector)
		}
		if len(r.Vector) != next.dim {
			skipped++
			continue
		}
		v, err := Normalize(r.Vector)
		if err != nil {
			skipped++
			continue
		}

		i, ok := index[r.Name]
		if !ok {
			i = len(next.entries)
			index[r.Name] = i
			next.entries = append(next.entries, Entry{Name: r.Name})
		}
		next.entries[i].Embeddings = append(next.entries[i].Embeddings, v)
	}

	g.snap.Store(next)
	return skipped
}

// Len returns the number of identities.
func (g *Gallery) Len() int {
	return len(g.snap.Load().entries)
}

// Dim returns the embedding length of the current snapshot, 0 when empty.
func (g *Gallery) Dim() int {
	return g.snap.Load().dim
}

// Names lists the identities in snapshot order.
func (g *Gallery) Names() []string {
	s := g.snap.Load()
	names := make([]string, len(s.entries))
	for i, e := range s.entries {
		names[i] = e.Name
	}
	return names
}

// Match returns the identity most similar to e. ok is false when the gallery is empty or
// the best similarity does not exceed the threshold. Earlier entries win ties.
func (g *Gallery) Match(e Embedding) (Match, bool, error) {
	s := g.snap.Load()
	if len(s.entries) == 0 {
		return Match{}, false, nil
	}
	if len(e) != s.dim {
		return Match{}, false, ErrDimension
	}

	best := Match{Similarity: -2}
	for _, entry := range s.entries {
		for _, v := range entry.Embeddings {
			sim, err := Similarity(e, v)
			if err != nil {
				return Match{}, false, err
			}
			if sim > best.Similarity {
				best = Match{Name: entry.Name, Similarity: sim}
			}
		}
	}

	if best.Similarity > g.threshold {
		return best, true, nil
	}
	return Match{}, false, nil
}
