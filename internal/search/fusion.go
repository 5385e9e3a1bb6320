package search

import (
	"sort"

	"github.com/bg073/jarvis-rag/internal/store"
)

// DefaultRRFConstant is the RRF smoothing parameter.
const DefaultRRFConstant = 60

// RankedList is one source's results in rank order.
type RankedList struct {
	Modality Modality
	Space    string
	Hits     []store.Hit
}

// Origin tags results that first appeared in this list.
func (l RankedList) Origin() string {
	return string(l.Modality) + ":" + l.Space
}

// FusedResult is one item after fusion.
type FusedResult struct {
	ID           string
	Payload      store.Payload
	Origin       string
	Space        string
	RRFScore     float64
	VectorScore  *float64
	KeywordScore *float64
	Lists        int // number of lists that contained the item

	order int // first-seen position across the concatenated lists
}

// RRFFusion combines ranked lists with Reciprocal Rank Fusion.
//
// Algorithm: RRF_score(d) = Σ 1 / (k + rank_i)
//
// Where rank_i is d's 1-based position in list i. Lists that do not
// contain d contribute nothing.
type RRFFusion struct {
	K int
}

// NewRRFFusion creates a fusion with k=60.
func NewRRFFusion() *RRFFusion {
	return &RRFFusion{K: DefaultRRFConstant}
}

// NewRRFFusionWithK creates a fusion with a custom k. If k <= 0, defaults
// to 60.
func NewRRFFusionWithK(k int) *RRFFusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &RRFFusion{K: k}
}

// Fuse sums reciprocal ranks across lists. Results are sorted by
// descending score; ties keep the order in which items were first seen
// walking the lists in the given order. Payload, origin and space come
// from the first list containing the item. Raw scores are kept per
// modality from the best (earliest) rank at which the modality saw it.
func (f *RRFFusion) Fuse(lists []RankedList) []*FusedResult {
	capacity := 0
	for _, l := range lists {
		capacity += len(l.Hits)
	}
	if capacity == 0 {
		return []*FusedResult{}
	}

	byID := make(map[string]*FusedResult, capacity)
	results := make([]*FusedResult, 0, capacity)

	for _, l := range lists {
		origin := l.Origin()
		for rank, h := range l.Hits {
			r, ok := byID[h.ID]
			if !ok {
				r = &FusedResult{
					ID:      h.ID,
					Payload: h.Payload,
					Origin:  origin,
					Space:   l.Space,
					order:   len(results),
				}
				byID[h.ID] = r
				results = append(results, r)
			}
			r.RRFScore += 1.0 / float64(f.K+rank+1)
			r.Lists++

			score := h.Score
			switch l.Modality {
			case ModalityVector:
				if r.VectorScore == nil {
					r.VectorScore = &score
				}
			case ModalityKeyword:
				if r.KeywordScore == nil {
					r.KeywordScore = &score
				}
			}
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].RRFScore != results[j].RRFScore {
			return results[i].RRFScore > results[j].RRFScore
		}
		return results[i].order < results[j].order
	})
	return results
}
