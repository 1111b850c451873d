package search

import (
	"context"
	"sort"

	htcid "github.com/hoshizora/hashtree-node/internal/cid"
)

// Document is a search document: an opaque id, a payload carried
// alongside every posting (typically a CID or path string the caller
// resolves on a hit), and the already-tokenized term set to index it
// under.
type Document struct {
	ID      string
	Payload string
	Terms   []string
}

// Index does not tokenize free text itself; callers build doc.Terms with
// Tokenize first. It inserts one posting per term, keyed by prefix+term,
// and returns the new root.
func Index(ctx context.Context, store BlockStore, root *htcid.ID, prefix string, doc Document) (htcid.ID, error) {
	posting := Posting{ID: doc.ID, Payload: doc.Payload}
	var err error
	newRoot := root
	for _, term := range dedupeTerms(doc.Terms) {
		var id htcid.ID
		id, err = Insert(ctx, store, newRoot, prefix+term, posting)
		if err != nil {
			return htcid.ID{}, err
		}
		newRoot = &id
	}
	if newRoot == nil {
		return htcid.ID{}, nil
	}
	return *newRoot, nil
}

// RemoveDocument drops doc's postings for every term, pruning empty
// postings and leaves and returning the new root, or nil if the tree
// became empty.
func RemoveDocument(ctx context.Context, store BlockStore, root htcid.ID, prefix string, doc Document) (*htcid.ID, error) {
	current := &root
	for _, term := range dedupeTerms(doc.Terms) {
		if current == nil {
			break
		}
		next, err := Remove(ctx, store, *current, prefix+term, doc.ID)
		if err != nil {
			return nil, err
		}
		current = next
	}
	return current, nil
}

func dedupeTerms(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// Tokenize exposes the tokenizer so callers build a Document's Terms from
// free text the same way Search tokenizes its query.
func Tokenize(text string) []string {
	return tokenize(text)
}

// Options bounds and scopes a Search call.
type Options struct {
	Prefix string
	Limit  int
}

// Result is one ranked search hit.
type Result struct {
	ID      string
	Score   int
	Payload string
}

// Search tokenizes query, looks up postings for each term under
// options.Prefix, and scores each id by how many distinct terms matched
// it, returning results ranked by descending score then ascending id for
// determinism, bounded by options.Limit (0 means unbounded).
func Search(ctx context.Context, store BlockStore, root htcid.ID, query string, options Options) ([]Result, error) {
	terms := tokenize(query)
	scores := make(map[string]int)
	payloads := make(map[string]string)

	for _, term := range dedupeTerms(terms) {
		postings, err := Find(ctx, store, root, options.Prefix+term)
		if err != nil {
			return nil, err
		}
		for _, p := range postings {
			scores[p.ID]++
			payloads[p.ID] = p.Payload
		}
	}

	results := make([]Result, 0, len(scores))
	for id, score := range scores {
		results = append(results, Result{ID: id, Score: score, Payload: payloads[id]})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if options.Limit > 0 && len(results) > options.Limit {
		results = results[:options.Limit]
	}
	return results, nil
}
