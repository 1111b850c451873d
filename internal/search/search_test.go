package search

import (
	"context"
	"testing"

	htcid "github.com/hoshizora/hashtree-node/internal/cid"
)

func TestIndexAndSearchRanksByOverlap(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	var root *htcid.ID
	docs := []Document{
		{ID: "doc1", Payload: "Hello World", Terms: Tokenize("hello world greetings")},
		{ID: "doc2", Payload: "Hello There", Terms: Tokenize("hello there")},
		{ID: "doc3", Payload: "Unrelated", Terms: Tokenize("goodbye moon")},
	}
	for _, d := range docs {
		id, err := Index(ctx, store, root, "kw:", d)
		if err != nil {
			t.Fatalf("Index(%s): %v", d.ID, err)
		}
		root = &id
	}

	results, err := Search(ctx, store, *root, "hello world", Options{Prefix: "kw:"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) < 2 {
		t.Fatalf("results = %+v, want at least doc1 and doc2", results)
	}
	if results[0].ID != "doc1" {
		t.Fatalf("top result = %s, want doc1 (matches both terms)", results[0].ID)
	}
	for _, r := range results {
		if r.ID == "doc3" {
			t.Fatal("doc3 shares no terms with the query and should not appear")
		}
	}
}

func TestSearchRespectsLimit(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	var root *htcid.ID
	for i := 0; i < 5; i++ {
		d := Document{ID: string(rune('a' + i)), Payload: "x", Terms: []string{"shared"}}
		id, err := Index(ctx, store, root, "kw:", d)
		if err != nil {
			t.Fatalf("Index: %v", err)
		}
		root = &id
	}

	results, err := Search(ctx, store, *root, "shared", Options{Prefix: "kw:", Limit: 2})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
}

func TestRemoveDocumentDropsItFromSearch(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	doc := Document{ID: "doc1", Payload: "x", Terms: Tokenize("removable term")}
	root, err := Index(ctx, store, nil, "kw:", doc)
	if err != nil {
		t.Fatalf("Index: %v", err)
	}

	newRoot, err := RemoveDocument(ctx, store, root, "kw:", doc)
	if err != nil {
		t.Fatalf("RemoveDocument: %v", err)
	}
	if newRoot != nil {
		results, err := Search(ctx, store, *newRoot, "removable term", Options{Prefix: "kw:"})
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if len(results) != 0 {
			t.Fatalf("results = %+v, want none after removal", results)
		}
	}
}

func TestTokenizeDropsStopWordsAndShortTokens(t *testing.T) {
	got := Tokenize("The Quick Brown Fox is a Fox, of 2 legs!")
	want := map[string]bool{"quick": true, "brown": true, "fox": true, "legs": true}
	for _, term := range got {
		if !want[term] {
			t.Fatalf("tokenize produced unexpected term %q in %v", term, got)
		}
	}
	for _, stop := range []string{"the", "is", "a", "of"} {
		for _, term := range got {
			if term == stop {
				t.Fatalf("tokenize should have dropped stop word %q", stop)
			}
		}
	}
}
