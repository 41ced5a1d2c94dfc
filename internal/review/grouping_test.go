package review

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestBuildChangeListGroupsBySubjectInFirstSeenOrder(t *testing.T) {
	changes := []Change{
		{ID: "a1", Subject: "A", Label: "Alpha"},
		{ID: "b1", Subject: "B", Label: "Beta"},
		{ID: "a2", Subject: "A", Label: "Alpha"},
	}

	got := BuildChangeList(changes)

	wantHeaders := []Header{{URI: "A", Label: "Alpha"}, {URI: "B", Label: "Beta"}}
	if diff := cmp.Diff(wantHeaders, got.Headers); diff != "" {
		t.Fatalf("headers mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{2, 1}, got.GroupCounts); diff != "" {
		t.Fatalf("group counts mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{1, 2}, got.LastInGroupIndexes); diff != "" {
		t.Fatalf("boundaries mismatch (-want +got):\n%s", diff)
	}
	ids := make([]string, 0, len(got.AllChanges))
	for _, change := range got.AllChanges {
		ids = append(ids, change.ID)
	}
	if diff := cmp.Diff([]string{"a1", "a2", "b1"}, ids); diff != "" {
		t.Fatalf("flattened order mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildChangeListEmptyInput(t *testing.T) {
	got := BuildChangeList(nil)
	if len(got.AllChanges) != 0 || len(got.Headers) != 0 || len(got.GroupCounts) != 0 || len(got.LastInGroupIndexes) != 0 {
		t.Fatalf("expected empty output, got %+v", got)
	}
	if got.AllChanges == nil || got.Headers == nil {
		t.Fatalf("expected non-nil slices so the JSON renders as []")
	}
}

func TestBuildChangeListHeaderFallsBackToSubject(t *testing.T) {
	got := BuildChangeList([]Change{{ID: "1", Subject: "http://example.org/term"}})
	if got.Headers[0].Label != "http://example.org/term" {
		t.Fatalf("expected subject as label, got %q", got.Headers[0].Label)
	}
	if got.LastInGroupIndexes[0] != 0 {
		t.Fatalf("expected boundary 0 for a single change, got %d", got.LastInGroupIndexes[0])
	}
}

func TestBuildChangeListBoundariesAreCumulative(t *testing.T) {
	subjects := []string{"C", "A", "C", "B", "A", "C", "D"}
	changes := make([]Change, 0, len(subjects))
	for i, subject := range subjects {
		changes = append(changes, Change{ID: string(rune('a' + i)), Subject: subject})
	}

	got := BuildChangeList(changes)

	if len(got.AllChanges) != len(changes) {
		t.Fatalf("expected %d changes, got %d", len(changes), len(got.AllChanges))
	}
	total := 0
	for i, count := range got.GroupCounts {
		total += count
		if got.LastInGroupIndexes[i] != total-1 {
			t.Fatalf("group %d: boundary %d, want %d", i, got.LastInGroupIndexes[i], total-1)
		}
		last := got.AllChanges[got.LastInGroupIndexes[i]]
		if last.Subject != got.Headers[i].URI {
			t.Fatalf("group %d: boundary row has subject %q, want %q", i, last.Subject, got.Headers[i].URI)
		}
	}
	if total != len(changes) {
		t.Fatalf("group counts sum to %d, want %d", total, len(changes))
	}
	if diff := cmp.Diff([]string{"C", "A", "B", "D"}, headerURIs(got.Headers)); diff != "" {
		t.Fatalf("group order mismatch (-want +got):\n%s", diff)
	}
	if !got.IsLastInGroup(2) || got.IsLastInGroup(1) {
		t.Fatalf("unexpected IsLastInGroup answers for %v", got.LastInGroupIndexes)
	}
}

func TestGenerateTriple(t *testing.T) {
	got := GenerateTriple(Change{
		Subject:   "http://example.org/a",
		Predicate: "http://www.w3.org/2004/02/skos/core#broader",
		Object:    ObjectData{Value: "http://example.org/b"},
	})
	want := "<http://example.org/a>\n<http://www.w3.org/2004/02/skos/core#broader>\n<http://example.org/b> ."
	if got != want {
		t.Fatalf("GenerateTriple = %q, want %q", got, want)
	}
}

func headerURIs(headers []Header) []string {
	uris := make([]string, 0, len(headers))
	for _, header := range headers {
		uris = append(uris, header.URI)
	}
	return uris
}
