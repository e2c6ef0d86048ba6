package usecase

import (
	"reflect"
	"testing"

	"github.com/kirillkom/docchat/internal/core/domain"
)

func sourceWithIndex(index int, documentID string) domain.Source {
	return domain.Source{Index: index, DocumentID: documentID, FileName: documentID + ".pdf", Content: "excerpt"}
}

func TestRenumberFirstAppearanceOrder(t *testing.T) {
	sources := []domain.Source{
		sourceWithIndex(2, "doc-two"),
		sourceWithIndex(5, "doc-five"),
	}

	view := Renumber("See [5] and [2].", sources)

	if view.Content != "See [1] and [2]." {
		t.Fatalf("expected first-appearance renumbering, got %q", view.Content)
	}
	if len(view.Sources) != 2 {
		t.Fatalf("expected 2 cited sources, got %d", len(view.Sources))
	}
	if view.Sources[0].DocumentID != "doc-five" || view.Sources[0].Index != 1 {
		t.Fatalf("expected original 5 as sequential 1, got %+v", view.Sources[0])
	}
	if view.Sources[1].DocumentID != "doc-two" || view.Sources[1].Index != 2 {
		t.Fatalf("expected original 2 as sequential 2, got %+v", view.Sources[1])
	}
	if view.IndexMap[5] != 1 || view.IndexMap[2] != 2 {
		t.Fatalf("unexpected index map: %v", view.IndexMap)
	}
}

func TestRenumberDropsUncitedSources(t *testing.T) {
	sources := []domain.Source{
		sourceWithIndex(1, "cited"),
		sourceWithIndex(2, "never-cited"),
	}

	view := Renumber("Only [1] matters.", sources)

	if len(view.Sources) != 1 || view.Sources[0].DocumentID != "cited" {
		t.Fatalf("expected only the cited source to survive, got %+v", view.Sources)
	}
}

func TestRenumberSwapCollision(t *testing.T) {
	// Original [2] becomes sequential [1] while an original [1] still
	// needs processing; a naive in-place scan would merge them.
	sources := []domain.Source{
		sourceWithIndex(1, "doc-a"),
		sourceWithIndex(2, "doc-b"),
	}

	view := Renumber("First [2], then [1], then [2] again.", sources)

	if view.Content != "First [1], then [2], then [1] again." {
		t.Fatalf("collision-unsafe rewrite: %q", view.Content)
	}
	if view.Sources[0].DocumentID != "doc-b" || view.Sources[1].DocumentID != "doc-a" {
		t.Fatalf("sources not remapped with content: %+v", view.Sources)
	}
}

func TestRenumberIdempotentOnStableInput(t *testing.T) {
	sources := []domain.Source{
		sourceWithIndex(3, "doc-c"),
		sourceWithIndex(7, "doc-g"),
	}

	first := Renumber("Claims [7] and [3].", sources)
	second := Renumber(first.Content, first.Sources)

	if first.Content != second.Content {
		t.Fatalf("content changed on second pass: %q -> %q", first.Content, second.Content)
	}
	if !reflect.DeepEqual(first.Sources, second.Sources) {
		t.Fatalf("sources changed on second pass: %+v -> %+v", second.Sources, first.Sources)
	}
}

func TestRenumberIgnoresTruncatedMarker(t *testing.T) {
	sources := []domain.Source{sourceWithIndex(10, "doc-j")}

	partial := Renumber("A partially streamed citation [1", sources)
	if partial.Content != "A partially streamed citation [1" {
		t.Fatalf("truncated marker must pass through untouched, got %q", partial.Content)
	}
	if len(partial.Sources) != 0 {
		t.Fatalf("truncated marker must not cite anything, got %+v", partial.Sources)
	}

	complete := Renumber("A partially streamed citation [10]", sources)
	if complete.Content != "A partially streamed citation [1]" {
		t.Fatalf("completed marker must resolve, got %q", complete.Content)
	}
}

func TestRenumberStripsMarkersWithoutSource(t *testing.T) {
	sources := []domain.Source{sourceWithIndex(1, "doc-a")}

	view := Renumber("Known [1] and unknown [9].", sources)

	if view.Content != "Known [1] and unknown ." {
		t.Fatalf("marker citing nothing must be stripped, got %q", view.Content)
	}
	if len(view.Sources) != 1 {
		t.Fatalf("expected one cited source, got %d", len(view.Sources))
	}
}

func TestRenumberSkipsNonCitationBrackets(t *testing.T) {
	sources := []domain.Source{sourceWithIndex(1, "doc-a")}

	view := Renumber("arr[1] is code, [note] is prose, [1] is a citation.", sources)

	if view.Content != "arr[1] is code, [note] is prose, [1] is a citation." {
		t.Fatalf("non-citation brackets rewritten: %q", view.Content)
	}
	if len(view.Sources) != 1 {
		t.Fatalf("expected exactly the one real citation, got %+v", view.Sources)
	}
}

func TestRenumberAdjacentMarkers(t *testing.T) {
	sources := []domain.Source{
		sourceWithIndex(4, "doc-d"),
		sourceWithIndex(6, "doc-f"),
	}

	view := Renumber("Stacked citations [6][4].", sources)
	if view.Content != "Stacked citations [1][2]." {
		t.Fatalf("adjacent markers mishandled: %q", view.Content)
	}
}

func TestGroupSourcesByDocument(t *testing.T) {
	sources := []domain.Source{
		{Index: 1, DocumentID: "doc-a", FileName: "a.pdf"},
		{Index: 2, DocumentID: "doc-b", FileName: "b.pdf"},
		{Index: 3, DocumentID: "doc-a", FileName: "a.pdf"},
	}

	groups := GroupSourcesByDocument(sources)
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if groups[0].DocumentID != "doc-a" || len(groups[0].Sources) != 2 {
		t.Fatalf("expected doc-a group with 2 sources, got %+v", groups[0])
	}
	if groups[1].DocumentID != "doc-b" || len(groups[1].Sources) != 1 {
		t.Fatalf("expected doc-b group with 1 source, got %+v", groups[1])
	}
}
