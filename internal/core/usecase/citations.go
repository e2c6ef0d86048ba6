package usecase

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/kirillkom/docchat/internal/core/domain"
)

// citationMarkerPattern matches a complete citation marker: a literal '[',
// one or more ASCII digits, ']'. A truncated marker at the end of a
// partially streamed answer ("[1" waiting for "0]") never matches, so
// re-running on growing text is safe.
var citationMarkerPattern = regexp.MustCompile(`\[([0-9]+)\]`)

// Renumber rewrites citation markers in content to sequential numbers in
// order of first appearance and filters sources down to the cited subset,
// reindexed to match. Pure and deterministic: calling it again on its own
// output with the same citation set yields an identical result.
func Renumber(content string, sources []domain.Source) domain.RenumberedView {
	bySource := make(map[int]domain.Source, len(sources))
	for _, s := range sources {
		bySource[s.Index] = s
	}

	markers := findCitationMarkers(content)

	indexMap := make(map[int]int)
	next := 1
	for _, m := range markers {
		if _, known := bySource[m.number]; !known {
			continue
		}
		if _, seen := indexMap[m.number]; seen {
			continue
		}
		indexMap[m.number] = next
		next++
	}

	// Single simultaneous-replace pass keyed by original value: a marker
	// whose sequential number collides with a still-unprocessed original
	// number cannot be re-replaced.
	var b strings.Builder
	b.Grow(len(content))
	last := 0
	for _, m := range markers {
		b.WriteString(content[last:m.start])
		if seq, ok := indexMap[m.number]; ok {
			b.WriteString("[")
			b.WriteString(strconv.Itoa(seq))
			b.WriteString("]")
		}
		// Markers citing nothing in the source list are dropped entirely:
		// a number in the output must always resolve to a listed source.
		last = m.end
	}
	b.WriteString(content[last:])

	cited := make([]domain.Source, 0, len(indexMap))
	for original, seq := range indexMap {
		s := bySource[original]
		s.Index = seq
		cited = append(cited, s)
	}
	sort.Slice(cited, func(i, j int) bool { return cited[i].Index < cited[j].Index })

	return domain.RenumberedView{
		Content:  b.String(),
		Sources:  cited,
		IndexMap: indexMap,
	}
}

type citationMarker struct {
	number int
	start  int
	end    int
}

// findCitationMarkers returns complete markers in reading order, skipping
// bracketed numbers embedded inside a word (an identifier like "v[2]x" is
// not a citation).
func findCitationMarkers(content string) []citationMarker {
	matches := citationMarkerPattern.FindAllStringSubmatchIndex(content, -1)
	out := make([]citationMarker, 0, len(matches))
	for _, m := range matches {
		start, end := m[0], m[1]
		if isWordBoundary(content, start, end) {
			n, err := strconv.Atoi(content[m[2]:m[3]])
			if err != nil || n <= 0 {
				continue
			}
			out = append(out, citationMarker{number: n, start: start, end: end})
		}
	}
	return out
}

func isWordBoundary(content string, start, end int) bool {
	if start > 0 && isWordByte(content[start-1]) {
		return false
	}
	if end < len(content) && isWordByte(content[end]) {
		return false
	}
	return true
}

func isWordByte(b byte) bool {
	return b == '_' ||
		(b >= 'a' && b <= 'z') ||
		(b >= 'A' && b <= 'Z') ||
		(b >= '0' && b <= '9')
}

// GroupSourcesByDocument groups an already renumbered source list by its
// origin document, preserving citation order within and across groups.
// Presentation concern layered on top of Renumber.
func GroupSourcesByDocument(sources []domain.Source) []domain.SourceGroup {
	groups := make([]domain.SourceGroup, 0)
	position := make(map[string]int)

	for _, s := range sources {
		idx, ok := position[s.DocumentID]
		if !ok {
			position[s.DocumentID] = len(groups)
			groups = append(groups, domain.SourceGroup{
				DocumentID: s.DocumentID,
				FileName:   s.FileName,
			})
			idx = len(groups) - 1
		}
		groups[idx].Sources = append(groups[idx].Sources, s)
	}
	return groups
}
