package domain

// RenumberedView is the output of citation renumbering: answer text with
// markers rewritten to first-appearance order, the cited subset of the
// source list reindexed to match, and the original-to-sequential mapping.
// It is recomputed fresh on every invocation and has no persistent identity.
type RenumberedView struct {
	Content  string      `json:"content"`
	Sources  []Source    `json:"sources"`
	IndexMap map[int]int `json:"-"`
}

// SourceGroup collects the cited sources of one origin document for
// compact rendering. Presentation-layer view built on the renumbered list.
type SourceGroup struct {
	DocumentID string   `json:"document_id"`
	FileName   string   `json:"file_name"`
	Sources    []Source `json:"sources"`
}
