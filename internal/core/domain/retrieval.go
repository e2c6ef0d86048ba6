package domain

// Chunk is an immutable unit of indexed content, owned by the indexing
// subsystem. The core only reads it.
type Chunk struct {
	ID             string    `json:"id"`
	DocumentID     string    `json:"document_id"`
	Content        string    `json:"content"`
	PageNumber     *int      `json:"page_number,omitempty"`
	Ordinal        int       `json:"ordinal"`
	Embedding      []float32 `json:"-"`
	SearchableText string    `json:"-"`
}

// RetrievalScope narrows the candidate pool to one owner and optionally
// to an explicit set of documents.
type RetrievalScope struct {
	OwnerID     string
	DocumentIDs []string
}

// RankedCandidate is a chunk plus its per-channel rank and raw score.
// A rank of zero means the chunk was not returned by that channel.
type RankedCandidate struct {
	Chunk
	SemanticRank int     `json:"semantic_rank"`
	KeywordRank  int     `json:"keyword_rank"`
	Similarity   float64 `json:"similarity"`
	LexicalScore float64 `json:"lexical_score"`
}

// FusedResult is a ranked candidate with its combined RRF score and the
// dense 1-based position handed to the language model as "Source N".
type FusedResult struct {
	RankedCandidate
	FusionScore float64 `json:"fusion_score"`
	Index       int     `json:"index"`
}

// FusionWeights are the per-channel contributions to the RRF score.
type FusionWeights struct {
	Semantic float64 `yaml:"semantic"`
	Keyword  float64 `yaml:"keyword"`
}

// RetrievalReport records per-channel outcomes for one retrieval pass.
// The caller decides whether a failed channel aborts the turn.
type RetrievalReport struct {
	SemanticCandidates int
	KeywordCandidates  int
	SemanticFailed     bool
	KeywordFailed      bool
	DegradedChannel    string
}

// Source is the client-facing subset of a fused result. Immutable once
// emitted.
type Source struct {
	Index      int     `json:"index"`
	DocumentID string  `json:"document_id"`
	FileName   string  `json:"file_name"`
	PageNumber *int    `json:"page_number,omitempty"`
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
}
