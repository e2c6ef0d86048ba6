package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kirillkom/docchat/internal/core/domain"
	"github.com/kirillkom/docchat/internal/core/ports"
)

// RetrievalPolicy is the explicit configuration of the retrieval pass:
// oversampling, fusion parameters, the semantic similarity floor, and how
// to behave when one channel times out or fails.
type RetrievalPolicy struct {
	TopK             int
	OversampleFactor int
	Weights          domain.FusionWeights
	RRFK             int
	MinSimilarity    float64
	EmbeddingDim     int
	ChannelBudget    time.Duration

	// DegradeToSurvivor treats a channel that exceeds ChannelBudget as
	// having returned nothing instead of failing the whole retrieval.
	DegradeToSurvivor bool

	// RequireBothChannels fails retrieval when either channel errors.
	RequireBothChannels bool
}

func (p RetrievalPolicy) normalize() RetrievalPolicy {
	out := p
	if out.TopK <= 0 {
		out.TopK = 5
	}
	if out.OversampleFactor <= 0 {
		out.OversampleFactor = 3
	}
	if out.RRFK < 0 {
		out.RRFK = defaultRRFK
	}
	if out.ChannelBudget <= 0 {
		out.ChannelBudget = 2 * time.Second
	}
	return out
}

// DualRetriever issues the semantic and keyword searches in parallel over
// the same scoped pool and assigns per-channel ranks. Read-only; all state
// is scoped to a single call.
type DualRetriever struct {
	search ports.ChunkSearcher
	policy RetrievalPolicy
}

func NewDualRetriever(search ports.ChunkSearcher, policy RetrievalPolicy) *DualRetriever {
	return &DualRetriever{
		search: search,
		policy: policy.normalize(),
	}
}

type channelResult struct {
	rows []domain.RankedCandidate
	err  error
}

func (r *DualRetriever) Retrieve(
	ctx context.Context,
	query string,
	queryEmbedding []float32,
	scope domain.RetrievalScope,
	limit int,
) (semantic, keyword []domain.RankedCandidate, report domain.RetrievalReport, err error) {
	if limit <= 0 {
		limit = r.policy.TopK
	}
	if r.policy.EmbeddingDim > 0 && len(queryEmbedding) != r.policy.EmbeddingDim {
		return nil, nil, report, domain.WrapError(
			domain.ErrInvalidEmbeddingDimension,
			"retrieve",
			fmt.Errorf("got %d dimensions, want %d", len(queryEmbedding), r.policy.EmbeddingDim),
		)
	}
	if len(queryEmbedding) == 0 {
		return nil, nil, report, domain.WrapError(
			domain.ErrInvalidEmbeddingDimension,
			"retrieve",
			fmt.Errorf("query embedding is empty"),
		)
	}

	oversampled := limit * r.policy.OversampleFactor

	searchCtx, cancel := context.WithTimeout(ctx, r.policy.ChannelBudget)
	defer cancel()

	var wg sync.WaitGroup
	var semRes, keyRes channelResult

	wg.Add(2)
	go func() {
		defer wg.Done()
		semRes.rows, semRes.err = r.search.SearchSemantic(searchCtx, queryEmbedding, scope, oversampled)
	}()
	go func() {
		defer wg.Done()
		keyRes.rows, keyRes.err = r.search.SearchLexical(searchCtx, query, scope, oversampled)
	}()
	wg.Wait()

	semRes = r.applyChannelPolicy(ctx, "semantic", semRes, &report)
	keyRes = r.applyChannelPolicy(ctx, "keyword", keyRes, &report)
	report.SemanticFailed = semRes.err != nil
	report.KeywordFailed = keyRes.err != nil

	switch {
	case semRes.err != nil && keyRes.err != nil:
		return nil, nil, report, domain.WrapError(
			domain.ErrRetrievalUnavailable,
			"retrieve",
			fmt.Errorf("semantic: %w; keyword: %w", semRes.err, keyRes.err),
		)
	case (semRes.err != nil || keyRes.err != nil) && r.policy.RequireBothChannels:
		failed := semRes.err
		if failed == nil {
			failed = keyRes.err
		}
		return nil, nil, report, domain.WrapError(domain.ErrRetrievalUnavailable, "retrieve", failed)
	case semRes.err != nil:
		slog.Warn("retrieval_channel_failed", "channel", "semantic", "error", semRes.err)
	case keyRes.err != nil:
		slog.Warn("retrieval_channel_failed", "channel", "keyword", "error", keyRes.err)
	}

	semantic, keyword = r.applySimilarityFloor(semRes.rows, keyRes.rows)
	assignChannelRanks(semantic, keyword)

	report.SemanticCandidates = len(semantic)
	report.KeywordCandidates = len(keyword)
	return semantic, keyword, report, nil
}

// applyChannelPolicy converts a budget timeout into an empty degraded
// channel when the policy allows it. The parent context being done means
// the caller went away, which is never degraded.
func (r *DualRetriever) applyChannelPolicy(parent context.Context, channel string, res channelResult, report *domain.RetrievalReport) channelResult {
	if res.err == nil || parent.Err() != nil {
		return res
	}
	if !r.policy.DegradeToSurvivor || !isDeadlineError(res.err) {
		return res
	}

	slog.Warn("retrieval_channel_degraded", "channel", channel, "budget", r.policy.ChannelBudget)
	if report.DegradedChannel == "" {
		report.DegradedChannel = channel
	} else {
		report.DegradedChannel = "both"
	}
	return channelResult{}
}

func isDeadlineError(err error) bool {
	return domain.IsKind(err, context.DeadlineExceeded)
}

// applySimilarityFloor drops semantic rows below the configured floor and
// removes those chunks from the keyword list too: a chunk known to be
// semantically irrelevant must not surface via keyword rank alone.
func (r *DualRetriever) applySimilarityFloor(semantic, keyword []domain.RankedCandidate) ([]domain.RankedCandidate, []domain.RankedCandidate) {
	if r.policy.MinSimilarity <= 0 {
		return semantic, keyword
	}

	dropped := make(map[string]struct{})
	keptSem := semantic[:0]
	for _, c := range semantic {
		if c.Similarity < r.policy.MinSimilarity {
			dropped[c.ID] = struct{}{}
			continue
		}
		keptSem = append(keptSem, c)
	}
	if len(dropped) == 0 {
		return keptSem, keyword
	}

	keptKey := keyword[:0]
	for _, c := range keyword {
		if _, gone := dropped[c.ID]; gone {
			continue
		}
		keptKey = append(keptKey, c)
	}
	return keptSem, keptKey
}

func assignChannelRanks(semantic, keyword []domain.RankedCandidate) {
	for i := range semantic {
		semantic[i].SemanticRank = i + 1
	}
	for i := range keyword {
		keyword[i].KeywordRank = i + 1
	}
}
