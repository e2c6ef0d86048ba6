package usecase

import (
	"sort"

	"github.com/kirillkom/docchat/internal/core/domain"
)

// missingRankOffset is added to the oversampled channel limit to produce
// the penalty rank for candidates absent from a channel. A fixed finite
// rank keeps single-channel hits competitive: neither zero (which would
// dominate) nor unbounded (which would erase the channel's contribution).
const missingRankOffset = 1

const defaultRRFK = 60

func missingChannelRank(oversampledLimit int) int {
	return oversampledLimit + missingRankOffset
}

type fusedAccumulator struct {
	candidate    domain.RankedCandidate
	semanticRank int
	keywordRank  int
}

// fuseRRF merges the two channel lists with weighted Reciprocal Rank
// Fusion. Ranks are derived from list positions (1-based). The result is
// sorted by fusion score descending with deterministic tie-breaks
// (semantic rank ascending, then chunk id ascending), truncated to limit,
// and assigned a dense 1-based index in the final order.
func fuseRRF(
	semantic, keyword []domain.RankedCandidate,
	weights domain.FusionWeights,
	rrfK, limit, oversampledLimit int,
) []domain.FusedResult {
	if rrfK < 0 {
		rrfK = defaultRRFK
	}
	if weights.Semantic == 0 && weights.Keyword == 0 {
		weights = domain.FusionWeights{Semantic: 1, Keyword: 1}
	}

	acc := make(map[string]*fusedAccumulator, len(semantic)+len(keyword))
	order := make([]string, 0, len(semantic)+len(keyword))

	record := func(c domain.RankedCandidate) *fusedAccumulator {
		entry, ok := acc[c.ID]
		if !ok {
			entry = &fusedAccumulator{candidate: c}
			acc[c.ID] = entry
			order = append(order, c.ID)
		}
		return entry
	}

	for pos, c := range semantic {
		entry := record(c)
		entry.semanticRank = pos + 1
		entry.candidate.Similarity = c.Similarity
	}
	for pos, c := range keyword {
		entry := record(c)
		entry.keywordRank = pos + 1
		entry.candidate.LexicalScore = c.LexicalScore
		if entry.candidate.Content == "" && c.Content != "" {
			entry.candidate.Content = c.Content
		}
	}

	notFound := missingChannelRank(oversampledLimit)
	out := make([]domain.FusedResult, 0, len(order))
	for _, id := range order {
		entry := acc[id]

		semRank := entry.semanticRank
		if semRank == 0 {
			semRank = notFound
		}
		keyRank := entry.keywordRank
		if keyRank == 0 {
			keyRank = notFound
		}

		candidate := entry.candidate
		candidate.SemanticRank = entry.semanticRank
		candidate.KeywordRank = entry.keywordRank

		out = append(out, domain.FusedResult{
			RankedCandidate: candidate,
			FusionScore: weights.Semantic/float64(rrfK+semRank) +
				weights.Keyword/float64(rrfK+keyRank),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].FusionScore != out[j].FusionScore {
			return out[i].FusionScore > out[j].FusionScore
		}
		ri := effectiveSemanticRank(out[i], notFound)
		rj := effectiveSemanticRank(out[j], notFound)
		if ri != rj {
			return ri < rj
		}
		return out[i].ID < out[j].ID
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	for i := range out {
		out[i].Index = i + 1
	}
	return out
}

func effectiveSemanticRank(r domain.FusedResult, notFound int) int {
	if r.SemanticRank == 0 {
		return notFound
	}
	return r.SemanticRank
}
