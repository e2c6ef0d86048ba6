package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadRetrievalDefaults(t *testing.T) {
	t.Setenv("RETRIEVAL_TOP_K", "")
	t.Setenv("RETRIEVAL_OVERSAMPLE_FACTOR", "")
	t.Setenv("RETRIEVAL_RRF_K", "")
	t.Setenv("RETRIEVAL_CHANNEL_BUDGET_MS", "")
	t.Setenv("RETRIEVAL_POLICY_FILE", "")

	cfg := Load()
	if cfg.RetrievalTopK != 5 {
		t.Fatalf("expected default top k 5, got %d", cfg.RetrievalTopK)
	}
	if cfg.RetrievalOversampleFactor != 3 {
		t.Fatalf("expected default oversample factor 3, got %d", cfg.RetrievalOversampleFactor)
	}
	if cfg.RetrievalRRFK != 60 {
		t.Fatalf("expected default rrf k 60, got %d", cfg.RetrievalRRFK)
	}
	if cfg.ChannelBudget().Milliseconds() != 2000 {
		t.Fatalf("expected default channel budget 2000ms, got %v", cfg.ChannelBudget())
	}
	if !cfg.RetrievalDegrade {
		t.Fatalf("expected degrade-to-survivor on by default")
	}
}

func TestLoadParsesRetrievalOverrides(t *testing.T) {
	t.Setenv("RETRIEVAL_TOP_K", "8")
	t.Setenv("RETRIEVAL_RRF_K", "0")
	t.Setenv("RETRIEVAL_SEMANTIC_WEIGHT", "0.7")
	t.Setenv("RETRIEVAL_MIN_SIMILARITY", "0.35")
	t.Setenv("RETRIEVAL_POLICY_FILE", "")

	cfg := Load()
	if cfg.RetrievalTopK != 8 {
		t.Fatalf("expected top k 8, got %d", cfg.RetrievalTopK)
	}
	if cfg.RetrievalRRFK != 0 {
		t.Fatalf("expected explicit rrf k 0 preserved, got %d", cfg.RetrievalRRFK)
	}
	if cfg.RetrievalSemanticWeight != 0.7 {
		t.Fatalf("expected semantic weight 0.7, got %f", cfg.RetrievalSemanticWeight)
	}
	if cfg.RetrievalMinSimilarity != 0.35 {
		t.Fatalf("expected min similarity 0.35, got %f", cfg.RetrievalMinSimilarity)
	}
}

func TestLoadAppliesPolicyFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	overlay := []byte("top_k: 9\nrrf_k: 30\nmin_similarity: 0.25\nrequire_both_channels: true\n")
	if err := os.WriteFile(path, overlay, 0o600); err != nil {
		t.Fatalf("write policy file: %v", err)
	}

	t.Setenv("RETRIEVAL_TOP_K", "5")
	t.Setenv("RETRIEVAL_POLICY_FILE", path)

	cfg := Load()
	if cfg.RetrievalTopK != 9 {
		t.Fatalf("expected overlay top k 9, got %d", cfg.RetrievalTopK)
	}
	if cfg.RetrievalRRFK != 30 {
		t.Fatalf("expected overlay rrf k 30, got %d", cfg.RetrievalRRFK)
	}
	if cfg.RetrievalMinSimilarity != 0.25 {
		t.Fatalf("expected overlay min similarity 0.25, got %f", cfg.RetrievalMinSimilarity)
	}
	if !cfg.RetrievalRequireBoth {
		t.Fatalf("expected overlay to require both channels")
	}
}

func TestLoadIgnoresBrokenPolicyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte(":\nnot yaml ["), 0o600); err != nil {
		t.Fatalf("write policy file: %v", err)
	}

	t.Setenv("RETRIEVAL_TOP_K", "7")
	t.Setenv("RETRIEVAL_POLICY_FILE", path)

	cfg := Load()
	if cfg.RetrievalTopK != 7 {
		t.Fatalf("expected env value to survive broken overlay, got %d", cfg.RetrievalTopK)
	}
}
