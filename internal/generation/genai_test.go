package generation

import (
	"context"
	"testing"
)

func TestNew_RequiresAPIKey(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatal("Expected error without API key")
	}
}

func TestNew_AppliesDefaultModels(t *testing.T) {
	c, err := New(context.Background(), Config{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if c.model != DefaultModel {
		t.Errorf("Expected default model %s, got %s", DefaultModel, c.model)
	}
	if c.embeddingModel != DefaultEmbeddingModel {
		t.Errorf("Expected default embedding model %s, got %s", DefaultEmbeddingModel, c.embeddingModel)
	}
	if c.Name() != "genai:"+DefaultModel {
		t.Errorf("Unexpected name %q", c.Name())
	}
}
