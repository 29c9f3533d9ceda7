package llm

import (
	"context"
	"math"
	"regexp"
	"strings"

	"github.com/ollama/ollama/api"
)

// HashDim is the dimension of the deterministic fallback embedding.
const HashDim = 256

// Embedder maps text to a fixed-dimension vector for a named model.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// OllamaEmbedder produces embeddings through a local Ollama server.
type OllamaEmbedder struct {
	client *api.Client
	model  string
}

var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder builds an embedder from the OLLAMA_HOST environment
// (default localhost:11434).
func NewOllamaEmbedder(model string) (*OllamaEmbedder, error) {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = "nomic-embed-text"
	}
	return &OllamaEmbedder{client: client, model: model}, nil
}

func (o *OllamaEmbedder) Model() string { return o.model }

func (o *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := o.client.Embeddings(ctx, &api.EmbeddingRequest{
		Model:  o.model,
		Prompt: CleanText(text),
	})
	if err != nil {
		return nil, err
	}
	vec := make([]float32, len(resp.Embedding))
	for i, v := range resp.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

// HashEmbedder is the deterministic fallback: a 256-dimension character
// hashing embedding normalized to unit L2. Scores are crude but stable, which
// keeps retrieval usable offline.
type HashEmbedder struct {
	model string
}

var _ Embedder = (*HashEmbedder)(nil)

// NewHashEmbedder names the fallback after the model whose slot it fills so
// its vectors satisfy the one-live-embedding-per-(block, model) rule.
func NewHashEmbedder(model string) *HashEmbedder {
	if model == "" {
		model = "hash-256"
	}
	return &HashEmbedder{model: model}
}

func (h *HashEmbedder) Model() string { return h.model }

func (h *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return HashEmbedding(text), nil
}

// HashEmbedding maps text to a unit-L2 vector of HashDim dimensions.
func HashEmbedding(text string) []float32 {
	text = CleanText(text)
	vec := make([]float32, HashDim)
	limit := len(text)
	if limit > 2048 {
		limit = 2048
	}
	for i := 0; i < limit; i++ {
		idx := (int(text[i]) + i) % HashDim
		vec[idx]++
	}
	return NormalizeL2(vec)
}

// NormalizeL2 scales v to unit length in place and returns it. A zero vector
// is returned unchanged.
func NormalizeL2(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return v
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

// FallbackEmbedder tries the primary embedder and degrades to the hashing
// embedding on failure, so indexing never stalls on provider errors.
type FallbackEmbedder struct {
	Primary Embedder
}

var _ Embedder = (*FallbackEmbedder)(nil)

func (f *FallbackEmbedder) Model() string {
	if f.Primary != nil {
		return f.Primary.Model()
	}
	return "hash-256"
}

func (f *FallbackEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.Primary != nil {
		if vec, err := f.Primary.Embed(ctx, text); err == nil {
			return vec, nil
		}
	}
	return HashEmbedding(text), nil
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// CleanText collapses runs of whitespace and trims the result.
func CleanText(text string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
}
