// Package embedding turns text into fixed-length feature vectors for the
// reward model.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// Embedder generates embedding vectors from text. ID identifies the embedder
// and its dimensionality; a model trained under one ID is unusable under another.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	ID() string
}

// Dot returns the inner product of two equal-length vectors.
func Dot(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// Sub returns a - b.
func Sub(a, b []float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = a[i] - b[i]
	}
	return out
}

func normalize(v []float64) {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 {
		return
	}
	n := math.Sqrt(sum)
	for i := range v {
		v[i] /= n
	}
}

// #region hashing
// DefaultHashingDims is the hashing embedder's default width.
const DefaultHashingDims = 256

// Hashing is an offline feature-hashing embedder. Unigrams and bigrams of
// the lowercased text are hashed into a signed bucket vector, followed by
// two length features, and the result is L2-normalized.
type Hashing struct {
	dims int
}

// NewHashing creates a hashing embedder with dims buckets (DefaultHashingDims if <= 0).
func NewHashing(dims int) *Hashing {
	if dims <= 0 {
		dims = DefaultHashingDims
	}
	return &Hashing{dims: dims}
}

// ID implements Embedder.
func (h *Hashing) ID() string { return fmt.Sprintf("hashing-%d", h.dims) }

// Dims returns the output width, including the two length features.
func (h *Hashing) Dims() int { return h.dims + 2 }

// Embed implements Embedder. It never fails except on a cancelled context.
func (h *Hashing) Embed(ctx context.Context, text string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v := make([]float64, h.dims+2)
	tokens := Tokenize(text)
	for i, tok := range tokens {
		h.add(v, tok)
		if i > 0 {
			h.add(v, tokens[i-1]+" "+tok)
		}
	}
	normalize(v[:h.dims])
	v[h.dims] = math.Log1p(float64(len(tokens))) / 10
	v[h.dims+1] = math.Log1p(float64(len(text))) / 10
	return v, nil
}

func (h *Hashing) add(v []float64, feature string) {
	sum := xxhash.Sum64String(feature)
	idx := sum % uint64(h.dims)
	if sum>>63 == 1 {
		v[idx]--
	} else {
		v[idx]++
	}
}

// Tokenize lowercases text and splits it on anything that is not a letter or digit.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// #endregion hashing

// #region ollama
// Ollama uses a local Ollama instance for embeddings.
type Ollama struct {
	baseURL string
	model   string
	client  *http.Client
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaResponse struct {
	Embedding []float64 `json:"embedding"`
}

// NewOllama creates an embedder using Ollama's /api/embeddings endpoint.
func NewOllama(baseURL, model string) *Ollama {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "nomic-embed-text"
	}
	return &Ollama{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// ID implements Embedder.
func (e *Ollama) ID() string { return "ollama:" + e.model }

// Embed implements Embedder.
func (e *Ollama) Embed(ctx context.Context, text string) ([]float64, error) {
	body, _ := json.Marshal(ollamaRequest{Model: e.model, Prompt: text})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama error %d: %s", resp.StatusCode, string(b))
	}

	var result ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode ollama response: %w", err)
	}
	if len(result.Embedding) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return result.Embedding, nil
}

// #endregion ollama

// #region factory
// Options selects and configures an embedder.
type Options struct {
	Kind        string // hashing (default) | ollama | codec
	HashingDims int    // <= 0 means DefaultHashingDims
	OllamaURL   string
	OllamaModel string
	Remote      Embedder // required for codec
}

// New builds the embedder named by opts.Kind.
func New(opts Options) (Embedder, error) {
	switch opts.Kind {
	case "", "hashing":
		return NewHashing(opts.HashingDims), nil
	case "ollama":
		return NewOllama(opts.OllamaURL, opts.OllamaModel), nil
	case "codec":
		if opts.Remote == nil {
			return nil, fmt.Errorf("codec embedder requested but no codec client configured")
		}
		return opts.Remote, nil
	}
	return nil, fmt.Errorf("unknown embedder %q", opts.Kind)
}

// #endregion factory
