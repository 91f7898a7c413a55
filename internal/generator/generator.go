// Package generator produces responses styled by a trait profile using an
// Ollama server.
package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/danielpatrickdp/preference-engine/internal/trait"
)

// #region instruction
// Trait values at or beyond these bounds get a style phrase.
const (
	HighThreshold = 0.7
	LowThreshold  = 0.3
)

var stylePhrases = map[trait.Trait][2]string{
	trait.Openness: {
		"Be practical and conventional, sticking to proven methods.",
		"Be creative and unconventional, offering original ideas and experiments.",
	},
	trait.Conscientiousness: {
		"Be relaxed and spontaneous, without rigid plans.",
		"Be structured and detailed, with plans, schedules and clear steps.",
	},
	trait.Extraversion: {
		"Be calm and introspective, favouring quiet reflection.",
		"Be energetic and social, encouraging bold action with others.",
	},
	trait.Agreeableness: {
		"Be blunt and direct, putting facts before feelings.",
		"Be warm and supportive, validating feelings with empathy.",
	},
	trait.Neuroticism: {
		"Be confident and bold, pushing for resilience.",
		"Acknowledge stress and offer reassurance and calming strategies.",
	},
}

// Instruction renders a system instruction describing the response style
// for profile. Traits between the thresholds contribute nothing.
func Instruction(profile trait.Vector) string {
	var parts []string
	for _, t := range trait.All {
		v := profile.Get(t)
		switch {
		case v >= HighThreshold:
			parts = append(parts, stylePhrases[t][1])
		case v <= LowThreshold:
			parts = append(parts, stylePhrases[t][0])
		}
	}
	if len(parts) == 0 {
		parts = append(parts, "Give balanced, helpful advice.")
	}
	return "You are a motivational coach. " + strings.Join(parts, " ") +
		" Keep the response to one or two short sentences."
}

// #endregion instruction

// #region ollama
// Ollama generates text with an Ollama server's /api/generate endpoint.
type Ollama struct {
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	client      *http.Client
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	TopK        int     `json:"top_k"`
	NumPredict  int     `json:"num_predict"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// NewOllama creates a generator for model at baseURL.
func NewOllama(baseURL, model string) *Ollama {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "mistral"
	}
	return &Ollama{
		baseURL:     strings.TrimRight(baseURL, "/"),
		model:       model,
		maxTokens:   100,
		temperature: 0.8,
		client:      &http.Client{Timeout: 60 * time.Second},
	}
}

// Generate returns a response to prompt in the style of profile.
func (g *Ollama) Generate(ctx context.Context, prompt string, profile trait.Vector) (string, error) {
	body, err := json.Marshal(generateRequest{
		Model:  g.model,
		Prompt: fmt.Sprintf("%s\n\nPerson: %s\n\nCoach:", Instruction(profile), prompt),
		Options: generateOptions{
			Temperature: g.temperature,
			TopP:        0.9,
			TopK:        40,
			NumPredict:  g.maxTokens,
		},
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollama error %d: %s", resp.StatusCode, string(b))
	}

	var result generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode ollama response: %w", err)
	}
	text := Trim(result.Response)
	if text == "" {
		return "", fmt.Errorf("ollama returned an empty response")
	}
	return text, nil
}

// Trim keeps the first paragraph of a generation and at most two sentences of it.
func Trim(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = strings.TrimSpace(text[:i])
	}
	sentences := strings.Split(text, ". ")
	if len(sentences) > 2 {
		text = strings.Join(sentences[:2], ". ") + "."
	}
	return text
}

// #endregion ollama
