package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultInstructions steer the model when no custom instructions are
// configured.
const DefaultInstructions = `You are a compassionate AI medical intake assistant.
Ask about symptoms, medications, allergies, and medical history.
Ask one question at a time. Keep responses brief.`

// GeminiClient generates one reply per finalized patient utterance via
// the generateContent REST endpoint.
type GeminiClient struct {
	HTTPClient   *http.Client
	APIKey       string
	Model        string
	Instructions string
}

type generateContentRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
	SafetySettings   []safetySetting   `json:"safetySettings,omitempty"`
}

type safetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

// medical intake talk trips the default filters (symptoms, drugs),
// so all categories are opened up
var defaultSafetySettings = []safetySetting{
	{Category: "HARM_CATEGORY_HARASSMENT", Threshold: "BLOCK_NONE"},
	{Category: "HARM_CATEGORY_HATE_SPEECH", Threshold: "BLOCK_NONE"},
	{Category: "HARM_CATEGORY_SEXUALLY_EXPLICIT", Threshold: "BLOCK_NONE"},
	{Category: "HARM_CATEGORY_DANGEROUS_CONTENT", Threshold: "BLOCK_NONE"},
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
	TopP            float64 `json:"topP"`
}

type generateContentResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

func NewGeminiClient(apiKey, model string) *GeminiClient {
	if model == "" {
		model = "gemini-2.0-flash-exp"
	}
	return &GeminiClient{
		HTTPClient:   &http.Client{Timeout: 15 * time.Second},
		APIKey:       apiKey,
		Model:        model,
		Instructions: DefaultInstructions,
	}
}

// buildPrompt assembles instructions, prior turns and the latest
// patient utterance into a single prompt.
func (c *GeminiClient) buildPrompt(latest string, history []string) string {
	var b strings.Builder
	b.WriteString(c.Instructions)
	b.WriteString("\n\n")
	if len(history) > 0 {
		b.WriteString("Previous conversation:\n")
		b.WriteString(strings.Join(history, "\n"))
		b.WriteString("\n\n")
	}
	b.WriteString("Patient: ")
	b.WriteString(latest)
	b.WriteString("\n\nAI Assistant:")
	return b.String()
}

// Generate returns the model's reply for the latest utterance given
// the prior conversation turns.
func (c *GeminiClient) Generate(ctx context.Context, latest string, history []string) (string, error) {
	if c.APIKey == "" {
		return "", fmt.Errorf("gemini api key missing")
	}
	endpoint := fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent?key=%s", c.Model, c.APIKey)

	reqBody, _ := json.Marshal(generateContentRequest{
		Contents: []content{{Parts: []part{{Text: c.buildPrompt(latest, history)}}}},
		GenerationConfig: &generationConfig{
			Temperature:     0.8,
			MaxOutputTokens: 200,
			TopP:            0.9,
		},
		SafetySettings: defaultSafetySettings,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("gemini error: status=%d body=%s", resp.StatusCode, string(b))
	}
	var gr generateContentResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return "", err
	}
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini: no candidates")
	}
	return strings.TrimSpace(gr.Candidates[0].Content.Parts[0].Text), nil
}
