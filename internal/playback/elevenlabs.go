package playback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

const elevenLabsModel = "eleven_flash_v2_5"

// ElevenLabsEngine synthesizes speech via the ElevenLabs HTTP
// streaming endpoint. Alternative to DeepgramEngine; audio arrives as
// PCM16LE 48kHz mono.
type ElevenLabsEngine struct {
	HTTPClient *http.Client
	BaseURL    string

	apiKey  string
	voiceID string
	sink    Sink
}

func NewElevenLabsEngine(apiKey, voiceID string, sink Sink) *ElevenLabsEngine {
	if sink == nil {
		sink = Discard
	}
	return &ElevenLabsEngine{
		HTTPClient: &http.Client{Timeout: 0},
		BaseURL:    "https://api.elevenlabs.io",
		apiKey:     apiKey,
		voiceID:    voiceID,
		sink:       sink,
	}
}

// Speak streams synthesized audio for text into the sink. It blocks
// until the stream ends, fails, or ctx is cancelled.
func (e *ElevenLabsEngine) Speak(ctx context.Context, text string) error {
	if e.apiKey == "" || e.voiceID == "" {
		return fmt.Errorf("elevenlabs: api key or voice id missing")
	}

	u, err := url.Parse(e.BaseURL)
	if err != nil {
		return fmt.Errorf("elevenlabs: bad base url: %w", err)
	}
	u.Path = "/v1/text-to-speech/" + e.voiceID + "/stream"
	q := u.Query()
	q.Set("model_id", elevenLabsModel)
	q.Set("output_format", "pcm_48000")
	q.Set("optimize_streaming_latency", "2")
	u.RawQuery = q.Encode()

	body := map[string]any{
		"model_id": elevenLabsModel,
		"text":     text,
		"voice_settings": map[string]any{
			"stability":         0.4,
			"similarity_boost":  0.7,
			"style":             0.0,
			"use_speaker_boost": true,
		},
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("elevenlabs: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("xi-api-key", e.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			e.sink.Reset()
			return ctx.Err()
		}
		return fmt.Errorf("elevenlabs: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("elevenlabs: status=%d body=%s", resp.StatusCode, string(b))
	}

	chunk := make([]byte, 4096)
	for {
		n, rerr := resp.Body.Read(chunk)
		if n > 0 {
			out := make([]byte, n)
			copy(out, chunk[:n])
			e.sink.WritePCM(out)
		}
		if rerr != nil {
			if ctx.Err() != nil {
				e.sink.Reset()
				return ctx.Err()
			}
			if rerr == io.EOF {
				e.sink.FlushTail()
				return nil
			}
			return fmt.Errorf("elevenlabs: read stream: %w", rerr)
		}
	}
}
