package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/loqalabs/narrator-core/internal/config"
)

type playHTSynth struct {
	endpoint     string
	apiKey       string
	userID       string
	voice        string
	outputFormat string
	voiceEngine  string
	client       *http.Client
}

type playHTRequest struct {
	Text         string `json:"text"`
	Voice        string `json:"voice"`
	OutputFormat string `json:"output_format"`
	VoiceEngine  string `json:"voice_engine"`
}

type playHTResponse struct {
	URL string `json:"url"`
}

type playHTError struct {
	Message string `json:"message"`
}

// NewPlayHTSynth posts the whole narrative to the PlayHT v2 tts endpoint and
// returns the URL of the rendered file.
func NewPlayHTSynth(cfg config.SpeechConfig, client *http.Client) Synthesizer {
	if client == nil {
		client = http.DefaultClient
	}
	return &playHTSynth{
		endpoint:     cfg.Endpoint,
		apiKey:       cfg.APIKey,
		userID:       cfg.UserID,
		voice:        cfg.Voice,
		outputFormat: cfg.OutputFormat,
		voiceEngine:  cfg.VoiceEngine,
		client:       client,
	}
}

func (p *playHTSynth) Synthesize(ctx context.Context, text string) (string, error) {
	if p.apiKey == "" || p.userID == "" {
		return "", &SynthesisError{Err: ErrMissingCredentials}
	}

	body, err := json.Marshal(playHTRequest{
		Text:         text,
		Voice:        p.voice,
		OutputFormat: p.outputFormat,
		VoiceEngine:  p.voiceEngine,
	})
	if err != nil {
		return "", &SynthesisError{Err: fmt.Errorf("marshal speech request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", &SynthesisError{Err: fmt.Errorf("build speech request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("AUTHORIZATION", "Bearer "+p.apiKey)
	req.Header.Set("X-USER-ID", p.userID)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", &SynthesisError{Err: fmt.Errorf("speech request failed: %w", err)}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &SynthesisError{Status: resp.StatusCode, Err: fmt.Errorf("read speech response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr playHTError
		if err := json.Unmarshal(payload, &apiErr); err != nil {
			return "", &SynthesisError{
				Status:  resp.StatusCode,
				Message: fmt.Sprintf("PlayAI API request failed with status %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
			}
		}
		message := apiErr.Message
		if message == "" {
			message = "Unknown error"
		}
		return "", &SynthesisError{Status: resp.StatusCode, Message: "PlayAI API request failed: " + message}
	}

	var out playHTResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return "", &SynthesisError{Status: resp.StatusCode, Err: fmt.Errorf("decode speech response: %w", err)}
	}
	if out.URL == "" {
		return "", &SynthesisError{Status: resp.StatusCode, Err: ErrURLNotFound}
	}
	return out.URL, nil
}
