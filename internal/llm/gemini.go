package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const (
	roleUser  = "user"
	roleModel = "model"

	// acknowledgement is the model turn placed between the system
	// instruction and the prompt.
	acknowledgement = "Ok."
)

type geminiGenerator struct {
	endpoint string
	model    string
	apiKey   string
	client   *http.Client
}

// NewGeminiGenerator talks to the generateContent endpoint of the Gemini API.
// The API key travels in the query string.
func NewGeminiGenerator(endpoint, model, apiKey string, client *http.Client) Generator {
	if client == nil {
		client = http.DefaultClient
	}
	return &geminiGenerator{
		endpoint: strings.TrimRight(endpoint, "/"),
		model:    model,
		apiKey:   apiKey,
		client:   client,
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content *struct {
			Parts []struct {
				Text *string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

type geminiError struct {
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (g *geminiGenerator) url() string {
	return fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", g.endpoint, g.model, url.QueryEscape(g.apiKey))
}

func (g *geminiGenerator) Generate(ctx context.Context, req Request) (string, error) {
	if g.apiKey == "" {
		return "", ErrMissingCredentials
	}

	payload := geminiRequest{
		Contents: []geminiContent{
			{Role: roleUser, Parts: []geminiPart{{Text: req.System}}},
			{Role: roleModel, Parts: []geminiPart{{Text: acknowledgement}}},
			{Role: roleUser, Parts: []geminiPart{{Text: req.Prompt}}},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url(), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &NetworkError{Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		reqErr := &RequestError{Status: resp.StatusCode}
		var payload geminiError
		if json.Unmarshal(data, &payload) == nil && payload.Error != nil {
			reqErr.Details = payload.Error.Message
		}
		return "", reqErr
	}

	var out geminiResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(out.Candidates) == 0 || out.Candidates[0].Content == nil ||
		len(out.Candidates[0].Content.Parts) == 0 || out.Candidates[0].Content.Parts[0].Text == nil {
		return "", ErrMalformedResponse
	}
	return *out.Candidates[0].Content.Parts[0].Text, nil
}
