package ai

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

const (
	genericTemperature = 0.1
	genericNumPredict  = 1000
	genericTimeout     = 60 * time.Second
)

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	System  string          `json:"system,omitempty"`
	Options generateOptions `json:"options"`
}

type generateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

// Generic posts to an Ollama-style /api/generate endpoint, typically a
// model running on the local network.
type Generic struct {
	BaseURL string
	Model   string
	Client  *http.Client
}

func NewGeneric(baseURL, model string, timeout time.Duration) *Generic {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if timeout <= 0 {
		timeout = genericTimeout
	}
	return &Generic{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Model:   model,
		Client:  &http.Client{Timeout: timeout},
	}
}

func (g *Generic) Name() string { return "generic" }

func (g *Generic) Generate(ctx context.Context, req Request) (string, error) {
	opts := generateOptions{Temperature: genericTemperature, NumPredict: genericNumPredict}
	if req.Temperature != nil {
		opts.Temperature = *req.Temperature
	}
	if req.MaxTokens > 0 {
		opts.NumPredict = req.MaxTokens
	}
	payload, err := json.Marshal(generateRequest{
		Model:   g.Model,
		Prompt:  req.Prompt,
		System:  req.System,
		Options: opts,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.Client.Do(httpReq)
	if err != nil {
		return "", transportError(g.Name(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", transportError(g.Name(), err)
	}
	if resp.StatusCode >= 300 {
		return "", statusError(g.Name(), resp.StatusCode, fmt.Errorf("%s", strings.TrimSpace(string(body))))
	}

	var parsed generateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", &Error{Category: CategoryOther, Provider: g.Name(), Err: fmt.Errorf("decode response: %w", err)}
	}
	if parsed.Error != "" {
		return "", &Error{Category: CategoryOther, Provider: g.Name(), Err: fmt.Errorf("%s", parsed.Error)}
	}
	if strings.TrimSpace(parsed.Response) == "" {
		return "", &Error{Category: CategoryOther, Provider: g.Name(), Err: ErrEmpty}
	}
	return parsed.Response, nil
}
