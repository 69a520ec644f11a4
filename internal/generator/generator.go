package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Request carries the client-supplied inputs for one callout.
type Request struct {
	ImageB64 string // Screenshot, base64-encoded PNG.
	Game     string // Game label.
}

// Callout is the generated response for an admitted request.
type Callout struct {
	Text     string // Tactical callout text.
	AudioB64 string // Optional synthesized audio, base64-encoded.
}

// Generator produces a callout for an admitted request. Implementations are
// invoked only after quota admission succeeds; their failure never refunds
// the consumed quota.
type Generator interface {
	Generate(ctx context.Context, req Request) (Callout, error)
}

// Static returns a fixed callout. It backs tests and deployments without an
// upstream configured.
type Static struct {
	Text string
}

// Generate returns the configured text.
func (s Static) Generate(_ context.Context, _ Request) (Callout, error) {
	text := s.Text
	if text == "" {
		text = "Callout generator upstream not configured."
	}
	return Callout{Text: text}, nil
}

// systemPrompt frames the vision model as the in-game spotter.
const systemPrompt = "You are the Lootmore tactical AI. Give one short, specific callout for the screenshot."

// Client calls an OpenAI-compatible chat completions upstream with the
// screenshot attached as an image part.
type Client struct {
	baseURL string
	apiKey  string
	model   string

	httpClient *http.Client
}

// NewClient constructs a Client. Base URL and API key are required.
func NewClient(baseURL, apiKey, model string, timeout time.Duration) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("generator: empty base url")
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("generator: empty api key")
	}
	if strings.TrimSpace(model) == "" {
		model = "gpt-4.1"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// chatRequest is the upstream chat completions payload.
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

// chatResponse is the subset of the upstream response the client reads.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate posts the screenshot to the upstream and returns the callout text.
func (c *Client) Generate(ctx context.Context, req Request) (Callout, error) {
	if strings.TrimSpace(req.ImageB64) == "" {
		return Callout{}, errors.New("generator: empty image")
	}

	prompt := "Give a tactical callout."
	if strings.TrimSpace(req.Game) != "" {
		prompt = fmt.Sprintf("Give a tactical callout for %s.", req.Game)
	}

	payload := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: []contentPart{
				{Type: "image_url", ImageURL: &imageURL{URL: "data:image/png;base64," + req.ImageB64}},
				{Type: "text", Text: prompt},
			}},
		},
	}
	body, errMarshal := json.Marshal(payload)
	if errMarshal != nil {
		return Callout{}, fmt.Errorf("generator: marshal request: %w", errMarshal)
	}

	httpReq, errReq := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if errReq != nil {
		return Callout{}, fmt.Errorf("generator: build request: %w", errReq)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, errDo := c.httpClient.Do(httpReq)
	if errDo != nil {
		return Callout{}, fmt.Errorf("generator: upstream request: %w", errDo)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, errRead := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if errRead != nil {
		return Callout{}, fmt.Errorf("generator: read response: %w", errRead)
	}

	var parsed chatResponse
	if errUnmarshal := json.Unmarshal(respBody, &parsed); errUnmarshal != nil {
		return Callout{}, fmt.Errorf("generator: decode response (status %d): %w", resp.StatusCode, errUnmarshal)
	}
	if resp.StatusCode != http.StatusOK {
		if parsed.Error != nil && parsed.Error.Message != "" {
			return Callout{}, fmt.Errorf("generator: upstream status %d: %s", resp.StatusCode, parsed.Error.Message)
		}
		return Callout{}, fmt.Errorf("generator: upstream status %d", resp.StatusCode)
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return Callout{}, errors.New("generator: empty completion")
	}

	return Callout{Text: strings.TrimSpace(parsed.Choices[0].Message.Content)}, nil
}
