package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mepuka/recursive-llm-sub001/pkg/rlmerr"
)

// HTTPClient is a reference Client backed by a JSON-over-HTTP endpoint: POST
// {BaseURL}/v1/generate with a wireRequest body, expecting a wireResponse
// body back. Any production deployment is expected to swap this for a
// provider-native SDK client behind the same Client interface.
type HTTPClient struct {
	BaseURL    string
	HTTPClient *http.Client
	APIKey     string
}

// NewHTTPClient constructs an HTTPClient with a sane default timeout,
// mirroring tarsy/pkg/mcp/transport.go's "always set a request timeout"
// discipline for outbound calls.
func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	return &HTTPClient{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Temperature *float32      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"maxTokens,omitempty"`
}

type wireUsage struct {
	InputTokens       *int `json:"inputTokens,omitempty"`
	OutputTokens      *int `json:"outputTokens,omitempty"`
	TotalTokens       *int `json:"totalTokens,omitempty"`
	ReasoningTokens   *int `json:"reasoningTokens,omitempty"`
	CachedInputTokens *int `json:"cachedInputTokens,omitempty"`
}

type wireResponse struct {
	Text  string    `json:"text"`
	Usage wireUsage `json:"usage"`
}

type wireError struct {
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// Generate implements Client.
func (c *HTTPClient) Generate(ctx context.Context, req Request) (Response, error) {
	wreq := wireRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	for _, m := range req.Messages {
		wreq.Messages = append(wreq.Messages, wireMessage{Role: string(m.Role), Content: m.Content})
	}

	body, err := json.Marshal(wreq)
	if err != nil {
		return Response{}, &rlmerr.ModelCallError{Operation: "generate", Message: err.Error(), Retryable: false, Cause: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/generate", bytes.NewReader(body))
	if err != nil {
		return Response{}, &rlmerr.ModelCallError{Operation: "generate", Message: err.Error(), Retryable: false, Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return Response{}, &rlmerr.ModelCallError{
			Provider: "http", Model: req.Model, Operation: "generate",
			Message: err.Error(), Retryable: true, Cause: err,
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, &rlmerr.ModelCallError{
			Provider: "http", Model: req.Model, Operation: "generate",
			Message: err.Error(), Retryable: true, Cause: err,
		}
	}

	if resp.StatusCode != http.StatusOK {
		var werr wireError
		_ = json.Unmarshal(respBody, &werr)
		if werr.Message == "" {
			werr.Message = fmt.Sprintf("http %d", resp.StatusCode)
		}
		retryable := werr.Retryable || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return Response{}, &rlmerr.ModelCallError{
			Provider: "http", Model: req.Model, Operation: "generate",
			Message: werr.Message, Retryable: retryable,
		}
	}

	var wresp wireResponse
	if err := json.Unmarshal(respBody, &wresp); err != nil {
		return Response{}, &rlmerr.ModelCallError{
			Provider: "http", Model: req.Model, Operation: "generate",
			Message: "malformed response body: " + err.Error(), Retryable: false, Cause: err,
		}
	}

	return Response{
		Text: wresp.Text,
		Usage: Usage{
			InputTokens:       wresp.Usage.InputTokens,
			OutputTokens:      wresp.Usage.OutputTokens,
			TotalTokens:       wresp.Usage.TotalTokens,
			ReasoningTokens:   wresp.Usage.ReasoningTokens,
			CachedInputTokens: wresp.Usage.CachedInputTokens,
		},
	}, nil
}
