package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiClient calls the Gemini generateContent API.
type GeminiClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *log.Logger
}

// NewGeminiClient configures a Gemini content generation client. Pass an
// empty baseURL to use the public endpoint.
func NewGeminiClient(apiKey, baseURL string, timeout time.Duration, logger *log.Logger) *GeminiClient {
	trimmed := strings.TrimRight(baseURL, "/")
	if trimmed == "" {
		trimmed = defaultGeminiBaseURL
	}
	if logger == nil {
		logger = log.Default()
	}
	return &GeminiClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    trimmed,
		apiKey:     apiKey,
		logger:     logger,
	}
}

type geminiRequest struct {
	SystemInstruction *geminiContentPayload `json:"systemInstruction,omitempty"`
	Contents          []Content             `json:"contents"`
	Tools             []geminiToolPayload   `json:"tools,omitempty"`
}

type geminiContentPayload struct {
	Parts []Part `json:"parts"`
}

type geminiToolPayload struct {
	FunctionDeclarations []ToolDeclaration `json:"functionDeclarations"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      Content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"error"`
}

// Generate satisfies the Client interface.
func (c *GeminiClient) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error) {
	payload := geminiRequest{Contents: req.Contents}
	if req.SystemInstruction != "" {
		payload.SystemInstruction = &geminiContentPayload{Parts: []Part{{Text: req.SystemInstruction}}}
	}
	if len(req.Tools) > 0 {
		payload.Tools = []geminiToolPayload{{FunctionDeclarations: req.Tools}}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return GenerateResponse{}, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, req.Model, c.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return GenerateResponse{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	c.logger.Printf("[gemini] sending %d contents to model %s", len(req.Contents), req.Model)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return GenerateResponse{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return GenerateResponse{}, fmt.Errorf("read response: %w", err)
	}

	c.logger.Printf("[gemini] response status: %d, size: %d bytes", resp.StatusCode, len(respBody))

	var parsed geminiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		if resp.StatusCode >= 300 {
			return GenerateResponse{}, classify(resp.StatusCode, "", strings.TrimSpace(string(respBody)))
		}
		return GenerateResponse{}, fmt.Errorf("parse response: %w", err)
	}
	if parsed.Error != nil {
		return GenerateResponse{}, classify(resp.StatusCode, parsed.Error.Status, parsed.Error.Message)
	}
	if resp.StatusCode >= 300 {
		return GenerateResponse{}, classify(resp.StatusCode, "", strings.TrimSpace(string(respBody)))
	}
	if len(parsed.Candidates) == 0 {
		return GenerateResponse{}, NewProviderError("gemini", ErrorTypeUnknown, "", "no candidates returned")
	}

	content := parsed.Candidates[0].Content
	if content.Role == "" {
		content.Role = RoleModel
	}
	text, calls := Split(content)
	return GenerateResponse{Content: content, Text: text, FunctionCalls: calls}, nil
}

func classify(status int, code, message string) *ProviderError {
	if code == "" {
		code = fmt.Sprintf("%d", status)
	}
	if referrerRestricted(message) {
		return NewProviderError("gemini", ErrorTypeKeyRestricted, code, RestrictedKeyGuidance)
	}
	switch {
	case status == http.StatusTooManyRequests:
		return NewProviderError("gemini", ErrorTypeRateLimit, code, message)
	case status == http.StatusBadRequest || status == http.StatusUnauthorized:
		return NewProviderError("gemini", ErrorTypeAuth, code, message)
	case status == http.StatusForbidden:
		return NewProviderError("gemini", ErrorTypeAuth, code, message)
	case status >= 500:
		return NewProviderError("gemini", ErrorTypeProviderDown, code, message)
	default:
		return NewProviderError("gemini", ErrorTypeUnknown, code, message)
	}
}
