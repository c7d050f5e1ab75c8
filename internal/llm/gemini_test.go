package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestGenerateParsesTextAndFunctionCalls(t *testing.T) {
	var gotPath string
	var gotBody geminiRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{
					"role": "model",
					"parts": []map[string]any{
						{"text": "Checking the file."},
						{"functionCall": map[string]any{"name": "read_file", "args": map[string]any{"path": "a.txt"}}},
					},
				},
			}},
		})
	}))
	defer ts.Close()

	client := NewGeminiClient("key", ts.URL, 5*time.Second, nil)
	resp, err := client.Generate(context.Background(), GenerateRequest{
		Model:             "gemini-3-flash-preview",
		SystemInstruction: "be brief",
		Tools:             []ToolDeclaration{{Name: "read_file"}},
		Contents:          []Content{{Role: RoleUser, Parts: []Part{{Text: "read a.txt"}}}},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Text != "Checking the file." {
		t.Fatalf("Text = %q", resp.Text)
	}
	if len(resp.FunctionCalls) != 1 || resp.FunctionCalls[0].Name != "read_file" {
		t.Fatalf("FunctionCalls = %+v", resp.FunctionCalls)
	}
	if resp.FunctionCalls[0].Args["path"] != "a.txt" {
		t.Fatalf("Args = %+v", resp.FunctionCalls[0].Args)
	}

	if !strings.Contains(gotPath, "models/gemini-3-flash-preview:generateContent") {
		t.Fatalf("request path = %q", gotPath)
	}
	if gotBody.SystemInstruction == nil || gotBody.SystemInstruction.Parts[0].Text != "be brief" {
		t.Fatal("system instruction not sent")
	}
	if len(gotBody.Tools) != 1 || len(gotBody.Tools[0].FunctionDeclarations) != 1 {
		t.Fatalf("tools payload = %+v", gotBody.Tools)
	}
}

func TestGenerateClassifiesReferrerRestrictedKey(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{
				"code":    403,
				"status":  "PERMISSION_DENIED",
				"message": "Requests from referer <empty> are blocked. API_KEY_HTTP_REFERRER_BLOCKED",
			},
		})
	}))
	defer ts.Close()

	client := NewGeminiClient("key", ts.URL, 5*time.Second, nil)
	_, err := client.Generate(context.Background(), GenerateRequest{Model: "m"})
	pe, ok := IsProviderError(err)
	if !ok {
		t.Fatalf("err = %v, want ProviderError", err)
	}
	if pe.Type != ErrorTypeKeyRestricted {
		t.Fatalf("Type = %s, want %s", pe.Type, ErrorTypeKeyRestricted)
	}
	if !strings.Contains(pe.Message, "referrer restrictions") {
		t.Fatalf("Message = %q, want actionable guidance", pe.Message)
	}
}

func TestGenerateClassifiesRateLimitAndServerErrors(t *testing.T) {
	cases := []struct {
		status int
		want   ErrorType
	}{
		{http.StatusTooManyRequests, ErrorTypeRateLimit},
		{http.StatusBadRequest, ErrorTypeAuth},
		{http.StatusServiceUnavailable, ErrorTypeProviderDown},
	}
	for _, tc := range cases {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tc.status)
			json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{"code": tc.status, "message": "nope"},
			})
		}))
		client := NewGeminiClient("key", ts.URL, 5*time.Second, nil)
		_, err := client.Generate(context.Background(), GenerateRequest{Model: "m"})
		ts.Close()
		pe, ok := IsProviderError(err)
		if !ok || pe.Type != tc.want {
			t.Errorf("status %d: err = %v, want type %s", tc.status, err, tc.want)
		}
	}
}
