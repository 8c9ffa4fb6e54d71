package analyzer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"reporthub/internal/tabular"
	logx "reporthub/pkg/logx"
)

func testFrame() tabular.Frame {
	return tabular.New([][]string{
		{"Region", "Revenue"},
		{"north", "1200"},
		{"south", "800"},
		{"west", "950"},
	}, time.Now())
}

func TestAnalyzeSendsProfileAndReturnsContent(t *testing.T) {
	t.Parallel()
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key-123" {
			t.Errorf("Authorization = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "  Revenue is concentrated in the north.  "}},
			},
		})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "key-123", Model: "test-model"}, logx.Nop())
	got, err := c.Analyze(context.Background(), testFrame(), "es")
	if err != nil {
		t.Fatal(err)
	}
	if got != "Revenue is concentrated in the north." {
		t.Fatalf("insights = %q", got)
	}

	if gotReq.Model != "test-model" {
		t.Fatalf("model = %q", gotReq.Model)
	}
	if len(gotReq.Messages) != 2 {
		t.Fatalf("messages = %d", len(gotReq.Messages))
	}
	prompt := gotReq.Messages[1].Content
	for _, want := range []string{"3 rows", "2 columns", "Region, Revenue", "Respond in Spanish."} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestAnalyzeUnknownLanguageFallsBackToEnglish(t *testing.T) {
	t.Parallel()
	c := New(Config{}, logx.Nop())
	prompt := c.prompt(testFrame(), "xx")
	if !strings.Contains(prompt, "Respond in English.") {
		t.Fatalf("prompt:\n%s", prompt)
	}
}

func TestAnalyzeAPIError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"model overloaded"}}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, logx.Nop())
	_, err := c.Analyze(context.Background(), testFrame(), "en")
	if err == nil || !strings.Contains(err.Error(), "model overloaded") {
		t.Fatalf("err = %v", err)
	}
}

func TestAnalyzeEmptyContent(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"   "}}]}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, logx.Nop())
	if _, err := c.Analyze(context.Background(), testFrame(), "en"); err == nil {
		t.Fatal("want error for empty content")
	}
}
