// Package analyzer turns a tabular snapshot into narrative insights by
// calling a chat-completion HTTP endpoint.
package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"reporthub/internal/tabular"
	logx "reporthub/pkg/logx"
)

// Config controls the completion-endpoint client.
type Config struct {
	// BaseURL is the API root, e.g. https://api.openai.com.
	BaseURL string
	APIKey  string
	Model   string

	Timeout    time.Duration
	MaxTokens  int
	SampleRows int
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.openai.com"
	}
	if c.Model == "" {
		c.Model = "gpt-4o-mini"
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 1024
	}
	if c.SampleRows <= 0 {
		c.SampleRows = 5
	}
	return c
}

// Client is safe for concurrent use.
type Client struct {
	cfg  Config
	http *http.Client
	log  logx.Logger
}

func New(cfg Config, log logx.Logger) *Client {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}, log: log}
}

// promptLanguage maps job language codes to the name used in the prompt.
var promptLanguage = map[string]string{
	"en": "English",
	"es": "Spanish",
	"fr": "French",
	"de": "German",
	"pt": "Portuguese",
	"hi": "Hindi",
	"zh": "Chinese",
	"ja": "Japanese",
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Analyze produces insight text for the frame in the requested language.
func (c *Client) Analyze(ctx context.Context, frame tabular.Frame, language string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: "You are a data analyst. Produce concise, actionable insights for a business report. Use short paragraphs and bullet points."},
			{Role: "user", Content: c.prompt(frame, language)},
		},
		MaxTokens: c.cfg.MaxTokens,
	})
	if err != nil {
		return "", err
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion request: %w", err)
	}
	defer resp.Body.Close()

	var cr chatResponse
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read completion response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if json.Unmarshal(raw, &cr) == nil && cr.Error != nil && cr.Error.Message != "" {
			return "", fmt.Errorf("completion api: http %d: %s", resp.StatusCode, cr.Error.Message)
		}
		return "", fmt.Errorf("completion api: http %d", resp.StatusCode)
	}
	if err := json.Unmarshal(raw, &cr); err != nil {
		return "", fmt.Errorf("decode completion response: %w", err)
	}
	if len(cr.Choices) == 0 || strings.TrimSpace(cr.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("completion api returned no content")
	}

	c.log.Debug("analysis completed",
		logx.Int("rows", len(frame.Rows)),
		logx.Duration("took", time.Since(start)))
	return strings.TrimSpace(cr.Choices[0].Message.Content), nil
}

// prompt renders the dataset profile the model analyzes: shape, numeric
// ranges, and a few sample rows.
func (c *Client) prompt(frame tabular.Frame, language string) string {
	var b strings.Builder
	st := frame.Stats()
	fmt.Fprintf(&b, "Analyze this dataset and summarize the most important findings.\n\n")
	fmt.Fprintf(&b, "Dataset: %d rows, %d columns (%d numeric), %d missing values.\n",
		st.Rows, st.Columns, st.NumericColumns, st.MissingValues)
	fmt.Fprintf(&b, "Columns: %s\n", strings.Join(frame.Columns, ", "))

	if sums := frame.Summaries(); len(sums) > 0 {
		b.WriteString("\nNumeric ranges:\n")
		for _, s := range sums {
			fmt.Fprintf(&b, "- %s: min %.4g, max %.4g, mean %.4g (%d values)\n", s.Column, s.Min, s.Max, s.Mean, s.Count)
		}
	}

	if head := frame.Head(c.cfg.SampleRows); len(head) > 0 {
		b.WriteString("\nSample rows:\n")
		for _, row := range head {
			fmt.Fprintf(&b, "- %s\n", strings.Join(row, " | "))
		}
	}

	lang, ok := promptLanguage[language]
	if !ok {
		lang = "English"
	}
	fmt.Fprintf(&b, "\nRespond in %s.", lang)
	return b.String()
}
