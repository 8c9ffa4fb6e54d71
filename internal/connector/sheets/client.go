package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"reporthub/internal/jobstore"
	"reporthub/internal/pipeline"
	"reporthub/internal/tabular"
	logx "reporthub/pkg/logx"
)

// Config controls the values-API client.
type Config struct {
	// BaseURL is the API root, e.g. https://sheets.googleapis.com.
	BaseURL string
	// Token is the bearer token sent with every request.
	Token string
	// DefaultRange is used when a job names no worksheet.
	DefaultRange string

	RatePerSec    float64
	Timeout       time.Duration
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = "https://sheets.googleapis.com"
	}
	if c.DefaultRange == "" {
		c.DefaultRange = "A1:ZZ10000"
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 1
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 30 * time.Second
	}
	return c
}

// Client reads spreadsheet values over HTTP. Safe for concurrent use.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	log     logx.Logger
	now     func() time.Time
}

func New(cfg Config, log logx.Logger) *Client {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	burst := int(cfg.RatePerSec)
	if burst < 1 {
		burst = 1
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst),
		log:     log,
		now:     time.Now,
	}
}

var (
	reSheetPath  = regexp.MustCompile(`/spreadsheets/d/([a-zA-Z0-9_-]+)`)
	reSheetQuery = regexp.MustCompile(`[?&#]id=([a-zA-Z0-9_-]+)`)
	reSheetBare  = regexp.MustCompile(`^[a-zA-Z0-9_-]{20,}$`)
)

// ExtractSheetID accepts a full edit URL, a share link with an id query
// parameter, or a bare spreadsheet id.
func ExtractSheetID(s string) (string, error) {
	s = strings.TrimSpace(s)
	if m := reSheetPath.FindStringSubmatch(s); m != nil {
		return m[1], nil
	}
	if m := reSheetQuery.FindStringSubmatch(s); m != nil {
		return m[1], nil
	}
	if reSheetBare.MatchString(s) {
		return s, nil
	}
	return "", fmt.Errorf("unrecognized sheet locator %q", s)
}

type valuesResponse struct {
	Values [][]any `json:"values"`
}

// Fetch retrieves the current sheet contents as a cleaned frame.
func (c *Client) Fetch(ctx context.Context, src jobstore.SourceRef) (tabular.Frame, error) {
	id, err := ExtractSheetID(src.SheetURL)
	if err != nil {
		return tabular.Frame{}, err
	}
	rng := src.Worksheet
	if rng == "" {
		rng = c.cfg.DefaultRange
	}
	endpoint := fmt.Sprintf("%s/v4/spreadsheets/%s/values/%s",
		strings.TrimRight(c.cfg.BaseURL, "/"), id, url.PathEscape(rng))

	maxAttempts := 1 + c.cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return tabular.Frame{}, err
		}
		values, retryable, err := c.fetchOnce(ctx, endpoint)
		if err == nil {
			return tabular.New(values, c.now()), nil
		}
		lastErr = err
		if !retryable || attempt >= maxAttempts {
			break
		}
		delay := retryDelay(c.cfg, attempt)
		c.log.Debug("sheet fetch retrying",
			logx.String("sheet", id),
			logx.Int("attempt", attempt),
			logx.Duration("delay", delay),
			logx.Err(err))
		select {
		case <-ctx.Done():
			return tabular.Frame{}, ctx.Err()
		case <-time.After(delay):
		}
	}
	return tabular.Frame{}, lastErr
}

func (c *Client) fetchOnce(ctx context.Context, endpoint string) (values [][]string, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, false, err
	}
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("%w: %v", pipeline.ErrConnectivity, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, false, fmt.Errorf("%w (http %d): share the sheet with the service account",
			pipeline.ErrPermission, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, true, fmt.Errorf("%w: http %d", pipeline.ErrConnectivity, resp.StatusCode)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, false, fmt.Errorf("sheet values api: http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var vr valuesResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, false, fmt.Errorf("decode values response: %w", err)
	}
	if len(vr.Values) == 0 {
		return nil, false, errors.New("sheet is empty")
	}
	return stringify(vr.Values), false, nil
}

// stringify flattens the API's mixed-type cells to strings; the frame layer
// owns numeric coercion.
func stringify(in [][]any) [][]string {
	out := make([][]string, len(in))
	for i, row := range in {
		out[i] = make([]string, len(row))
		for j, cell := range row {
			switch v := cell.(type) {
			case string:
				out[i][j] = v
			case float64:
				out[i][j] = strconv.FormatFloat(v, 'f', -1, 64)
			case bool:
				out[i][j] = strconv.FormatBool(v)
			case nil:
				out[i][j] = ""
			default:
				b, _ := json.Marshal(v)
				out[i][j] = string(b)
			}
		}
	}
	return out
}

func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	// Jitter 0.7..1.3 so synchronized jobs don't hammer in lockstep.
	j := 0.7 + rand.Float64()*0.6
	return time.Duration(float64(d) * j)
}
