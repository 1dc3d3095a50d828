package readability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"

	"deepresearch/tools/web_fetch/models"
)

// Fetch extracts readable text from a page with a plain HTTP GET, for
// deployments without a headless browser.
type Fetch struct {
	Timeout     time.Duration
	MaxChars    int
	UserAgent   string
	RateLimited error // returned on HTTP 429

	// Client overrides the HTTP client in tests.
	Client *http.Client
}

func (f Fetch) Exec(ctx context.Context, rawURL string) (models.Result, error) {
	if strings.TrimSpace(rawURL) == "" {
		return models.Result{}, errors.New("invalid url")
	}

	ctx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()
	t0 := time.Now()

	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return models.Result{}, err
	}
	ua := f.UserAgent
	if ua == "" {
		ua = "DeepResearchAgent/1.0 (+contact@example.com)"
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return models.Result{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		return models.Result{}, fmt.Errorf("fetch %s status 429: %w", rawURL, f.RateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return models.Result{}, fmt.Errorf("fetch %s status %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return models.Result{}, err
	}

	article, err := readability.FromReader(strings.NewReader(string(body)), parsedURL(rawURL))
	if err != nil {
		return models.Result{}, err
	}
	text := article.TextContent
	if len(text) > f.MaxChars && f.MaxChars > 0 {
		text = text[:f.MaxChars]
	}

	return models.Result{
		URL:      rawURL,
		Title:    strings.TrimSpace(article.Title),
		Byline:   strings.TrimSpace(article.Byline),
		Text:     strings.TrimSpace(text),
		Status:   resp.StatusCode,
		RenderMS: int(time.Since(t0) / time.Millisecond),
	}, nil
}

func parsedURL(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		return &url.URL{}
	}
	return u
}
