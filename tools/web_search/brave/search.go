package brave

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"deepresearch/tools/web_search/models"
	"deepresearch/utils"
)

type Search struct {
	ApiKey      string
	RateLimited error // returned on HTTP 429
}

func (s Search) Discover(ctx context.Context, q string, k int, offset int, safesearch string) ([]models.Result, error) {
	// https://api.search.brave.com/app/documentation/web-search
	if safesearch == "" {
		safesearch = "moderate"
	}
	url := fmt.Sprintf("https://api.search.brave.com/res/v1/web/search?q=%s&count=%d&offset=%d&safesearch=%s",
		utils.UrlQuery(q), k, offset, safesearch)
	req, _ := http.NewRequestWithContext(ctx, "GET", url, nil)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", s.ApiKey)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("brave status 429: %w", s.RateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("brave status %d", resp.StatusCode)
	}
	var raw struct {
		Web struct {
			Results []struct {
				Title   string `json:"title"`
				URL     string `json:"url"`
				Snippet string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}
	var out []models.Result
	for i, r := range raw.Web.Results {
		if i >= k {
			break
		}
		out = append(out, models.Result{Title: r.Title, URL: r.URL, Snippet: r.Snippet})
	}
	return out, nil
}
