package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// SearxNG queries a SearxNG instance's /search endpoint with format=json
// and returns result URLs in the order the engine ranked them. Transport
// and non-2xx failures are logged and surface as an empty list.
type SearxNG struct {
	BaseURL    string
	HTTPClient *http.Client
	UserAgent  string // optional custom UA
}

func (s *SearxNG) Search(ctx context.Context, query string) ([]string, error) {
	if s.BaseURL == "" {
		return nil, fmt.Errorf("missing searxng base url")
	}
	u, err := url.Parse(s.BaseURL)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(u.Path, "/search") {
		u.Path = strings.TrimRight(u.Path, "/") + "/search"
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("format", "json")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if s.UserAgent != "" {
		req.Header.Set("User-Agent", s.UserAgent)
	}
	hc := s.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := hc.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("query", query).Msg("search request failed")
		return nil, nil
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Warn().Int("status", resp.StatusCode).Str("query", query).Msg("search returned non-2xx status")
		return nil, nil
	}
	var sr searxResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		log.Warn().Err(err).Str("query", query).Msg("search response decode failed")
		return nil, nil
	}
	out := make([]string, 0, len(sr.Results))
	for _, r := range sr.Results {
		if link := strings.TrimSpace(r.URL); link != "" {
			out = append(out, link)
		}
	}
	log.Debug().Str("query", query).Int("results", len(out)).Msg("search completed")
	return out, nil
}

type searxResponse struct {
	Results []struct {
		URL string `json:"url"`
	} `json:"results"`
}
