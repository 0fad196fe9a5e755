package litapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/renalworks/nefro/pkg/config"
	"github.com/renalworks/nefro/pkg/httpclient"
)

// Paper is one literature record returned by a search.
type Paper struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Journal string `json:"journal,omitempty"`
	Year    string `json:"year,omitempty"`
	URL     string `json:"url,omitempty"`
}

// Client searches PubMed through the NCBI E-utilities endpoints.
type Client struct {
	http    *httpclient.Client
	baseURL string
	apiKey  string
	email   string
}

func NewClientFromConfig(cfg *config.LiteratureConfig) *Client {
	timeout := 20 * time.Second
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}

	return &Client{
		http: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: timeout}),
		),
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		email:   cfg.Email,
	}
}

type esearchResponse struct {
	ESearchResult struct {
		Count  string   `json:"count"`
		IDList []string `json:"idlist"`
	} `json:"esearchresult"`
}

type esummaryResponse struct {
	Result map[string]json.RawMessage `json:"result"`
}

type esummaryDoc struct {
	UID     string `json:"uid"`
	Title   string `json:"title"`
	Source  string `json:"source"`
	PubDate string `json:"pubdate"`
}

// Search runs an esearch for the query and hydrates the returned IDs with
// esummary metadata. Summary batches run concurrently.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]Paper, error) {
	if limit <= 0 {
		return []Paper{}, nil
	}

	ids, err := c.search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []Paper{}, nil
	}

	// esummary accepts up to 200 IDs per call; batch for safety.
	const batchSize = 50
	batches := make([][]string, 0, (len(ids)+batchSize-1)/batchSize)
	for i := 0; i < len(ids); i += batchSize {
		end := i + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		batches = append(batches, ids[i:end])
	}

	results := make([]map[string]Paper, len(batches))
	g, gctx := errgroup.WithContext(ctx)
	for i, batch := range batches {
		g.Go(func() error {
			papers, err := c.summaries(gctx, batch)
			if err != nil {
				return err
			}
			results[i] = papers
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]Paper)
	for _, m := range results {
		for id, p := range m {
			merged[id] = p
		}
	}

	// Preserve esearch relevance ordering.
	papers := make([]Paper, 0, len(ids))
	for _, id := range ids {
		if p, ok := merged[id]; ok {
			papers = append(papers, p)
		}
	}
	return papers, nil
}

func (c *Client) search(ctx context.Context, query string, limit int) ([]string, error) {
	params := url.Values{
		"db":      {"pubmed"},
		"term":    {query},
		"retmax":  {fmt.Sprintf("%d", limit)},
		"retmode": {"json"},
		"sort":    {"relevance"},
	}

	var parsed esearchResponse
	if err := c.get(ctx, "/esearch.fcgi", params, &parsed); err != nil {
		return nil, fmt.Errorf("esearch failed: %w", err)
	}
	return parsed.ESearchResult.IDList, nil
}

func (c *Client) summaries(ctx context.Context, ids []string) (map[string]Paper, error) {
	params := url.Values{
		"db":      {"pubmed"},
		"id":      {strings.Join(ids, ",")},
		"retmode": {"json"},
	}

	var parsed esummaryResponse
	if err := c.get(ctx, "/esummary.fcgi", params, &parsed); err != nil {
		return nil, fmt.Errorf("esummary failed: %w", err)
	}

	papers := make(map[string]Paper, len(ids))
	for uid, raw := range parsed.Result {
		if uid == "uids" {
			continue
		}
		var doc esummaryDoc
		if err := json.Unmarshal(raw, &doc); err != nil {
			continue
		}
		papers[uid] = Paper{
			ID:      uid,
			Title:   doc.Title,
			Journal: doc.Source,
			Year:    pubYear(doc.PubDate),
			URL:     "https://pubmed.ncbi.nlm.nih.gov/" + uid + "/",
		}
	}
	return papers, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	if c.apiKey != "" {
		params.Set("api_key", c.apiKey)
	}
	if c.email != "" {
		params.Set("email", c.email)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Do hands back the last non-2xx response alongside the error.
		if resp != nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// pubYear extracts the leading year from a pubdate such as "2024 Mar 15".
func pubYear(pubdate string) string {
	fields := strings.Fields(pubdate)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
