package docling

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"policyrag/internal/text"
)

// Client calls the document extraction sidecar, which turns raw document
// bytes (PDF included) into per-page text.
type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *Client) Extract(ctx context.Context, data []byte) ([]text.Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/extract", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("extractor api error: %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var result struct {
		Pages []struct {
			PageNumber int    `json:"page_number"`
			Content    string `json:"content"`
		} `json:"pages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode extractor response: %w", err)
	}

	pages := make([]text.Page, 0, len(result.Pages))
	for i, p := range result.Pages {
		n := p.PageNumber
		if n <= 0 {
			n = i + 1
		}
		pages = append(pages, text.Page{Number: n, Content: p.Content})
	}
	sort.SliceStable(pages, func(i, j int) bool { return pages[i].Number < pages[j].Number })
	return pages, nil
}
