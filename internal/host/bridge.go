// internal/host/bridge.go - HTTP adapter for the browser-side shim
package host

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// BridgeClient talks to the companion browser shim that exposes the real
// history and browsing-data capabilities over HTTP. It implements History
// and SiteData.
type BridgeClient struct {
	baseURL string
	client  *http.Client
}

func NewBridgeClient(baseURL string, timeout time.Duration) *BridgeClient {
	return &BridgeClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type searchRequest struct {
	Text       string `json:"text"`
	StartTime  int64  `json:"start_time"`
	MaxResults int    `json:"max_results"`
}

type searchResponse struct {
	Items []HistoryItem `json:"items"`
}

func (b *BridgeClient) Search(ctx context.Context, text string, since time.Time, maxResults int) ([]HistoryItem, error) {
	var start int64
	if !since.IsZero() {
		start = since.UnixMilli()
	}

	var resp searchResponse
	err := b.post(ctx, "/history/search", searchRequest{
		Text:       text,
		StartTime:  start,
		MaxResults: maxResults,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (b *BridgeClient) DeleteURL(ctx context.Context, url string) error {
	return b.post(ctx, "/history/delete", map[string]string{"url": url}, nil)
}

type removeRequest struct {
	Hostnames []string `json:"hostnames,omitempty"`
	DataTypes DataSet  `json:"data_types"`
}

func (b *BridgeClient) Remove(ctx context.Context, hostnames []string, set DataSet) error {
	return b.post(ctx, "/browsing-data/remove", removeRequest{
		Hostnames: hostnames,
		DataTypes: set,
	}, nil)
}

func (b *BridgeClient) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal bridge request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build bridge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("bridge request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bridge returned %s for %s", resp.Status, path)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode bridge response: %w", err)
		}
	}
	return nil
}
