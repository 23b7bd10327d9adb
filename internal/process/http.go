package process

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// HTTPClient calls an engine exposing
// POST {base}/{municipalityId}/process/start/{errandId} and
// POST {base}/{municipalityId}/process/update/{processId}.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type startResponse struct {
	ProcessID string `json:"processId"`
}

func (c *HTTPClient) StartProcess(ctx context.Context, municipalityID string, errandID int64) (string, error) {
	endpoint := fmt.Sprintf("%s/%s/process/start/%s", c.baseURL, url.PathEscape(municipalityID), strconv.FormatInt(errandID, 10))
	body, err := c.post(ctx, endpoint)
	if err != nil {
		return "", err
	}
	var res startResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return "", fmt.Errorf("decode start response: %w", err)
	}
	return res.ProcessID, nil
}

func (c *HTTPClient) UpdateProcess(ctx context.Context, municipalityID, processID string) error {
	endpoint := fmt.Sprintf("%s/%s/process/update/%s", c.baseURL, url.PathEscape(municipalityID), url.PathEscape(processID))
	_, err := c.post(ctx, endpoint)
	return err
}

func (c *HTTPClient) post(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if strings.TrimSpace(c.apiKey) != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
	res, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		snippet := body
		if len(snippet) > 4096 {
			snippet = snippet[:4096]
		}
		return nil, fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return body, nil
}
