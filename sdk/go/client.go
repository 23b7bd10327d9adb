package casedatasdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal casedata HTTP API client bound to one municipality and namespace.
type Client struct {
	BaseURL        string
	MunicipalityID string
	Namespace      string
	APIKey         string
	BearerToken    string
	// UserID travels as X-User-Id next to an API key.
	UserID     string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults. baseURL includes the API base path, e.g. http://host/api.
func New(baseURL, municipalityID, namespace string) *Client {
	return &Client{
		BaseURL:        baseURL,
		MunicipalityID: municipalityID,
		Namespace:      namespace,
		Timeout:        10 * time.Second,
	}
}

// Errand represents the API errand model (partial).
type Errand struct {
	ID              int64            `json:"id"`
	ErrandNumber    string           `json:"errand_number"`
	Version         int              `json:"version"`
	CaseType        string           `json:"case_type"`
	Priority        string           `json:"priority,omitempty"`
	Description     string           `json:"description,omitempty"`
	Phase           string           `json:"phase,omitempty"`
	ProcessID       *string          `json:"process_id,omitempty"`
	UpdatedByClient string           `json:"updated_by_client,omitempty"`
	Stakeholders    []Stakeholder    `json:"stakeholders,omitempty"`
	Notes           []Note           `json:"notes,omitempty"`
	ExtraParameters []ExtraParameter `json:"extra_parameters,omitempty"`
}

type Stakeholder struct {
	ID               int64    `json:"id,omitempty"`
	Type             string   `json:"type"`
	FirstName        string   `json:"first_name,omitempty"`
	LastName         string   `json:"last_name,omitempty"`
	OrganizationName string   `json:"organization_name,omitempty"`
	Roles            []string `json:"roles,omitempty"`
}

type Note struct {
	ID       int64  `json:"id,omitempty"`
	Title    string `json:"title"`
	Text     string `json:"text"`
	NoteType string `json:"note_type,omitempty"`
}

type ExtraParameter struct {
	Key         string   `json:"key"`
	DisplayName string   `json:"display_name,omitempty"`
	Values      []string `json:"values,omitempty"`
}

// Event represents a history entry.
type Event struct {
	ID       int64  `json:"id"`
	TS       string `json:"ts"`
	Type     string `json:"type"`
	ErrandID int64  `json:"errand_id"`
	ClientID string `json:"client_id"`
	Version  int    `json:"version"`
}

// Page wraps search results.
type Page struct {
	Items         []Errand `json:"items"`
	Page          int      `json:"page"`
	Size          int      `json:"size"`
	TotalElements int      `json:"total_elements"`
	TotalPages    int      `json:"total_pages"`
}

// NewErrand is the create payload.
type NewErrand struct {
	CaseType        string           `json:"case_type"`
	Priority        string           `json:"priority,omitempty"`
	Description     string           `json:"description,omitempty"`
	Channel         string           `json:"channel,omitempty"`
	Stakeholders    []Stakeholder    `json:"stakeholders,omitempty"`
	ExtraParameters []ExtraParameter `json:"extra_parameters,omitempty"`
}

// SearchOptions narrows SearchErrands. Params must match parameter values exactly.
type SearchOptions struct {
	Filter string
	Params map[string]string
	Sort   []string
	Page   int
	Size   int
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// CreateErrand creates an errand; the server starts its process before answering.
func (c *Client) CreateErrand(ctx context.Context, draft NewErrand) (Errand, error) {
	var resp Errand
	err := c.do(ctx, http.MethodPost, c.errandsPath(), draft, &resp)
	return resp, err
}

func (c *Client) GetErrand(ctx context.Context, id int64) (Errand, error) {
	var resp Errand
	err := c.do(ctx, http.MethodGet, c.errandPath(id, ""), nil, &resp)
	return resp, err
}

// UpdateErrand patches the given top-level fields, e.g. {"phase": "Beslut"}.
func (c *Client) UpdateErrand(ctx context.Context, id int64, fields map[string]string) (Errand, error) {
	var resp Errand
	err := c.do(ctx, http.MethodPatch, c.errandPath(id, ""), fields, &resp)
	return resp, err
}

func (c *Client) DeleteErrand(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, c.errandPath(id, ""), nil, nil)
}

// SearchErrands runs a filtered search. A search without matches returns a 404 APIError.
func (c *Client) SearchErrands(ctx context.Context, opts SearchOptions) (Page, error) {
	q := url.Values{}
	if opts.Filter != "" {
		q.Set("filter", opts.Filter)
	}
	for k, v := range opts.Params {
		q.Set("param."+k, v)
	}
	for _, s := range opts.Sort {
		q.Add("sort", s)
	}
	if opts.Page > 0 {
		q.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.Size > 0 {
		q.Set("size", strconv.Itoa(opts.Size))
	}
	endpoint := c.errandsPath()
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp Page
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) AddStakeholder(ctx context.Context, errandID int64, s Stakeholder) (Stakeholder, error) {
	var resp Stakeholder
	err := c.do(ctx, http.MethodPost, c.errandPath(errandID, "stakeholders"), s, &resp)
	return resp, err
}

func (c *Client) AddNote(ctx context.Context, errandID int64, n Note) (Note, error) {
	var resp Note
	err := c.do(ctx, http.MethodPost, c.errandPath(errandID, "notes"), n, &resp)
	return resp, err
}

// ReplaceParameters swaps the whole parameter set of an errand.
func (c *Client) ReplaceParameters(ctx context.Context, errandID int64, params []ExtraParameter) ([]ExtraParameter, error) {
	var resp []ExtraParameter
	err := c.do(ctx, http.MethodPut, c.errandPath(errandID, "parameters"), params, &resp)
	return resp, err
}

func (c *Client) UpdateParameter(ctx context.Context, errandID int64, key string, values []string) (ExtraParameter, error) {
	var resp ExtraParameter
	body := map[string]any{"values": values}
	err := c.do(ctx, http.MethodPatch, c.errandPath(errandID, "parameters/"+url.PathEscape(key)), body, &resp)
	return resp, err
}

func (c *Client) ParameterValues(ctx context.Context, errandID int64, key string) ([]string, error) {
	var resp []string
	err := c.do(ctx, http.MethodGet, c.errandPath(errandID, "parameters/"+url.PathEscape(key)), nil, &resp)
	return resp, err
}

func (c *Client) History(ctx context.Context, errandID int64) ([]Event, error) {
	var resp []Event
	err := c.do(ctx, http.MethodGet, c.errandPath(errandID, "history"), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
		if c.UserID != "" {
			req.Header.Set("X-User-Id", c.UserID)
		}
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) errandsPath() string {
	return fmt.Sprintf("%s/%s/errands", url.PathEscape(c.MunicipalityID), url.PathEscape(c.Namespace))
}

func (c *Client) errandPath(id int64, sub string) string {
	p := c.errandsPath() + "/" + strconv.FormatInt(id, 10)
	if sub != "" {
		p += "/" + strings.TrimLeft(sub, "/")
	}
	return p
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
