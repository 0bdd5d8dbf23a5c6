package assignxsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal AssignX HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults. baseURL includes the API base
// path, e.g. http://127.0.0.1:8080/v0.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Project represents the API project model (partial).
type Project struct {
	ID             string  `json:"id"`
	Number         string  `json:"number"`
	ClientID       string  `json:"client_id"`
	IntermediaryID string  `json:"intermediary_id"`
	WorkerID       *string `json:"worker_id"`
	ServiceType    string  `json:"service_type"`
	Subject        string  `json:"subject"`
	Status         string  `json:"status"`
	ClientQuote    int64   `json:"client_quote"`
	Version        int64   `json:"version"`
}

// NewProject is the submission payload.
type NewProject struct {
	ClientID       string `json:"client_id,omitempty"`
	IntermediaryID string `json:"intermediary_id,omitempty"`
	ServiceType    string `json:"service_type"`
	Subject        string `json:"subject"`
	Description    string `json:"description,omitempty"`
	WordCount      int    `json:"word_count"`
	Deadline       string `json:"deadline"`
	Urgency        string `json:"urgency,omitempty"`
}

// Quote is a price offered to the client, in paise.
type Quote struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Amount    int64  `json:"amount"`
	State     string `json:"state"`
}

// Payment is a gateway order.
type Payment struct {
	ID       string `json:"id"`
	QuoteID  string `json:"quote_id"`
	OrderRef string `json:"order_ref"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	State    string `json:"state"`
}

// SettlementPreview is the split committed at capture.
type SettlementPreview struct {
	ProjectID              string `json:"project_id"`
	QuoteID                string `json:"quote_id"`
	PaymentRef             string `json:"payment_ref"`
	ClientQuote            int64  `json:"client_quote"`
	WorkerPayout           int64  `json:"worker_payout"`
	IntermediaryCommission int64  `json:"intermediary_commission"`
	PlatformFee            int64  `json:"platform_fee"`
	AlreadyPaid            bool   `json:"already_paid"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
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

// IsCode reports whether err is an API error with the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// SubmitProject creates a project.
func (c *Client) SubmitProject(ctx context.Context, p NewProject) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPost, "projects", p, &resp)
	return resp, err
}

// GetProject fetches a project by id or AX number.
func (c *Client) GetProject(ctx context.Context, project string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodGet, c.projectPath(project, ""), nil, &resp)
	return resp, err
}

// IssueQuote issues or revises the client quote.
func (c *Client) IssueQuote(ctx context.Context, project string, amount int64, notes string) (Quote, error) {
	body := map[string]any{"amount": amount}
	if notes != "" {
		body["notes"] = notes
	}
	var resp Quote
	err := c.do(ctx, http.MethodPost, c.projectPath(project, "quotes"), body, &resp)
	return resp, err
}

// RequestPayment opens a gateway order for the current quote.
func (c *Client) RequestPayment(ctx context.Context, project string) (Payment, error) {
	var resp Payment
	err := c.do(ctx, http.MethodPost, c.projectPath(project, "payments"), nil, &resp)
	return resp, err
}

// CapturePayment relays a gateway capture. Repeating it is safe.
func (c *Client) CapturePayment(ctx context.Context, project, quoteID, paymentRef, signature string) (SettlementPreview, error) {
	body := map[string]any{
		"quote_id":    quoteID,
		"payment_ref": paymentRef,
		"signature":   signature,
	}
	var resp SettlementPreview
	err := c.do(ctx, http.MethodPost, c.projectPath(project, "payments/capture"), body, &resp)
	return resp, err
}

// Events returns the latest events of a project.
func (c *Client) Events(ctx context.Context, project string, limit int) ([]Event, error) {
	endpoint := c.projectPath(project, "events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
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
			apiErr.Code, apiErr.Message = env.Error.Code, env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) projectPath(project, p string) string {
	path := "projects/" + url.PathEscape(project)
	if p != "" {
		path += "/" + strings.TrimLeft(p, "/")
	}
	return path
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
