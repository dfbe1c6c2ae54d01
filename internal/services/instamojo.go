package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// PaymentGateway creates and looks up payment requests
type PaymentGateway interface {
	CreatePaymentRequest(ctx context.Context, params PaymentRequestParams) (*PaymentRequest, error)
	GetPaymentRequest(ctx context.Context, id string) (*PaymentRequest, error)
}

// PaymentRequestParams describes a new payment request
type PaymentRequestParams struct {
	Purpose     string
	Amount      int
	RedirectURL string
	WebhookURL  string
	Metadata    map[string]string
}

// PaymentRequest is the gateway's view of a payment request
type PaymentRequest struct {
	ID       string          `json:"id"`
	Status   string          `json:"status"`
	LongURL  string          `json:"longurl"`
	Purpose  string          `json:"purpose"`
	Amount   string          `json:"amount"`
	Metadata json.RawMessage `json:"metadata"`
}

type paymentRequestEnvelope struct {
	Success        bool            `json:"success"`
	Message        json.RawMessage `json:"message,omitempty"`
	PaymentRequest *PaymentRequest `json:"payment_request"`
}

// InstamojoClient calls the Instamojo v1.1 REST API
type InstamojoClient struct {
	baseURL    string
	authToken  string
	apiKey     string
	apiToken   string
	httpClient *http.Client
}

// NewInstamojoClient creates a client. A non-empty authToken selects Bearer auth,
// otherwise the legacy key/token headers are sent.
func NewInstamojoClient(baseURL, authToken, apiKey, apiToken string, timeout time.Duration) *InstamojoClient {
	return &InstamojoClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		authToken: authToken,
		apiKey:    apiKey,
		apiToken:  apiToken,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// CreatePaymentRequest registers a payment request and returns its pay URL and ID
func (c *InstamojoClient) CreatePaymentRequest(ctx context.Context, params PaymentRequestParams) (*PaymentRequest, error) {
	metadata, err := json.Marshal(params.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	form := url.Values{}
	form.Set("purpose", params.Purpose)
	form.Set("amount", strconv.Itoa(params.Amount))
	form.Set("redirect_url", params.RedirectURL)
	form.Set("webhook", params.WebhookURL)
	form.Set("allow_repeated_payments", "false")
	form.Set("metadata", string(metadata))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/payment-requests/", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	pr, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if pr.LongURL == "" || pr.ID == "" {
		return nil, fmt.Errorf("instamojo returned an incomplete payment request")
	}
	return pr, nil
}

// GetPaymentRequest fetches the current state of a payment request
func (c *InstamojoClient) GetPaymentRequest(ctx context.Context, id string) (*PaymentRequest, error) {
	if id == "" {
		return nil, fmt.Errorf("payment request id is empty")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/payment-requests/"+url.PathEscape(id)+"/", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req)
}

func (c *InstamojoClient) do(req *http.Request) (*PaymentRequest, error) {
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call instamojo: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("instamojo returned status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var envelope paymentRequestEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if envelope.PaymentRequest == nil {
		return nil, fmt.Errorf("instamojo response has no payment_request")
	}
	return envelope.PaymentRequest, nil
}

func (c *InstamojoClient) setHeaders(req *http.Request) {
	if req.Method == http.MethodPost {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
		return
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("X-Auth-Token", c.apiToken)
}

// VerifyWebhookMAC checks Instamojo's webhook signature.
// The MAC is HMAC-SHA1 over the "|"-joined values ordered by lowercase key, "mac" excluded.
func VerifyWebhookMAC(form url.Values, salt string) bool {
	provided := form.Get("mac")
	if provided == "" || salt == "" {
		return false
	}
	expected := WebhookMAC(form, salt)
	return hmac.Equal([]byte(strings.ToLower(provided)), []byte(expected))
}

// WebhookMAC computes the signature Instamojo attaches to a webhook form
func WebhookMAC(form url.Values, salt string) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		if k == "mac" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return strings.ToLower(keys[i]) < strings.ToLower(keys[j]) })

	values := make([]string, 0, len(keys))
	for _, k := range keys {
		values = append(values, form.Get(k))
	}

	h := hmac.New(sha1.New, []byte(salt))
	h.Write([]byte(strings.Join(values, "|")))
	return hex.EncodeToString(h.Sum(nil))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
