package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/RetroPix/RetroPix/internal/pkg/env"
)

// Client is a thin HTTP client for the payment provider's REST API. Only the
// two calls this service needs are implemented: creating payment intents for
// recharges and fetching customer metadata for subscription sync.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// PaymentIntent is the subset of the provider's payment intent object we use.
type PaymentIntent struct {
	ID           string         `json:"id"`
	ClientSecret string         `json:"client_secret"`
	Status       string         `json:"status"`
	Error        *errorResponse `json:"error,omitempty"`
}

// Customer is the subset of the provider's customer object we use. Metadata
// carries the local user id the main application stamped at checkout time.
type Customer struct {
	ID       string            `json:"id"`
	Email    string            `json:"email"`
	Metadata map[string]string `json:"metadata"`
	Error    *errorResponse    `json:"error,omitempty"`
}

type errorResponse struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewClient creates a payment API client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 20 * time.Second},
	}
}

// NewClientFromEnv creates a client configured from the environment.
func NewClientFromEnv() *Client {
	return NewClient(
		env.GetEnv("PAYMENT_API_BASE_URL", "https://api.stripe.com/v1"),
		env.GetEnv("PAYMENT_API_KEY", ""),
	)
}

// CreatePaymentIntent creates a provider-side payment intent. Metadata keys
// are passed through so webhooks can be correlated back to local records.
func (c *Client) CreatePaymentIntent(ctx context.Context, amountCents int64, currency string, metadata map[string]string) (*PaymentIntent, error) {
	formData := url.Values{}
	formData.Add("amount", fmt.Sprintf("%d", amountCents))
	formData.Add("currency", strings.ToLower(currency))
	formData.Add("payment_method_types[]", "card")
	for key, value := range metadata {
		formData.Add(fmt.Sprintf("metadata[%s]", key), value)
	}

	var intent PaymentIntent
	if err := c.postForm(ctx, "/payment_intents", formData, &intent); err != nil {
		return nil, err
	}
	if intent.Error != nil {
		return nil, fmt.Errorf("payment API error: %s", intent.Error.Message)
	}
	return &intent, nil
}

// GetCustomer fetches a provider customer including its metadata.
func (c *Client) GetCustomer(ctx context.Context, customerID string) (*Customer, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, fmt.Errorf("customer id is required")
	}

	var customer Customer
	if err := c.get(ctx, "/customers/"+url.PathEscape(customerID), &customer); err != nil {
		return nil, err
	}
	if customer.Error != nil {
		return nil, fmt.Errorf("payment API error: %s", customer.Error.Message)
	}
	return &customer, nil
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Add("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Add("Authorization", "Bearer "+c.apiKey)
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Add("Authorization", "Bearer "+c.apiKey)
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
