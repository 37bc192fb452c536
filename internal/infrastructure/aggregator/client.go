// Package aggregator implements the client for the third-party financial-data
// aggregator that links bank accounts and serves balances and transactions.
package aggregator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultTimeout = 30 * time.Second

	linkTokenPath   = "/link/token/create"
	exchangePath    = "/item/public_token/exchange"
	itemPath        = "/item/get"
	institutionPath = "/institutions/get_by_id"
	balancesPath    = "/accounts/balance/get"
	syncPath        = "/transactions/sync"
	removePath      = "/item/remove"
)

// TokenExchange is the result of exchanging a public token.
type TokenExchange struct {
	AccessToken string `json:"access_token"`
	ItemID      string `json:"item_id"`
}

// Item describes one linked institution login.
type Item struct {
	ItemID        string `json:"item_id"`
	InstitutionID string `json:"institution_id"`
}

// Institution is the display metadata for an institution.
type Institution struct {
	InstitutionID string `json:"institution_id"`
	Name          string `json:"name"`
	Logo          string `json:"logo,omitempty"`
}

// AccountBalances holds the balance figures for one account.
type AccountBalances struct {
	Available       float64 `json:"available"`
	Current         float64 `json:"current"`
	ISOCurrencyCode string  `json:"iso_currency_code"`
}

// Account is one account as reported by the balance endpoint.
type Account struct {
	AccountID string          `json:"account_id"`
	Name      string          `json:"name"`
	Type      string          `json:"type"`
	Subtype   string          `json:"subtype"`
	Mask      string          `json:"mask"`
	Balances  AccountBalances `json:"balances"`
}

// Transaction is one transaction as reported by the sync endpoint.
type Transaction struct {
	TransactionID   string  `json:"transaction_id"`
	AccountID       string  `json:"account_id"`
	Amount          float64 `json:"amount"`
	ISOCurrencyCode string  `json:"iso_currency_code"`
	Date            string  `json:"date"` // YYYY-MM-DD
	Name            string  `json:"name"`
	MerchantName    string  `json:"merchant_name"`
	Category        string  `json:"personal_finance_category"`
	Pending         bool    `json:"pending"`
	PaymentChannel  string  `json:"payment_channel"`
}

// RemovedTransaction identifies a transaction deleted upstream.
type RemovedTransaction struct {
	TransactionID string `json:"transaction_id"`
}

// SyncPage is one page of incremental sync results.
type SyncPage struct {
	Added      []Transaction        `json:"added"`
	Modified   []Transaction        `json:"modified"`
	Removed    []RemovedTransaction `json:"removed"`
	NextCursor string               `json:"next_cursor"`
	HasMore    bool                 `json:"has_more"`
}

// ParseDate parses the aggregator's YYYY-MM-DD transaction date.
func (t *Transaction) ParseDate() (time.Time, error) {
	parsed, err := time.Parse("2006-01-02", t.Date)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse date %q: %w", t.Date, err)
	}
	return parsed, nil
}

// HTTPClient talks to the aggregator's REST API.
type HTTPClient struct {
	httpClient  *http.Client
	baseURL     string
	clientID    string
	secret      string
	environment string
}

// Ensure HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates an aggregator API client.
func NewHTTPClient(baseURL, clientID, secret, environment string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPClient{
		httpClient:  &http.Client{Timeout: timeout},
		baseURL:     baseURL,
		clientID:    clientID,
		secret:      secret,
		environment: environment,
	}
}

// Environment returns the aggregator environment this client targets
// (e.g. sandbox, production).
func (c *HTTPClient) Environment() string {
	return c.environment
}

type errorResponse struct {
	ErrorType    string `json:"error_type"`
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

// CreateLinkToken starts a link flow for the user.
func (c *HTTPClient) CreateLinkToken(ctx context.Context, userID string) (string, error) {
	var out struct {
		LinkToken string `json:"link_token"`
	}
	req := map[string]any{
		"user": map[string]string{"client_user_id": userID},
	}
	if err := c.post(ctx, linkTokenPath, req, &out); err != nil {
		return "", err
	}
	return out.LinkToken, nil
}

// ExchangePublicToken trades a public token for an access token and item id.
func (c *HTTPClient) ExchangePublicToken(ctx context.Context, publicToken string) (*TokenExchange, error) {
	var out TokenExchange
	req := map[string]string{"public_token": publicToken}
	if err := c.post(ctx, exchangePath, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetItem returns the item metadata for an access token.
func (c *HTTPClient) GetItem(ctx context.Context, accessToken string) (*Item, error) {
	var out struct {
		Item Item `json:"item"`
	}
	req := map[string]string{"access_token": accessToken}
	if err := c.post(ctx, itemPath, req, &out); err != nil {
		return nil, err
	}
	return &out.Item, nil
}

// GetInstitution resolves an institution id to its display metadata.
func (c *HTTPClient) GetInstitution(ctx context.Context, institutionID string) (*Institution, error) {
	var out struct {
		Institution Institution `json:"institution"`
	}
	req := map[string]string{"institution_id": institutionID}
	if err := c.post(ctx, institutionPath, req, &out); err != nil {
		return nil, err
	}
	return &out.Institution, nil
}

// GetBalances returns the current account and balance snapshots.
func (c *HTTPClient) GetBalances(ctx context.Context, accessToken string) ([]Account, error) {
	var out struct {
		Accounts []Account `json:"accounts"`
	}
	req := map[string]string{"access_token": accessToken}
	if err := c.post(ctx, balancesPath, req, &out); err != nil {
		return nil, err
	}
	return out.Accounts, nil
}

// SyncTransactions returns one page of incremental changes from the cursor.
func (c *HTTPClient) SyncTransactions(ctx context.Context, accessToken, cursor string) (*SyncPage, error) {
	var out SyncPage
	req := map[string]string{"access_token": accessToken}
	if cursor != "" {
		req["cursor"] = cursor
	}
	if err := c.post(ctx, syncPath, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RemoveItem revokes the access token at the aggregator.
func (c *HTTPClient) RemoveItem(ctx context.Context, accessToken string) error {
	req := map[string]string{"access_token": accessToken}
	return c.post(ctx, removePath, req, &struct{}{})
}

func (c *HTTPClient) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("PLAID-CLIENT-ID", c.clientID)
	req.Header.Set("PLAID-SECRET", c.secret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransientError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransientError{StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return c.classifyError(resp.StatusCode, respBody)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}

// classifyError maps a non-200 response into the error taxonomy. Auth-class
// codes are permanent; rate limits and server errors are transient.
func (c *HTTPClient) classifyError(status int, body []byte) error {
	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err != nil {
		if status >= 500 || status == http.StatusTooManyRequests {
			return &TransientError{StatusCode: status, Err: fmt.Errorf("aggregator returned %s", string(body))}
		}
		return fmt.Errorf("aggregator request failed with status %d: %s", status, string(body))
	}

	switch errResp.ErrorCode {
	case CodeItemLoginRequired, CodeInvalidAccessToken, CodeItemNotFound:
		return &AuthError{Code: errResp.ErrorCode, Message: errResp.ErrorMessage}
	}

	if status >= 500 || status == http.StatusTooManyRequests {
		return &TransientError{StatusCode: status, Err: fmt.Errorf("%s: %s", errResp.ErrorCode, errResp.ErrorMessage)}
	}

	return fmt.Errorf("aggregator error (status %d): %s - %s", status, errResp.ErrorCode, errResp.ErrorMessage)
}
