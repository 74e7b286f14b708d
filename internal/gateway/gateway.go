// Package gateway wraps the external payment processor behind a small
// capability set: create a payment intent, fetch authoritative payment
// details, and verify the HMAC signatures the processor issues.
package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrUnavailable covers unset credentials, transport failures and
	// gateway-side outages. Callers leave local state pending and retry.
	ErrUnavailable = errors.New("payment gateway unavailable")
)

// Intent is the gateway-side record of an authorized collection attempt.
type Intent struct {
	Ref         string
	AmountMinor int64
	Currency    string
}

// Payment is the gateway's authoritative view of a payment. Monetary fields
// here are the ground truth any reconciliation decision derives from.
type Payment struct {
	Ref         string
	OrderRef    string
	AmountMinor int64
	Currency    string
	Status      string
	Method      string
	Description string
}

type Gateway interface {
	CreateIntent(ctx context.Context, amountMinor int64, currency, receipt string, notes map[string]string) (*Intent, error)
	FetchPayment(ctx context.Context, paymentRef string) (*Payment, error)
	VerifySignature(orderRef, paymentRef, signature string) bool
	VerifyWebhook(body []byte, signature string) bool
	KeyID() string
}

type Client struct {
	http          *http.Client
	baseURL       string
	keyID         string
	keySecret     string
	webhookSecret string
}

func New(baseURL, keyID, keySecret, webhookSecret string) *Client {
	return &Client{
		http:          &http.Client{Timeout: 5 * time.Second},
		baseURL:       baseURL,
		keyID:         keyID,
		keySecret:     keySecret,
		webhookSecret: webhookSecret,
	}
}

func (c *Client) KeyID() string { return c.keyID }

func (c *Client) CreateIntent(ctx context.Context, amountMinor int64, currency, receipt string, notes map[string]string) (*Intent, error) {
	if c.keyID == "" || c.keySecret == "" {
		return nil, fmt.Errorf("%w: credentials not configured", ErrUnavailable)
	}
	payload, err := json.Marshal(map[string]any{
		"amount":   amountMinor,
		"currency": currency,
		"receipt":  receipt,
		"notes":    notes,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/orders", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer res.Body.Close()
	if res.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: status %s", ErrUnavailable, res.Status)
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("intent rejected: %s", res.Status)
	}

	var out struct {
		ID       string `json:"id"`
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &Intent{Ref: out.ID, AmountMinor: out.Amount, Currency: out.Currency}, nil
}

func (c *Client) FetchPayment(ctx context.Context, paymentRef string) (*Payment, error) {
	if c.keyID == "" || c.keySecret == "" {
		return nil, fmt.Errorf("%w: credentials not configured", ErrUnavailable)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/payments/"+paymentRef, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.keyID, c.keySecret)

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer res.Body.Close()
	if res.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: status %s", ErrUnavailable, res.Status)
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("payment not found: %s", res.Status)
	}

	var out struct {
		ID               string `json:"id"`
		OrderID          string `json:"order_id"`
		Amount           int64  `json:"amount"`
		Currency         string `json:"currency"`
		Status           string `json:"status"`
		Method           string `json:"method"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &Payment{
		Ref:         out.ID,
		OrderRef:    out.OrderID,
		AmountMinor: out.Amount,
		Currency:    out.Currency,
		Status:      out.Status,
		Method:      out.Method,
		Description: out.ErrorDescription,
	}, nil
}

// VerifySignature checks the HMAC the gateway computes over
// "<orderRef>|<paymentRef>" with the shared key secret. hmac.Equal keeps the
// comparison constant-time.
func (c *Client) VerifySignature(orderRef, paymentRef, signature string) bool {
	return verifyHMAC([]byte(orderRef+"|"+paymentRef), signature, c.keySecret)
}

// VerifyWebhook checks the HMAC over the raw webhook body with the dedicated
// webhook secret.
func (c *Client) VerifyWebhook(body []byte, signature string) bool {
	return verifyHMAC(body, signature, c.webhookSecret)
}

func verifyHMAC(payload []byte, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Sign computes the client-confirmation signature for a given intent/payment
// pair. Exposed for tests and tooling.
func Sign(orderRef, paymentRef, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderRef + "|" + paymentRef))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignBody computes the webhook body signature.
func SignBody(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
