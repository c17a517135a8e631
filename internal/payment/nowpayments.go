package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"paygate/internal/models"
	"paygate/internal/pkg/httpclient"
)

const (
	nowPaymentsBaseURL        = "https://api.nowpayments.io"
	nowPaymentsSandboxBaseURL = "https://api-sandbox.nowpayments.io"
)

// ErrStatusLoginMissing means the tenant stored no NOWPayments account login,
// which the payment list endpoint requires.
var ErrStatusLoginMissing = errors.New("nowpayments status lookup needs email and password credentials")

// NOWPaymentsAdapter implements the Adapter interface for NOWPayments invoices (crypto).
type NOWPaymentsAdapter struct {
	client   *httpclient.Client
	email    string
	password string
	logger   *zap.Logger
}

type nowPaymentsAuth struct {
	Token string `json:"token"`
}

type nowPaymentsInvoice struct {
	ID         json.Number `json:"id"`
	OrderID    string      `json:"order_id"`
	InvoiceURL string      `json:"invoice_url"`
}

type nowPaymentsPayment struct {
	PaymentID     json.Number `json:"payment_id"`
	InvoiceID     json.Number `json:"invoice_id"`
	PaymentStatus string      `json:"payment_status"`
	OrderID       string      `json:"order_id"`
}

type nowPaymentsList struct {
	Data []nowPaymentsPayment `json:"data"`
}

type nowPaymentsError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewNOWPaymentsAdapter(creds Credentials, opts Options) *NOWPaymentsAdapter {
	opts = opts.withDefaults(models.GatewayNOWPayments)

	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = nowPaymentsBaseURL
		if creds.Environment != models.EnvProduction {
			baseURL = nowPaymentsSandboxBaseURL
		}
	}

	client := httpclient.New().
		WithBaseURL(baseURL).
		WithTimeout(opts.Timeout).
		WithRetryCount(opts.RetryCount).
		WithHeader("x-api-key", creds.Get("api_key"))
	if opts.Transport != nil {
		client.WithTransport(opts.Transport)
	}

	return &NOWPaymentsAdapter{
		client:   client,
		email:    creds.Get("email"),
		password: creds.Get("password"),
		logger:   opts.Logger,
	}
}

func (n *NOWPaymentsAdapter) Type() models.GatewayType {
	return models.GatewayNOWPayments
}

func (n *NOWPaymentsAdapter) CreatePayment(ctx context.Context, req CanonicalRequest) (*CreateResult, error) {
	amount, _ := req.Amount.Float64()
	body := map[string]interface{}{
		"price_amount":   amount,
		"price_currency": strings.ToLower(req.Currency),
		"order_id":       req.Reference,
	}
	if req.Description != "" {
		body["order_description"] = truncate(req.Description, 255)
	}
	if req.CallbackURL != "" {
		body["ipn_callback_url"] = req.CallbackURL
	}
	if payCurrency := req.Metadata["pay_currency"]; payCurrency != "" {
		body["pay_currency"] = payCurrency
	}

	log := n.logger.With(zap.String("intent_id", req.IntentID), zap.String("reference", req.Reference))
	log.Info("Creating NOWPayments invoice")

	resp, err := n.client.Post(ctx, "/v1/invoice", body)
	if err != nil {
		log.Error("NOWPayments request failed", zap.Error(err))
		return nil, unavailable(models.GatewayNOWPayments, 0, err)
	}

	if !isSuccess(resp.StatusCode) {
		var nerr nowPaymentsError
		_ = json.Unmarshal(resp.Body, &nerr)
		if isDecline(resp.StatusCode) {
			log.Warn("NOWPayments rejected invoice", zap.Int("status", resp.StatusCode), zap.String("code", nerr.Code))
			return &CreateResult{
				ProviderReference: req.Reference,
				Status:            models.StatusDeclined,
				RawStatus:         nerr.Code,
				DeclineReason:     nerr.Message,
				Raw:               resp.Body,
			}, nil
		}
		log.Error("NOWPayments returned error status", zap.Int("status", resp.StatusCode))
		return nil, unavailable(models.GatewayNOWPayments, resp.StatusCode, fmt.Errorf("%s: %s", nerr.Code, nerr.Message))
	}

	var inv nowPaymentsInvoice
	if err := json.Unmarshal(resp.Body, &inv); err != nil {
		return nil, unavailable(models.GatewayNOWPayments, resp.StatusCode, fmt.Errorf("nowpayments parse error: %w", err))
	}
	if inv.ID == "" || inv.InvoiceURL == "" {
		return nil, unavailable(models.GatewayNOWPayments, resp.StatusCode, errors.New("nowpayments returned no invoice"))
	}

	return &CreateResult{
		ProviderReference: inv.ID.String(),
		Status:            models.StatusPending,
		RawStatus:         "waiting",
		Payload: map[string]interface{}{
			"invoice_url": inv.InvoiceURL,
		},
		Raw: resp.Body,
	}, nil
}

// GetStatus looks up the latest payment made against an invoice. An invoice
// nobody has paid yet has no payments and is still pending. The list endpoint
// takes a short-lived JWT from /v1/auth on top of the API key.
func (n *NOWPaymentsAdapter) GetStatus(ctx context.Context, providerReference string) (models.Status, error) {
	token, err := n.authenticate(ctx)
	if err != nil {
		return "", err
	}

	q := url.Values{}
	q.Set("invoiceId", providerReference)
	q.Set("limit", "1")
	q.Set("sortBy", "created_at")
	q.Set("orderBy", "desc")

	resp, err := n.client.GetWithHeaders(ctx, "/v1/payment/?"+q.Encode(), map[string]string{
		"Authorization": "Bearer " + token,
	})
	if err != nil {
		return "", unavailable(models.GatewayNOWPayments, 0, err)
	}
	if !isSuccess(resp.StatusCode) {
		return "", unavailable(models.GatewayNOWPayments, resp.StatusCode, errors.New("nowpayments status lookup failed"))
	}

	var list nowPaymentsList
	if err := json.Unmarshal(resp.Body, &list); err != nil {
		return "", fmt.Errorf("nowpayments parse error: %w", err)
	}
	if len(list.Data) == 0 {
		return models.StatusPending, nil
	}
	status := nowPaymentsStatus(list.Data[0].PaymentStatus)
	if status == "" {
		return "", fmt.Errorf("nowpayments %q: %w", list.Data[0].PaymentStatus, ErrUnmappedStatus)
	}
	return status, nil
}

func (n *NOWPaymentsAdapter) authenticate(ctx context.Context) (string, error) {
	if n.email == "" || n.password == "" {
		return "", unavailable(models.GatewayNOWPayments, 0, ErrStatusLoginMissing)
	}
	resp, err := n.client.Post(ctx, "/v1/auth", map[string]string{
		"email":    n.email,
		"password": n.password,
	})
	if err != nil {
		return "", unavailable(models.GatewayNOWPayments, 0, err)
	}
	if !isSuccess(resp.StatusCode) {
		return "", unavailable(models.GatewayNOWPayments, resp.StatusCode, errors.New("nowpayments auth failed"))
	}
	var auth nowPaymentsAuth
	if err := json.Unmarshal(resp.Body, &auth); err != nil || auth.Token == "" {
		return "", unavailable(models.GatewayNOWPayments, resp.StatusCode, errors.New("nowpayments auth returned no token"))
	}
	return auth.Token, nil
}

// VerifyWebhook checks x-nowpayments-sig, the hex HMAC-SHA512 of the body
// re-encoded with sorted keys, keyed by the IPN secret.
func (n *NOWPaymentsAdapter) VerifyWebhook(rawPayload []byte, signatureHeader string, creds Credentials) bool {
	secret := creds.Get("ipn_secret")
	if secret == "" || signatureHeader == "" {
		return false
	}
	canonical, err := sortedJSON(rawPayload)
	if err != nil {
		return false
	}
	want := nowPaymentsSignature(canonical, secret)
	return hmac.Equal([]byte(want), []byte(strings.ToLower(signatureHeader)))
}

func (n *NOWPaymentsAdapter) NormalizeWebhook(rawPayload []byte) (*WebhookResult, error) {
	dec := json.NewDecoder(bytes.NewReader(rawPayload))
	dec.UseNumber()
	var p nowPaymentsPayment
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("nowpayments ipn: %w", ErrMalformedPayload)
	}
	if p.InvoiceID == "" {
		return nil, fmt.Errorf("nowpayments ipn without invoice_id: %w", ErrMalformedPayload)
	}
	return &WebhookResult{
		ProviderReference: p.InvoiceID.String(),
		Status:            nowPaymentsStatus(p.PaymentStatus),
		RawStatus:         p.PaymentStatus,
	}, nil
}

func nowPaymentsStatus(raw string) models.Status {
	switch strings.ToLower(raw) {
	case "finished", "confirmed":
		return models.StatusApproved
	case "waiting", "confirming", "sending":
		return models.StatusPending
	case "partially_paid", "refunded":
		return models.StatusDeclined
	case "expired":
		return models.StatusExpired
	case "failed":
		return models.StatusFailed
	}
	return ""
}

// sortedJSON re-encodes a JSON object with keys sorted at every level.
// encoding/json sorts map keys; UseNumber keeps numbers byte-for-byte.
func sortedJSON(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v map[string]interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func nowPaymentsSignature(canonical []byte, secret string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil))
}
