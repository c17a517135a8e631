package payment

import (
	"context"
	"crypto/subtle"
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
	xenditBaseURL    = "https://api.xendit.co"
	xenditAPIVersion = "2024-11-11"
)

var xenditDefaultChannels = map[models.PaymentMethod]string{
	models.MethodCard:         "CARDS",
	models.MethodBankTransfer: "BCA_VIRTUAL_ACCOUNT",
	models.MethodEWallet:      "DANA",
	models.MethodQRIS:         "QRIS",
}

// XenditAdapter implements the Adapter interface for Xendit Payment Requests v3.
type XenditAdapter struct {
	client *httpclient.Client
	logger *zap.Logger
}

type xenditAction struct {
	Type       string `json:"type"`
	Descriptor string `json:"descriptor"`
	Value      string `json:"value"`
}

type xenditPaymentRequest struct {
	PaymentRequestID string         `json:"payment_request_id"`
	ReferenceID      string         `json:"reference_id"`
	Status           string         `json:"status"`
	FailureCode      string         `json:"failure_code"`
	Actions          []xenditAction `json:"actions"`
}

type xenditError struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

type xenditWebhook struct {
	Event string                `json:"event"`
	Data  *xenditPaymentRequest `json:"data"`
	xenditPaymentRequest
}

func NewXenditAdapter(creds Credentials, opts Options) *XenditAdapter {
	opts = opts.withDefaults(models.GatewayXendit)

	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = xenditBaseURL
	}

	client := httpclient.New().
		WithBaseURL(baseURL).
		WithTimeout(opts.Timeout).
		WithRetryCount(opts.RetryCount).
		WithBasicAuth(creds.Get("secret_key"), "").
		WithHeader("api-version", xenditAPIVersion)
	if opts.Transport != nil {
		client.WithTransport(opts.Transport)
	}

	return &XenditAdapter{client: client, logger: opts.Logger}
}

func (x *XenditAdapter) Type() models.GatewayType {
	return models.GatewayXendit
}

func (x *XenditAdapter) CreatePayment(ctx context.Context, req CanonicalRequest) (*CreateResult, error) {
	channel := req.Metadata["channel_code"]
	if channel == "" {
		channel = xenditDefaultChannels[req.Method]
	}
	if channel == "" {
		return nil, fmt.Errorf("xendit has no channel for method %q", req.Method)
	}

	amount, _ := req.Amount.Float64()
	body := map[string]interface{}{
		"reference_id":   req.Reference,
		"type":           "PAY",
		"country":        xenditCountry(req.Currency),
		"currency":       strings.ToUpper(req.Currency),
		"request_amount": amount,
		"capture_method": "AUTOMATIC",
		"channel_code":   channel,
		"channel_properties": map[string]interface{}{
			"display_name": req.Customer.Name,
		},
		"metadata": map[string]string{
			"intent_id": req.IntentID,
			"order_id":  req.OrderID,
		},
	}
	if req.Description != "" {
		body["description"] = truncate(req.Description, 1000)
	}
	if req.CallbackURL != "" {
		body["channel_properties"].(map[string]interface{})["success_return_url"] = req.CallbackURL
	}

	log := x.logger.With(zap.String("intent_id", req.IntentID), zap.String("reference", req.Reference))
	log.Info("Sending payment request to Xendit", zap.String("channel", channel))

	resp, err := x.client.Post(ctx, "/v3/payment_requests", body)
	if err != nil {
		log.Error("Xendit request failed", zap.Error(err))
		return nil, unavailable(models.GatewayXendit, 0, err)
	}

	if !isSuccess(resp.StatusCode) {
		var xerr xenditError
		_ = json.Unmarshal(resp.Body, &xerr)
		if isDecline(resp.StatusCode) {
			log.Warn("Xendit rejected payment", zap.Int("status", resp.StatusCode), zap.String("error_code", xerr.ErrorCode))
			return &CreateResult{
				ProviderReference: req.Reference,
				Status:            models.StatusDeclined,
				RawStatus:         xerr.ErrorCode,
				DeclineReason:     xerr.Message,
				Raw:               resp.Body,
			}, nil
		}
		log.Error("Xendit returned error status", zap.Int("status", resp.StatusCode), zap.String("error_code", xerr.ErrorCode))
		return nil, unavailable(models.GatewayXendit, resp.StatusCode, fmt.Errorf("%s: %s", xerr.ErrorCode, xerr.Message))
	}

	var pr xenditPaymentRequest
	if err := json.Unmarshal(resp.Body, &pr); err != nil {
		return nil, unavailable(models.GatewayXendit, resp.StatusCode, fmt.Errorf("xendit parse error: %w", err))
	}
	if pr.PaymentRequestID == "" {
		return nil, unavailable(models.GatewayXendit, resp.StatusCode, errors.New("xendit returned no payment_request_id"))
	}

	status := xenditStatus(pr.Status)
	if status == "" || status == models.StatusExpired || status == models.StatusFailed {
		// Anything but a usable outcome at creation is a refusal.
		status = models.StatusDeclined
	}

	result := &CreateResult{
		ProviderReference: pr.PaymentRequestID,
		Status:            status,
		RawStatus:         pr.Status,
		Payload:           xenditPayload(pr.Actions),
		Raw:               resp.Body,
	}
	if status == models.StatusDeclined {
		result.DeclineReason = pr.FailureCode
	}
	return result, nil
}

func (x *XenditAdapter) GetStatus(ctx context.Context, providerReference string) (models.Status, error) {
	resp, err := x.client.Get(ctx, "/v3/payment_requests/"+url.PathEscape(providerReference))
	if err != nil {
		return "", unavailable(models.GatewayXendit, 0, err)
	}
	if !isSuccess(resp.StatusCode) {
		return "", unavailable(models.GatewayXendit, resp.StatusCode, fmt.Errorf("xendit status lookup failed"))
	}

	var pr xenditPaymentRequest
	if err := json.Unmarshal(resp.Body, &pr); err != nil {
		return "", fmt.Errorf("xendit parse error: %w", err)
	}
	status := xenditStatus(pr.Status)
	if status == "" {
		return "", fmt.Errorf("xendit %q: %w", pr.Status, ErrUnmappedStatus)
	}
	return status, nil
}

// VerifyWebhook compares the x-callback-token header with the tenant's
// callback verification token.
func (x *XenditAdapter) VerifyWebhook(_ []byte, signatureHeader string, creds Credentials) bool {
	token := creds.Get("callback_token")
	if token == "" || signatureHeader == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(signatureHeader)) == 1
}

func (x *XenditAdapter) NormalizeWebhook(rawPayload []byte) (*WebhookResult, error) {
	var w xenditWebhook
	if err := json.Unmarshal(rawPayload, &w); err != nil {
		return nil, fmt.Errorf("xendit webhook: %w", ErrMalformedPayload)
	}
	pr := w.xenditPaymentRequest
	if w.Data != nil {
		pr = *w.Data
	}
	if pr.PaymentRequestID == "" {
		return nil, fmt.Errorf("xendit webhook without payment_request_id: %w", ErrMalformedPayload)
	}
	return &WebhookResult{
		ProviderReference: pr.PaymentRequestID,
		Status:            xenditStatus(pr.Status),
		RawStatus:         pr.Status,
	}, nil
}

func xenditStatus(raw string) models.Status {
	switch strings.ToUpper(raw) {
	case "SUCCEEDED", "PAID", "CAPTURED":
		return models.StatusApproved
	case "PENDING", "REQUIRES_ACTION", "ACCEPTING_PAYMENTS", "AUTHORIZED":
		return models.StatusPending
	case "FAILED", "CANCELED", "VOIDED":
		return models.StatusDeclined
	case "EXPIRED":
		return models.StatusExpired
	}
	return ""
}

// xenditPayload keeps the first code-like and first URL-like action.
func xenditPayload(actions []xenditAction) map[string]interface{} {
	payload := map[string]interface{}{}
	for _, a := range actions {
		switch strings.ToUpper(a.Descriptor) {
		case "WEB_URL", "DEEPLINK_URL":
			if _, ok := payload["redirect_url"]; !ok {
				payload["redirect_url"] = a.Value
			}
		case "QR_STRING":
			if _, ok := payload["qr_string"]; !ok {
				payload["qr_string"] = a.Value
			}
		case "VIRTUAL_ACCOUNT_NUMBER", "PAYMENT_CODE":
			if _, ok := payload["payment_code"]; !ok {
				payload["payment_code"] = a.Value
			}
		}
	}
	return payload
}

func xenditCountry(currency string) string {
	switch strings.ToUpper(currency) {
	case "PHP":
		return "PH"
	case "THB":
		return "TH"
	case "VND":
		return "VN"
	case "MYR":
		return "MY"
	}
	return "ID"
}
