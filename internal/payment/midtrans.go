package payment

import (
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	midtrans "github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
	"github.com/midtrans/midtrans-go/snap"
	"go.uber.org/zap"

	"paygate/internal/models"
)

// MidtransAdapter implements the Adapter interface for Midtrans Snap.
// Creation goes through Snap, status polling through the Core API.
type MidtransAdapter struct {
	serverKey string
	snap      snap.Client
	core      coreapi.Client
	logger    *zap.Logger
}

// midtransNotification is the subset of the HTTP notification body we read.
type midtransNotification struct {
	OrderID           string `json:"order_id"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	SignatureKey      string `json:"signature_key"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
	TransactionID     string `json:"transaction_id"`
}

func NewMidtransAdapter(creds Credentials, opts Options) *MidtransAdapter {
	opts = opts.withDefaults(models.GatewayMidtrans)

	env := midtrans.Sandbox
	if creds.Environment == models.EnvProduction {
		env = midtrans.Production
	}

	a := &MidtransAdapter{
		serverKey: creds.Get("server_key"),
		logger:    opts.Logger,
	}
	a.snap.New(a.serverKey, env)
	a.core.New(a.serverKey, env)

	hc := midtrans.GetHttpClient(env)
	hc.HttpClient = &http.Client{Timeout: opts.Timeout, Transport: opts.Transport}
	a.snap.HttpClient = hc
	a.core.HttpClient = hc

	return a
}

func (m *MidtransAdapter) Type() models.GatewayType {
	return models.GatewayMidtrans
}

func (m *MidtransAdapter) CreatePayment(ctx context.Context, req CanonicalRequest) (*CreateResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable(models.GatewayMidtrans, 0, err)
	}
	if !req.Amount.IsInteger() {
		return nil, fmt.Errorf("midtrans requires whole-unit amounts, got %s", req.Amount)
	}

	snapReq := &snap.Request{
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  req.Reference,
			GrossAmt: req.Amount.IntPart(),
		},
		CustomerDetail: &midtrans.CustomerDetails{
			FName: req.Customer.Name,
			Email: req.Customer.Email,
			Phone: req.Customer.Phone,
		},
	}
	if req.ExpirationMinutes > 0 {
		snapReq.Expiry = &snap.ExpiryDetails{
			Unit:     "minute",
			Duration: int64(req.ExpirationMinutes),
		}
	}
	if req.Description != "" {
		snapReq.CustomField1 = truncate(req.Description, 255)
	}

	log := m.logger.With(zap.String("intent_id", req.IntentID), zap.String("reference", req.Reference))
	log.Info("Sending payment request to Midtrans")

	resp, merr := m.snap.CreateTransaction(snapReq)
	if merr != nil {
		if isDecline(merr.StatusCode) {
			log.Warn("Midtrans rejected payment", zap.Int("status", merr.StatusCode))
			return &CreateResult{
				ProviderReference: req.Reference,
				Status:            models.StatusDeclined,
				DeclineReason:     merr.Message,
			}, nil
		}
		log.Error("Midtrans request failed", zap.Int("status", merr.StatusCode), zap.String("message", merr.Message))
		return nil, midtransUnavailable(merr)
	}
	if resp == nil || resp.Token == "" {
		return nil, unavailable(models.GatewayMidtrans, 0, errors.New("midtrans returned no snap token"))
	}

	raw, _ := json.Marshal(resp)
	return &CreateResult{
		ProviderReference: req.Reference,
		Status:            models.StatusPending,
		RawStatus:         "pending",
		Payload: map[string]interface{}{
			"token":        resp.Token,
			"redirect_url": resp.RedirectURL,
		},
		Raw: raw,
	}, nil
}

func (m *MidtransAdapter) GetStatus(ctx context.Context, providerReference string) (models.Status, error) {
	if err := ctx.Err(); err != nil {
		return "", unavailable(models.GatewayMidtrans, 0, err)
	}

	resp, merr := m.core.CheckTransaction(providerReference)
	if merr != nil {
		if merr.StatusCode == http.StatusNotFound {
			// Snap transactions exist only once the payer picks a channel.
			return models.StatusPending, nil
		}
		return "", midtransUnavailable(merr)
	}
	if resp.StatusCode == "404" {
		return models.StatusPending, nil
	}

	status := midtransStatus(resp.TransactionStatus, resp.FraudStatus)
	if status == "" {
		return "", fmt.Errorf("midtrans %q: %w", resp.TransactionStatus, ErrUnmappedStatus)
	}
	return status, nil
}

// VerifyWebhook checks signature_key = SHA512(order_id + status_code + gross_amount + server_key).
// Midtrans carries the signature in the body, so signatureHeader is ignored.
func (m *MidtransAdapter) VerifyWebhook(rawPayload []byte, _ string, creds Credentials) bool {
	serverKey := creds.Get("server_key")
	if serverKey == "" {
		return false
	}
	var n midtransNotification
	if err := json.Unmarshal(rawPayload, &n); err != nil {
		return false
	}
	if n.OrderID == "" || n.StatusCode == "" || n.GrossAmount == "" || n.SignatureKey == "" {
		return false
	}
	sum := sha512.Sum512([]byte(n.OrderID + n.StatusCode + n.GrossAmount + serverKey))
	want := hex.EncodeToString(sum[:])
	got := strings.ToLower(n.SignatureKey)
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}

func (m *MidtransAdapter) NormalizeWebhook(rawPayload []byte) (*WebhookResult, error) {
	var n midtransNotification
	if err := json.Unmarshal(rawPayload, &n); err != nil {
		return nil, fmt.Errorf("midtrans notification: %w", ErrMalformedPayload)
	}
	if n.OrderID == "" {
		return nil, fmt.Errorf("midtrans notification without order_id: %w", ErrMalformedPayload)
	}
	return &WebhookResult{
		ProviderReference: n.OrderID,
		Status:            midtransStatus(n.TransactionStatus, n.FraudStatus),
		RawStatus:         n.TransactionStatus,
	}, nil
}

func midtransStatus(transactionStatus, fraudStatus string) models.Status {
	switch strings.ToLower(transactionStatus) {
	case "settlement":
		return models.StatusApproved
	case "capture":
		switch strings.ToLower(fraudStatus) {
		case "challenge":
			return models.StatusPending
		case "deny":
			return models.StatusDeclined
		}
		return models.StatusApproved
	case "pending", "authorize":
		return models.StatusPending
	case "deny", "cancel":
		return models.StatusDeclined
	case "expire":
		return models.StatusExpired
	case "failure":
		return models.StatusFailed
	}
	return ""
}

func midtransUnavailable(merr *midtrans.Error) *ProviderUnavailableError {
	err := merr.RawError
	if err == nil {
		err = errors.New(merr.Message)
	}
	return unavailable(models.GatewayMidtrans, merr.StatusCode, err)
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n]
}
