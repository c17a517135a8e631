package payment

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"paygate/internal/models"
)

var defaultTimeouts = map[models.GatewayType]time.Duration{
	models.GatewayMidtrans:    8 * time.Second,
	models.GatewayXendit:      6 * time.Second,
	models.GatewayNOWPayments: 9 * time.Second,
}

// Options tunes the outbound client of an adapter.
type Options struct {
	Timeout    time.Duration
	RetryCount int
	// BaseURL overrides the provider endpoint. Used by tests.
	BaseURL   string
	Transport http.RoundTripper
	Logger    *zap.Logger
}

func (o Options) withDefaults(gateway models.GatewayType) Options {
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout(gateway)
	}
	if o.RetryCount < 0 {
		o.RetryCount = 0
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	o.Logger = o.Logger.With(zap.String("gateway", string(gateway)))
	return o
}

// defaultTimeout returns the outbound timeout used when none is configured.
func defaultTimeout(gateway models.GatewayType) time.Duration {
	if d, ok := defaultTimeouts[gateway]; ok {
		return d
	}
	return 10 * time.Second
}

// NewAdapter creates an adapter for the credentials' gateway.
// Unknown gateway types and incomplete credentials are rejected.
func NewAdapter(creds Credentials, opts Options) (Adapter, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}

	switch creds.Gateway {
	case models.GatewayMidtrans:
		return NewMidtransAdapter(creds, opts), nil
	case models.GatewayXendit:
		return NewXenditAdapter(creds, opts), nil
	case models.GatewayNOWPayments:
		return NewNOWPaymentsAdapter(creds, opts), nil
	default:
		return nil, &UnsupportedGatewayError{Gateway: string(creds.Gateway)}
	}
}

// SignatureHeader names the request header carrying the webhook signature.
// Midtrans signs inside the body and has none.
func SignatureHeader(gateway models.GatewayType) string {
	switch gateway {
	case models.GatewayXendit:
		return "X-Callback-Token"
	case models.GatewayNOWPayments:
		return "X-Nowpayments-Sig"
	}
	return ""
}
