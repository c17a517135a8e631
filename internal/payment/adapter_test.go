package payment

import (
	"bytes"
	"context"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paygate/internal/models"
)

// MockRoundTripper allows us to mock the HTTP response
type MockRoundTripper func(req *http.Request) *http.Response

func (f MockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req), nil
}

type MockRoundTripperWithError func(req *http.Request) (*http.Response, error)

func (f MockRoundTripperWithError) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func canonicalRequest(method models.PaymentMethod) CanonicalRequest {
	return CanonicalRequest{
		IntentID:          "intent-1",
		Reference:         "intent-1-1",
		OrderID:           "ord-1",
		Amount:            decimal.NewFromInt(150000),
		Currency:          "IDR",
		Method:            method,
		Customer:          models.CustomerInfo{Name: "Buyer", Email: "buyer@example.com"},
		Description:       "Order ord-1",
		ExpirationMinutes: 60,
	}
}

func xenditCreds() Credentials {
	return NewCredentials(models.GatewayXendit, models.EnvSandbox, map[string]string{
		"secret_key":     "xnd-secret",
		"callback_token": "cb-token",
	})
}

func nowPaymentsCreds() Credentials {
	return NewCredentials(models.GatewayNOWPayments, models.EnvSandbox, map[string]string{
		"api_key":    "np-key",
		"ipn_secret": "np-ipn",
		"email":      "ops@example.com",
		"password":   "np-pass",
	})
}

// nowPaymentsStatusServer answers /v1/auth and hands list requests to list.
func nowPaymentsStatusServer(t *testing.T, list func(req *http.Request) *http.Response) Options {
	return Options{Transport: MockRoundTripper(func(req *http.Request) *http.Response {
		if req.URL.Path == "/v1/auth" {
			assert.Equal(t, http.MethodPost, req.Method)
			body, _ := io.ReadAll(req.Body)
			assert.JSONEq(t, `{"email": "ops@example.com", "password": "np-pass"}`, string(body))
			return jsonResponse(http.StatusOK, `{"token": "jwt-1"}`)
		}
		assert.Equal(t, "Bearer jwt-1", req.Header.Get("Authorization"))
		assert.Equal(t, "np-key", req.Header.Get("x-api-key"))
		return list(req)
	})}
}

func midtransCreds() Credentials {
	return NewCredentials(models.GatewayMidtrans, models.EnvSandbox, map[string]string{
		"server_key": "SB-Mid-server-abc",
	})
}

func TestXenditAdapter_CreatePayment(t *testing.T) {
	ctx := context.Background()

	t.Run("Pending", func(t *testing.T) {
		respBody := `{
			"payment_request_id": "pr-123",
			"reference_id": "intent-1-1",
			"status": "REQUIRES_ACTION",
			"actions": [
				{"type": "PRESENT_TO_CUSTOMER", "descriptor": "VIRTUAL_ACCOUNT_NUMBER", "value": "1234567890"},
				{"type": "REDIRECT_CUSTOMER", "descriptor": "WEB_URL", "value": "https://pay.example/1"}
			]
		}`
		a := NewXenditAdapter(xenditCreds(), Options{Transport: MockRoundTripper(func(req *http.Request) *http.Response {
			assert.Equal(t, http.MethodPost, req.Method)
			assert.Equal(t, "https://api.xendit.co/v3/payment_requests", req.URL.String())
			assert.Equal(t, xenditAPIVersion, req.Header.Get("api-version"))

			user, _, ok := req.BasicAuth()
			assert.True(t, ok)
			assert.Equal(t, "xnd-secret", user)

			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			assert.Equal(t, "intent-1-1", body["reference_id"])
			assert.Equal(t, "BCA_VIRTUAL_ACCOUNT", body["channel_code"])
			assert.Equal(t, "ID", body["country"])

			return jsonResponse(http.StatusCreated, respBody)
		})})

		res, err := a.CreatePayment(ctx, canonicalRequest(models.MethodBankTransfer))
		require.NoError(t, err)
		assert.Equal(t, "pr-123", res.ProviderReference)
		assert.Equal(t, models.StatusPending, res.Status)
		assert.Equal(t, "1234567890", res.Payload["payment_code"])
		assert.Equal(t, "https://pay.example/1", res.Payload["redirect_url"])
	})

	t.Run("Succeeded", func(t *testing.T) {
		a := NewXenditAdapter(xenditCreds(), Options{Transport: MockRoundTripper(func(req *http.Request) *http.Response {
			return jsonResponse(http.StatusOK, `{"payment_request_id": "pr-9", "status": "SUCCEEDED"}`)
		})})

		res, err := a.CreatePayment(ctx, canonicalRequest(models.MethodCard))
		require.NoError(t, err)
		assert.Equal(t, models.StatusApproved, res.Status)
	})

	t.Run("ChannelOverride", func(t *testing.T) {
		a := NewXenditAdapter(xenditCreds(), Options{Transport: MockRoundTripper(func(req *http.Request) *http.Response {
			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			assert.Equal(t, "OVO", body["channel_code"])
			return jsonResponse(http.StatusOK, `{"payment_request_id": "pr-2", "status": "PENDING"}`)
		})})

		req := canonicalRequest(models.MethodEWallet)
		req.Metadata = map[string]string{"channel_code": "OVO"}
		_, err := a.CreatePayment(ctx, req)
		require.NoError(t, err)
	})

	t.Run("Decline", func(t *testing.T) {
		a := NewXenditAdapter(xenditCreds(), Options{Transport: MockRoundTripper(func(req *http.Request) *http.Response {
			return jsonResponse(http.StatusBadRequest, `{"error_code": "INSUFFICIENT_BALANCE", "message": "not enough funds"}`)
		})})

		res, err := a.CreatePayment(ctx, canonicalRequest(models.MethodEWallet))
		require.NoError(t, err)
		assert.Equal(t, models.StatusDeclined, res.Status)
		assert.Equal(t, "not enough funds", res.DeclineReason)
	})

	t.Run("ServerError", func(t *testing.T) {
		a := NewXenditAdapter(xenditCreds(), Options{Transport: MockRoundTripper(func(req *http.Request) *http.Response {
			return jsonResponse(http.StatusServiceUnavailable, `{"error_code": "SERVER_ERROR"}`)
		})})

		_, err := a.CreatePayment(ctx, canonicalRequest(models.MethodQRIS))
		var unavailableErr *ProviderUnavailableError
		require.ErrorAs(t, err, &unavailableErr)
		assert.Equal(t, http.StatusServiceUnavailable, unavailableErr.StatusCode)
		assert.Equal(t, models.GatewayXendit, unavailableErr.Gateway)
	})

	t.Run("NetworkError", func(t *testing.T) {
		a := NewXenditAdapter(xenditCreds(), Options{Transport: MockRoundTripperWithError(func(req *http.Request) (*http.Response, error) {
			return nil, errors.New("connection refused")
		})})

		_, err := a.CreatePayment(ctx, canonicalRequest(models.MethodQRIS))
		var unavailableErr *ProviderUnavailableError
		require.ErrorAs(t, err, &unavailableErr)
		assert.Contains(t, err.Error(), "connection refused")
	})

	t.Run("InvalidJSONResponse", func(t *testing.T) {
		a := NewXenditAdapter(xenditCreds(), Options{Transport: MockRoundTripper(func(req *http.Request) *http.Response {
			return jsonResponse(http.StatusOK, `{invalid-json`)
		})})

		_, err := a.CreatePayment(ctx, canonicalRequest(models.MethodQRIS))
		var unavailableErr *ProviderUnavailableError
		assert.ErrorAs(t, err, &unavailableErr)
	})

	t.Run("UnknownMethod", func(t *testing.T) {
		a := NewXenditAdapter(xenditCreds(), Options{})
		_, err := a.CreatePayment(ctx, canonicalRequest(models.MethodCrypto))
		assert.Error(t, err)
	})
}

func TestXenditAdapter_GetStatus(t *testing.T) {
	a := NewXenditAdapter(xenditCreds(), Options{Transport: MockRoundTripper(func(req *http.Request) *http.Response {
		assert.Equal(t, http.MethodGet, req.Method)
		assert.Equal(t, "/v3/payment_requests/pr-123", req.URL.Path)
		return jsonResponse(http.StatusOK, `{"payment_request_id": "pr-123", "status": "SUCCEEDED"}`)
	})})

	status, err := a.GetStatus(context.Background(), "pr-123")
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, status)
}

func TestXenditAdapter_Webhook(t *testing.T) {
	a := NewXenditAdapter(xenditCreds(), Options{})
	payload := []byte(`{"event": "payment.capture", "data": {"payment_request_id": "pr-123", "status": "SUCCEEDED"}}`)

	assert.True(t, a.VerifyWebhook(payload, "cb-token", xenditCreds()))
	assert.False(t, a.VerifyWebhook(payload, "wrong", xenditCreds()))
	assert.False(t, a.VerifyWebhook(payload, "", xenditCreds()))

	res, err := a.NormalizeWebhook(payload)
	require.NoError(t, err)
	assert.Equal(t, "pr-123", res.ProviderReference)
	assert.Equal(t, models.StatusApproved, res.Status)

	_, err = a.NormalizeWebhook([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformedPayload)
	_, err = a.NormalizeWebhook([]byte(`{"data": {}}`))
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestNOWPaymentsAdapter_CreatePayment(t *testing.T) {
	ctx := context.Background()

	t.Run("Pending", func(t *testing.T) {
		a := NewNOWPaymentsAdapter(nowPaymentsCreds(), Options{Transport: MockRoundTripper(func(req *http.Request) *http.Response {
			assert.Equal(t, "https://api-sandbox.nowpayments.io/v1/invoice", req.URL.String())
			assert.Equal(t, "np-key", req.Header.Get("x-api-key"))

			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			assert.Equal(t, "intent-1-1", body["order_id"])
			assert.Equal(t, "usd", body["price_currency"])

			return jsonResponse(http.StatusOK, `{"id": "4522625843", "order_id": "intent-1-1", "invoice_url": "https://nowpayments.io/payment/?iid=4522625843"}`)
		})})

		req := canonicalRequest(models.MethodCrypto)
		req.Currency = "USD"
		res, err := a.CreatePayment(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, "4522625843", res.ProviderReference)
		assert.Equal(t, models.StatusPending, res.Status)
		assert.Equal(t, "https://nowpayments.io/payment/?iid=4522625843", res.Payload["invoice_url"])
	})

	t.Run("NumericID", func(t *testing.T) {
		a := NewNOWPaymentsAdapter(nowPaymentsCreds(), Options{Transport: MockRoundTripper(func(req *http.Request) *http.Response {
			return jsonResponse(http.StatusOK, `{"id": 77, "invoice_url": "https://nowpayments.io/payment/?iid=77"}`)
		})})

		res, err := a.CreatePayment(ctx, canonicalRequest(models.MethodCrypto))
		require.NoError(t, err)
		assert.Equal(t, "77", res.ProviderReference)
	})

	t.Run("Decline", func(t *testing.T) {
		a := NewNOWPaymentsAdapter(nowPaymentsCreds(), Options{Transport: MockRoundTripper(func(req *http.Request) *http.Response {
			return jsonResponse(http.StatusBadRequest, `{"code": "AMOUNT_MINIMAL_ERROR", "message": "amount is too small"}`)
		})})

		res, err := a.CreatePayment(ctx, canonicalRequest(models.MethodCrypto))
		require.NoError(t, err)
		assert.Equal(t, models.StatusDeclined, res.Status)
	})

	t.Run("Unauthorized", func(t *testing.T) {
		a := NewNOWPaymentsAdapter(nowPaymentsCreds(), Options{Transport: MockRoundTripper(func(req *http.Request) *http.Response {
			return jsonResponse(http.StatusUnauthorized, `{"code": "INVALID_API_KEY"}`)
		})})

		_, err := a.CreatePayment(ctx, canonicalRequest(models.MethodCrypto))
		var unavailableErr *ProviderUnavailableError
		require.ErrorAs(t, err, &unavailableErr)
		assert.Equal(t, http.StatusUnauthorized, unavailableErr.StatusCode)
	})
}

func TestNOWPaymentsAdapter_GetStatus(t *testing.T) {
	t.Run("LatestPayment", func(t *testing.T) {
		a := NewNOWPaymentsAdapter(nowPaymentsCreds(), nowPaymentsStatusServer(t, func(req *http.Request) *http.Response {
			assert.Equal(t, "/v1/payment/", req.URL.Path)
			assert.Equal(t, "77", req.URL.Query().Get("invoiceId"))
			return jsonResponse(http.StatusOK, `{"data": [{"payment_id": 1, "invoice_id": 77, "payment_status": "finished"}]}`)
		}))

		status, err := a.GetStatus(context.Background(), "77")
		require.NoError(t, err)
		assert.Equal(t, models.StatusApproved, status)
	})

	t.Run("NoPaymentYet", func(t *testing.T) {
		a := NewNOWPaymentsAdapter(nowPaymentsCreds(), nowPaymentsStatusServer(t, func(req *http.Request) *http.Response {
			return jsonResponse(http.StatusOK, `{"data": []}`)
		}))

		status, err := a.GetStatus(context.Background(), "77")
		require.NoError(t, err)
		assert.Equal(t, models.StatusPending, status)
	})

	t.Run("Unmapped", func(t *testing.T) {
		a := NewNOWPaymentsAdapter(nowPaymentsCreds(), nowPaymentsStatusServer(t, func(req *http.Request) *http.Response {
			return jsonResponse(http.StatusOK, `{"data": [{"payment_status": "something_new"}]}`)
		}))

		_, err := a.GetStatus(context.Background(), "77")
		assert.ErrorIs(t, err, ErrUnmappedStatus)
	})

	t.Run("NoLogin", func(t *testing.T) {
		creds := NewCredentials(models.GatewayNOWPayments, models.EnvSandbox, map[string]string{"api_key": "np-key", "ipn_secret": "np-ipn"})
		a := NewNOWPaymentsAdapter(creds, Options{Transport: MockRoundTripper(func(req *http.Request) *http.Response {
			t.Errorf("unexpected request to %s", req.URL)
			return jsonResponse(http.StatusInternalServerError, `{}`)
		})})

		_, err := a.GetStatus(context.Background(), "77")
		assert.ErrorIs(t, err, ErrStatusLoginMissing)
		var unavailableErr *ProviderUnavailableError
		assert.ErrorAs(t, err, &unavailableErr)
	})

	t.Run("AuthRejected", func(t *testing.T) {
		a := NewNOWPaymentsAdapter(nowPaymentsCreds(), Options{Transport: MockRoundTripper(func(req *http.Request) *http.Response {
			assert.Equal(t, "/v1/auth", req.URL.Path)
			return jsonResponse(http.StatusUnauthorized, `{"message": "bad login"}`)
		})})

		_, err := a.GetStatus(context.Background(), "77")
		var unavailableErr *ProviderUnavailableError
		require.ErrorAs(t, err, &unavailableErr)
		assert.Equal(t, http.StatusUnauthorized, unavailableErr.StatusCode)
	})
}

func TestNOWPaymentsAdapter_Webhook(t *testing.T) {
	a := NewNOWPaymentsAdapter(nowPaymentsCreds(), Options{})
	payload := []byte(`{"payment_status":"finished","invoice_id":77,"payment_id":5077125051,"order_id":"intent-1-1","price_amount":10.5}`)

	sorted, err := sortedJSON(payload)
	require.NoError(t, err)
	assert.Equal(t, `{"invoice_id":77,"order_id":"intent-1-1","payment_id":5077125051,"payment_status":"finished","price_amount":10.5}`, string(sorted))

	sig := nowPaymentsSignature(sorted, "np-ipn")
	assert.True(t, a.VerifyWebhook(payload, sig, nowPaymentsCreds()))
	assert.False(t, a.VerifyWebhook(payload, "deadbeef", nowPaymentsCreds()))
	assert.False(t, a.VerifyWebhook([]byte(`{broken`), sig, nowPaymentsCreds()))
	assert.False(t, a.VerifyWebhook(payload, sig, NewCredentials(models.GatewayNOWPayments, "", nil)))

	res, err := a.NormalizeWebhook(payload)
	require.NoError(t, err)
	assert.Equal(t, "77", res.ProviderReference)
	assert.Equal(t, models.StatusApproved, res.Status)

	res, err = a.NormalizeWebhook([]byte(`{"invoice_id": 77, "payment_status": "refunded"}`))
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeclined, res.Status)
}

func TestMidtransAdapter_CreatePayment(t *testing.T) {
	t.Run("Pending", func(t *testing.T) {
		a := NewMidtransAdapter(midtransCreds(), Options{Transport: MockRoundTripper(func(req *http.Request) *http.Response {
			assert.Equal(t, http.MethodPost, req.Method)
			assert.Contains(t, req.URL.String(), "/snap/v1/transactions")

			user, _, ok := req.BasicAuth()
			assert.True(t, ok)
			assert.Equal(t, "SB-Mid-server-abc", user)

			return jsonResponse(http.StatusCreated, `{"token": "snap-token", "redirect_url": "https://app.sandbox.midtrans.com/snap/v4/redirection/snap-token"}`)
		})})

		res, err := a.CreatePayment(context.Background(), canonicalRequest(models.MethodQRIS))
		require.NoError(t, err)
		assert.Equal(t, "intent-1-1", res.ProviderReference)
		assert.Equal(t, models.StatusPending, res.Status)
		assert.Equal(t, "snap-token", res.Payload["token"])
	})

	t.Run("ServerError", func(t *testing.T) {
		a := NewMidtransAdapter(midtransCreds(), Options{Transport: MockRoundTripper(func(req *http.Request) *http.Response {
			return jsonResponse(http.StatusServiceUnavailable, `{"error_messages": ["unavailable"]}`)
		})})

		_, err := a.CreatePayment(context.Background(), canonicalRequest(models.MethodQRIS))
		var unavailableErr *ProviderUnavailableError
		require.ErrorAs(t, err, &unavailableErr)
		assert.Equal(t, models.GatewayMidtrans, unavailableErr.Gateway)
	})

	t.Run("FractionalAmount", func(t *testing.T) {
		a := NewMidtransAdapter(midtransCreds(), Options{})
		req := canonicalRequest(models.MethodQRIS)
		req.Amount = decimal.RequireFromString("10.50")
		_, err := a.CreatePayment(context.Background(), req)
		assert.Error(t, err)
	})
}

func TestMidtransAdapter_Webhook(t *testing.T) {
	a := NewMidtransAdapter(midtransCreds(), Options{})

	sum := sha512.Sum512([]byte("intent-1-1" + "200" + "150000.00" + "SB-Mid-server-abc"))
	notification := map[string]string{
		"order_id":           "intent-1-1",
		"status_code":        "200",
		"gross_amount":       "150000.00",
		"signature_key":      hex.EncodeToString(sum[:]),
		"transaction_status": "settlement",
	}
	payload, _ := json.Marshal(notification)

	assert.True(t, a.VerifyWebhook(payload, "", midtransCreds()))

	notification["gross_amount"] = "1.00"
	tampered, _ := json.Marshal(notification)
	assert.False(t, a.VerifyWebhook(tampered, "", midtransCreds()))
	assert.False(t, a.VerifyWebhook([]byte(`[]`), "", midtransCreds()))
	assert.False(t, a.VerifyWebhook(nil, "", midtransCreds()))

	res, err := a.NormalizeWebhook(payload)
	require.NoError(t, err)
	assert.Equal(t, "intent-1-1", res.ProviderReference)
	assert.Equal(t, models.StatusApproved, res.Status)
}

func TestStatusMappings(t *testing.T) {
	midtransCases := []struct {
		status, fraud string
		want          models.Status
	}{
		{"settlement", "", models.StatusApproved},
		{"capture", "accept", models.StatusApproved},
		{"capture", "challenge", models.StatusPending},
		{"pending", "", models.StatusPending},
		{"deny", "", models.StatusDeclined},
		{"cancel", "", models.StatusDeclined},
		{"expire", "", models.StatusExpired},
		{"failure", "", models.StatusFailed},
		{"refund", "", ""},
	}
	for _, tc := range midtransCases {
		assert.Equal(t, tc.want, midtransStatus(tc.status, tc.fraud), "midtrans %s/%s", tc.status, tc.fraud)
	}

	assert.Equal(t, models.StatusPending, xenditStatus("REQUIRES_ACTION"))
	assert.Equal(t, models.StatusDeclined, xenditStatus("FAILED"))
	assert.Equal(t, models.StatusExpired, xenditStatus("EXPIRED"))
	assert.Equal(t, models.Status(""), xenditStatus("REFUNDED"))

	assert.Equal(t, models.StatusPending, nowPaymentsStatus("confirming"))
	assert.Equal(t, models.StatusFailed, nowPaymentsStatus("failed"))
	assert.Equal(t, models.StatusDeclined, nowPaymentsStatus("partially_paid"))
}
