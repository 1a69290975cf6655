package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	lending "github.com/salary-advance-lending/internal/lending/service"
	"github.com/salary-advance-lending/internal/platform/mpesa"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const b2cResultBody = `{
  "Result": {
    "ResultType": 0,
    "ResultCode": 0,
    "ResultDesc": "The service request is processed successfully.",
    "OriginatorConversationID": "9f0a7c8e-1111-4d7c-9a57-2c2a3a0b1d11",
    "ConversationID": "AG_20240105_00004e5e1c2a8b1c6d34",
    "TransactionID": "RKTQDM7W6S",
    "ResultParameters": {
      "ResultParameter": [
        {"Key": "TransactionAmount", "Value": 1000},
        {"Key": "TransactionReceipt", "Value": "RKTQDM7W6S"}
      ]
    }
  }
}`

func newWebhookRouter(h *WebhookHandler) *gin.Engine {
	router := setupTestRouter(nil)
	hooks := router.Group("/webhooks/mpesa/:tenant_id")
	hooks.POST("/b2c/result", h.B2CResult)
	hooks.POST("/b2c/timeout", h.B2CTimeout)
	hooks.POST("/balance/result", h.BalanceResult)
	hooks.POST("/balance/timeout", h.BalanceTimeout)
	hooks.POST("/c2b/validation", h.C2BValidation)
	hooks.POST("/c2b/confirmation", h.C2BConfirmation)
	return router
}

func assertAccepted(t *testing.T, rr *httptest.ResponseRecorder) {
	t.Helper()
	assertAcknowledged(t, rr, mpesa.Accepted())
}

func assertAcknowledged(t *testing.T, rr *httptest.ResponseRecorder, want mpesa.AcceptedResponse) {
	t.Helper()
	assert.Equal(t, http.StatusOK, rr.Code)
	var ack mpesa.AcceptedResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &ack))
	assert.Equal(t, want, ack)
}

func TestWebhookHandler_GatewayResults(t *testing.T) {
	tenantID := uuid.New()
	matchResult := mock.MatchedBy(func(r mpesa.Result) bool {
		return r.OriginatorConversationID == "9f0a7c8e-1111-4d7c-9a57-2c2a3a0b1d11" && r.TransactionID == "RKTQDM7W6S"
	})

	tests := []struct {
		name       string
		path       string
		method     string
		body       string
		outcome    lending.CallbackOutcome
		serviceErr error
		wantAck    mpesa.AcceptedResponse
	}{
		{"ResultProcessed", "/b2c/result", "HandleResult", b2cResultBody, lending.CallbackProcessed, nil, mpesa.Accepted()},
		{"ResultAlreadyProcessed", "/b2c/result", "HandleResult", b2cResultBody, lending.CallbackAlreadyProcessed, nil, mpesa.AlreadyProcessed()},
		{"ResultServiceFailureStillAccepted", "/b2c/result", "HandleResult", b2cResultBody, "", errors.New("db down"), mpesa.Accepted()},
		{"TimeoutUnmatched", "/b2c/timeout", "HandleTimeout", b2cResultBody, lending.CallbackUnmatched, nil, mpesa.Accepted()},
		{"TimeoutAlreadyProcessed", "/b2c/timeout", "HandleTimeout", b2cResultBody, lending.CallbackAlreadyProcessed, nil, mpesa.AlreadyProcessed()},
		{"BalanceStored", "/balance/result", "HandleBalance", b2cResultBody, lending.CallbackProcessed, nil, mpesa.Accepted()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			callbacks := new(MockCallbackService)
			h := NewWebhookHandler(discardLogger(), callbacks, new(MockC2BIngressService))
			callbacks.On(tt.method, mock.Anything, tenantID, matchResult).Return(tt.outcome, tt.serviceErr).Once()

			req, _ := http.NewRequest(http.MethodPost, "/webhooks/mpesa/"+tenantID.String()+tt.path, bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rr := httptest.NewRecorder()
			newWebhookRouter(h).ServeHTTP(rr, req)

			assertAcknowledged(t, rr, tt.wantAck)
			callbacks.AssertExpectations(t)
		})
	}
}

func TestWebhookHandler_UnusableCallbacksAreAcknowledged(t *testing.T) {
	tests := []struct {
		name string
		path string
		body string
	}{
		{"MalformedResult", "/webhooks/mpesa/" + uuid.NewString() + "/b2c/result", `{"Result":`},
		{"InvalidTenant", "/webhooks/mpesa/not-a-tenant/b2c/result", b2cResultBody},
		{"InvalidTenantConfirmation", "/webhooks/mpesa/not-a-tenant/c2b/confirmation", `{"TransID":"X"}`},
		{"MalformedConfirmation", "/webhooks/mpesa/" + uuid.NewString() + "/c2b/confirmation", `[]`},
		{"BalanceTimeout", "/webhooks/mpesa/" + uuid.NewString() + "/balance/timeout", b2cResultBody},
		{"Validation", "/webhooks/mpesa/" + uuid.NewString() + "/c2b/validation", `{"TransID":"X"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			callbacks := new(MockCallbackService)
			ingress := new(MockC2BIngressService)
			h := NewWebhookHandler(discardLogger(), callbacks, ingress)

			req, _ := http.NewRequest(http.MethodPost, tt.path, bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rr := httptest.NewRecorder()
			newWebhookRouter(h).ServeHTTP(rr, req)

			assertAccepted(t, rr)
			callbacks.AssertExpectations(t)
			ingress.AssertExpectations(t)
		})
	}
}

func TestWebhookHandler_C2BConfirmation(t *testing.T) {
	tenantID := uuid.New()
	body := `{
  "TransactionType": "Pay Bill",
  "TransID": "RKL1ABCD23",
  "TransTime": "20240105143000",
  "TransAmount": "1500.00",
  "BusinessShortCode": "600638",
  "BillRefNumber": "0712345678",
  "MSISDN": "254712345678",
  "FirstName": "JANE"
}`
	matchConfirmation := mock.MatchedBy(func(c mpesa.C2BConfirmation) bool {
		return c.TransID == "RKL1ABCD23" && c.TransAmount == "1500.00" && c.BillRefNumber == "0712345678"
	})

	for _, forwardErr := range []error{nil, errors.New("broker unavailable")} {
		ingress := new(MockC2BIngressService)
		h := NewWebhookHandler(discardLogger(), new(MockCallbackService), ingress)
		ingress.On("Forward", mock.Anything, tenantID, matchConfirmation).Return(forwardErr).Once()

		req, _ := http.NewRequest(http.MethodPost, "/webhooks/mpesa/"+tenantID.String()+"/c2b/confirmation", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		newWebhookRouter(h).ServeHTTP(rr, req)

		assertAccepted(t, rr)
		ingress.AssertExpectations(t)
	}
}
