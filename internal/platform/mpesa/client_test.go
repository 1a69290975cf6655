package mpesa

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/salary-advance-lending/internal/config"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	tokenCalls int32
	b2cCalls   int32
	b2cStatus  int
	b2cBody    string
	b2cDelay   time.Duration
	lastB2C    b2cPayload
}

func (g *fakeGateway) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&g.tokenCalls, 1)
		user, pass, ok := r.BasicAuth()
		if !ok || user != "consumer-key" || pass != "consumer-secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, `{"access_token":"access-123","expires_in":"3599"}`)
	})
	mux.HandleFunc("/mpesa/b2c/v3/paymentrequest", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&g.b2cCalls, 1)
		assert.Equal(t, "Bearer access-123", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&g.lastB2C))
		if g.b2cDelay > 0 {
			select {
			case <-time.After(g.b2cDelay):
			case <-r.Context().Done():
				return
			}
		}
		w.WriteHeader(g.b2cStatus)
		_, _ = io.WriteString(w, g.b2cBody)
	})
	mux.HandleFunc("/mpesa/accountbalance/v1/query", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"OriginatorConversationID":"bal-1","ConversationID":"AG_bal","ResponseCode":"0","ResponseDescription":"Accept the service request successfully."}`)
	})
	return mux
}

func newTestClient(t *testing.T, baseURL string) *Client {
	_, pemBytes := generateKeyPEM(t)
	public, err := ParsePublicKey(pemBytes)
	require.NoError(t, err)

	return NewClient(slog.New(slog.NewTextHandler(io.Discard, nil)), &config.MpesaConfig{
		BaseURL:          baseURL,
		CallbackBaseURL:  "https://lending.example.com/",
		RequestTimeout:   200 * time.Millisecond,
		TokenTimeout:     time.Second,
		TokenExpiryGuard: time.Minute,
	}, public)
}

func testCredentials() Credentials {
	return Credentials{
		ShortCode:         "600000",
		ConsumerKey:       "consumer-key",
		ConsumerSecret:    "consumer-secret",
		InitiatorName:     "apiop",
		InitiatorPassword: "initiator-pass",
	}
}

func TestClient_Disburse(t *testing.T) {
	tenantID := uuid.New()

	t.Run("Accepted", func(t *testing.T) {
		gw := &fakeGateway{
			b2cStatus: http.StatusOK,
			b2cBody:   `{"ConversationID":"AG_20260401_0001","OriginatorConversationID":"tok-1","ResponseCode":"0","ResponseDescription":"Accept the service request successfully."}`,
		}
		server := httptest.NewServer(gw.handler(t))
		defer server.Close()
		client := newTestClient(t, server.URL)

		req := DisburseRequest{TenantID: tenantID, Phone: "0722123456", Amount: decimal.NewFromInt(20000), Token: "tok-1"}
		first := client.Disburse(context.Background(), req, testCredentials())
		second := client.Disburse(context.Background(), req, testCredentials())

		require.Nil(t, first.Error)
		assert.True(t, first.Accepted)
		assert.Equal(t, "tok-1", first.Token)
		assert.Equal(t, "AG_20260401_0001", first.ConversationID)
		assert.True(t, second.Accepted)
		assert.Equal(t, int32(1), atomic.LoadInt32(&gw.tokenCalls), "access token must be cached")

		assert.Equal(t, "254722123456", gw.lastB2C.PartyB)
		assert.Equal(t, "600000", gw.lastB2C.PartyA)
		assert.Equal(t, "20000", gw.lastB2C.Amount)
		assert.Equal(t, "BusinessPayment", gw.lastB2C.CommandID)
		assert.NotEmpty(t, gw.lastB2C.SecurityCredential)
		assert.Equal(t, "https://lending.example.com/api/v1/webhooks/mpesa/"+tenantID.String()+"/b2c/result", gw.lastB2C.ResultURL)
	})

	t.Run("ValidationFailsBeforeAnyNetworkCall", func(t *testing.T) {
		gw := &fakeGateway{}
		server := httptest.NewServer(gw.handler(t))
		defer server.Close()
		client := newTestClient(t, server.URL)

		result := client.Disburse(context.Background(), DisburseRequest{Phone: "12345", Amount: decimal.NewFromInt(100)}, testCredentials())
		require.NotNil(t, result.Error)
		assert.Equal(t, ErrKindValidation, result.Error.Kind)
		assert.NotEmpty(t, result.Token, "a token is generated even when validation fails")

		result = client.Disburse(context.Background(), DisburseRequest{Phone: "0722123456", Amount: decimal.Zero}, testCredentials())
		require.NotNil(t, result.Error)
		assert.Equal(t, ErrKindValidation, result.Error.Kind)

		// fractional amounts are refused, never rounded
		result = client.Disburse(context.Background(), DisburseRequest{Phone: "0722123456", Amount: decimal.RequireFromString("100.50")}, testCredentials())
		require.NotNil(t, result.Error)
		assert.Equal(t, ErrKindValidation, result.Error.Kind)
		assert.Contains(t, result.Error.Message, "100.5")
		assert.False(t, result.Accepted)

		assert.Zero(t, atomic.LoadInt32(&gw.tokenCalls))
		assert.Zero(t, atomic.LoadInt32(&gw.b2cCalls))
	})

	t.Run("UnrecognizedResponse", func(t *testing.T) {
		gw := &fakeGateway{b2cStatus: http.StatusOK, b2cBody: `{"requestId":"abc"}`}
		server := httptest.NewServer(gw.handler(t))
		defer server.Close()
		client := newTestClient(t, server.URL)

		result := client.Disburse(context.Background(), DisburseRequest{Phone: "0722123456", Amount: decimal.NewFromInt(50), Token: "tok-2"}, testCredentials())
		assert.False(t, result.Accepted)
		require.NotNil(t, result.Error)
		assert.Equal(t, ErrKindUnrecognized, result.Error.Kind)
		assert.Equal(t, "tok-2", result.Token)
	})

	t.Run("NonJSONResponse", func(t *testing.T) {
		gw := &fakeGateway{b2cStatus: http.StatusBadGateway, b2cBody: `<html>upstream</html>`}
		server := httptest.NewServer(gw.handler(t))
		defer server.Close()
		client := newTestClient(t, server.URL)

		result := client.Disburse(context.Background(), DisburseRequest{Phone: "0722123456", Amount: decimal.NewFromInt(50)}, testCredentials())
		require.NotNil(t, result.Error)
		assert.Equal(t, ErrKindUnrecognized, result.Error.Kind)
	})

	t.Run("GatewayError", func(t *testing.T) {
		gw := &fakeGateway{b2cStatus: http.StatusBadRequest, b2cBody: `{"requestId":"r1","errorCode":"400.002.02","errorMessage":"Bad Request - Invalid Amount"}`}
		server := httptest.NewServer(gw.handler(t))
		defer server.Close()
		client := newTestClient(t, server.URL)

		result := client.Disburse(context.Background(), DisburseRequest{Phone: "0722123456", Amount: decimal.NewFromInt(50)}, testCredentials())
		require.NotNil(t, result.Error)
		assert.Equal(t, ErrKindRejected, result.Error.Kind)
		assert.Contains(t, result.Error.Error(), "Invalid Amount")
	})

	t.Run("Timeout", func(t *testing.T) {
		gw := &fakeGateway{b2cStatus: http.StatusOK, b2cBody: `{"ResponseCode":"0"}`, b2cDelay: time.Second}
		server := httptest.NewServer(gw.handler(t))
		defer server.Close()
		client := newTestClient(t, server.URL)

		result := client.Disburse(context.Background(), DisburseRequest{Phone: "0722123456", Amount: decimal.NewFromInt(50), Token: "tok-3"}, testCredentials())
		assert.False(t, result.Accepted)
		require.NotNil(t, result.Error)
		assert.Equal(t, ErrKindTimeout, result.Error.Kind)
		assert.Equal(t, "tok-3", result.Token)
	})

	t.Run("BadConsumerCredentials", func(t *testing.T) {
		gw := &fakeGateway{}
		server := httptest.NewServer(gw.handler(t))
		defer server.Close()
		client := newTestClient(t, server.URL)

		creds := testCredentials()
		creds.ConsumerSecret = "wrong"
		result := client.Disburse(context.Background(), DisburseRequest{Phone: "0722123456", Amount: decimal.NewFromInt(50)}, creds)
		require.NotNil(t, result.Error)
		assert.Equal(t, ErrKindAuthentication, result.Error.Kind)
		assert.Zero(t, atomic.LoadInt32(&gw.b2cCalls))
	})

	t.Run("Unreachable", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		url := server.URL
		server.Close()
		client := newTestClient(t, url)

		result := client.Disburse(context.Background(), DisburseRequest{Phone: "0722123456", Amount: decimal.NewFromInt(50)}, testCredentials())
		require.NotNil(t, result.Error)
		assert.Equal(t, ErrKindTransport, result.Error.Kind)
	})
}

func TestClient_QueryAccountBalance(t *testing.T) {
	gw := &fakeGateway{}
	server := httptest.NewServer(gw.handler(t))
	defer server.Close()
	client := newTestClient(t, server.URL)

	query, err := client.QueryAccountBalance(context.Background(), uuid.New(), testCredentials())
	require.NoError(t, err)
	assert.Equal(t, "AG_bal", query.ConversationID)
	assert.Equal(t, "bal-1", query.OriginatorConversationID)
}
