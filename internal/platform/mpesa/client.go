// Package mpesa is the client for the M-Pesa B2C, account balance and OAuth endpoints,
// plus the wire shapes of the callbacks the gateway posts back.
package mpesa

import (
	"bytes"
	"context"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/salary-advance-lending/internal/config"
	"github.com/shopspring/decimal"
)

const (
	tokenPath          = "/oauth/v1/generate?grant_type=client_credentials"
	b2cPath            = "/mpesa/b2c/v3/paymentrequest"
	accountBalancePath = "/mpesa/accountbalance/v1/query"

	defaultCommandID = "BusinessPayment"
	maxBodyBytes     = 1 << 20
)

// ErrorKind classifies why a gateway call did not produce an accepted request
type ErrorKind string

const (
	ErrKindValidation     ErrorKind = "VALIDATION"
	ErrKindCredential     ErrorKind = "CREDENTIAL"
	ErrKindAuthentication ErrorKind = "AUTHENTICATION"
	ErrKindTransport      ErrorKind = "TRANSPORT"
	ErrKindTimeout        ErrorKind = "TIMEOUT"
	ErrKindRejected       ErrorKind = "REJECTED"
	ErrKindUnrecognized   ErrorKind = "UNRECOGNIZED_RESPONSE"
)

type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("mpesa %s: %s: %v", strings.ToLower(string(e.Kind)), e.Message, e.Err)
	}
	return fmt.Sprintf("mpesa %s: %s", strings.ToLower(string(e.Kind)), e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Credentials are a tenant's gateway credentials
type Credentials struct {
	ShortCode         string
	ConsumerKey       string
	ConsumerSecret    string
	InitiatorName     string
	InitiatorPassword string
}

func (c Credentials) tokenKey() string {
	sum := sha256.Sum256([]byte(c.ConsumerKey + "\x00" + c.ConsumerSecret))
	return hex.EncodeToString(sum[:])
}

type DisburseRequest struct {
	TenantID uuid.UUID
	Phone    string
	Amount   decimal.Decimal
	Token    string // originator conversation id; generated when empty
	Occasion string
}

// DisburseResult always carries the idempotency token, whatever happened to the call
type DisburseResult struct {
	Token                    string
	Accepted                 bool
	ConversationID           string
	OriginatorConversationID string
	ResponseCode             string
	ResponseDescription      string
	WorkingAvailable         decimal.NullDecimal
	UtilityAvailable         decimal.NullDecimal
	Raw                      map[string]interface{}
	Error                    *Error
}

type BalanceQuery struct {
	ConversationID           string
	OriginatorConversationID string
}

type Client struct {
	baseURL         string
	callbackBaseURL string
	commandID       string
	remarks         string
	requestTimeout  time.Duration
	tokenTimeout    time.Duration
	tokenGuard      time.Duration
	publicKey       *rsa.PublicKey
	httpClient      *http.Client
	tokens          *TokenCache
	logger          *slog.Logger
}

func NewClient(logger *slog.Logger, cfg *config.MpesaConfig, publicKey *rsa.PublicKey) *Client {
	commandID := cfg.CommandID
	if commandID == "" {
		commandID = defaultCommandID
	}

	return &Client{
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		callbackBaseURL: strings.TrimRight(cfg.CallbackBaseURL, "/"),
		commandID:       commandID,
		remarks:         cfg.Remarks,
		requestTimeout:  cfg.RequestTimeout,
		tokenTimeout:    cfg.TokenTimeout,
		tokenGuard:      cfg.TokenExpiryGuard,
		publicKey:       publicKey,
		httpClient:      &http.Client{},
		tokens:          NewTokenCache(),
		logger:          logger,
	}
}

type b2cPayload struct {
	OriginatorConversationID string `json:"OriginatorConversationID"`
	InitiatorName            string `json:"InitiatorName"`
	SecurityCredential       string `json:"SecurityCredential"`
	CommandID                string `json:"CommandID"`
	Amount                   string `json:"Amount"`
	PartyA                   string `json:"PartyA"`
	PartyB                   string `json:"PartyB"`
	Remarks                  string `json:"Remarks"`
	QueueTimeOutURL          string `json:"QueueTimeOutURL"`
	ResultURL                string `json:"ResultURL"`
	Occasion                 string `json:"Occasion,omitempty"`
}

// Disburse sends a B2C payment request. It never returns a Go error: every failure is reported in
// DisburseResult.Error next to the idempotency token.
func (c *Client) Disburse(ctx context.Context, req DisburseRequest, creds Credentials) (result DisburseResult) {
	result.Token = req.Token
	if result.Token == "" {
		result.Token = uuid.NewString()
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Recovered from panic in gateway client", "token", result.Token, "panic", r)
			result.Accepted = false
			result.Error = &Error{Kind: ErrKindTransport, Message: fmt.Sprintf("unexpected failure: %v", r)}
		}
	}()

	if !req.Amount.IsPositive() {
		result.Error = &Error{Kind: ErrKindValidation, Message: "amount must be greater than zero"}
		return result
	}
	// B2C only moves whole shillings
	if !req.Amount.IsInteger() {
		result.Error = &Error{Kind: ErrKindValidation, Message: fmt.Sprintf("amount %s is not a whole number", req.Amount.String())}
		return result
	}
	phone, ok := NormalizeInternational(req.Phone)
	if !ok {
		result.Error = &Error{Kind: ErrKindValidation, Message: fmt.Sprintf("unrecognized phone number %q", req.Phone)}
		return result
	}
	if creds.ShortCode == "" || creds.InitiatorName == "" {
		result.Error = &Error{Kind: ErrKindCredential, Message: "tenant gateway credentials are incomplete"}
		return result
	}

	accessToken, gwErr := c.accessToken(ctx, creds)
	if gwErr != nil {
		result.Error = gwErr
		return result
	}

	credential, err := SecurityCredential(creds.InitiatorPassword, c.publicKey)
	if err != nil {
		result.Error = &Error{Kind: ErrKindCredential, Message: "failed to build security credential", Err: err}
		return result
	}

	payload := b2cPayload{
		OriginatorConversationID: result.Token,
		InitiatorName:            creds.InitiatorName,
		SecurityCredential:       credential,
		CommandID:                c.commandID,
		Amount:                   req.Amount.Truncate(0).String(),
		PartyA:                   creds.ShortCode,
		PartyB:                   phone,
		Remarks:                  c.remarksOr("Salary advance"),
		QueueTimeOutURL:          B2CTimeoutURL(c.callbackBaseURL, req.TenantID),
		ResultURL:                B2CResultURL(c.callbackBaseURL, req.TenantID),
		Occasion:                 req.Occasion,
	}

	raw, status, gwErr := c.post(ctx, b2cPath, accessToken, payload, creds)
	result.Raw = raw
	if gwErr != nil {
		result.Error = gwErr
		return result
	}

	result.ConversationID = stringField(raw, "ConversationID")
	result.OriginatorConversationID = stringField(raw, "OriginatorConversationID")
	result.ResponseCode = stringField(raw, "ResponseCode")
	result.ResponseDescription = stringField(raw, "ResponseDescription")
	result.WorkingAvailable = amountField(raw, ParamWorkingAvailableFunds)
	result.UtilityAvailable = amountField(raw, ParamUtilityAvailableFunds)

	switch {
	case result.ResponseCode == "0":
		result.Accepted = true
		c.logger.Info("Disbursement request accepted by gateway",
			"token", result.Token,
			"conversation_id", result.ConversationID,
		)
	case result.ResponseCode != "":
		result.Error = &Error{Kind: ErrKindRejected, Message: fmt.Sprintf("gateway responded %s: %s", result.ResponseCode, result.ResponseDescription)}
	case stringField(raw, "errorCode") != "":
		result.Error = &Error{Kind: ErrKindRejected, Message: fmt.Sprintf("gateway error %s: %s", stringField(raw, "errorCode"), stringField(raw, "errorMessage"))}
	default:
		result.Error = &Error{Kind: ErrKindUnrecognized, Message: fmt.Sprintf("response without a result indicator (http %d)", status)}
	}
	return result
}

// QueryAccountBalance asks the gateway to push the tenant's balances to the balance result webhook
func (c *Client) QueryAccountBalance(ctx context.Context, tenantID uuid.UUID, creds Credentials) (*BalanceQuery, error) {
	accessToken, gwErr := c.accessToken(ctx, creds)
	if gwErr != nil {
		return nil, gwErr
	}

	credential, err := SecurityCredential(creds.InitiatorPassword, c.publicKey)
	if err != nil {
		return nil, &Error{Kind: ErrKindCredential, Message: "failed to build security credential", Err: err}
	}

	payload := map[string]string{
		"Initiator":          creds.InitiatorName,
		"SecurityCredential": credential,
		"CommandID":          "AccountBalance",
		"PartyA":             creds.ShortCode,
		"IdentifierType":     "4",
		"Remarks":            c.remarksOr("Balance query"),
		"QueueTimeOutURL":    BalanceTimeoutURL(c.callbackBaseURL, tenantID),
		"ResultURL":          BalanceResultURL(c.callbackBaseURL, tenantID),
	}

	raw, _, gwErr := c.post(ctx, accountBalancePath, accessToken, payload, creds)
	if gwErr != nil {
		return nil, gwErr
	}
	if code := stringField(raw, "ResponseCode"); code != "0" {
		return nil, &Error{Kind: ErrKindRejected, Message: fmt.Sprintf("balance query responded %q: %s", code, stringField(raw, "ResponseDescription"))}
	}

	return &BalanceQuery{
		ConversationID:           stringField(raw, "ConversationID"),
		OriginatorConversationID: stringField(raw, "OriginatorConversationID"),
	}, nil
}

func (c *Client) remarksOr(fallback string) string {
	if c.remarks != "" {
		return c.remarks
	}
	return fallback
}

type tokenResponse struct {
	AccessToken string      `json:"access_token"`
	ExpiresIn   json.Number `json:"expires_in"`
}

func (c *Client) accessToken(ctx context.Context, creds Credentials) (string, *Error) {
	key := creds.tokenKey()
	if token, ok := c.tokens.Get(key); ok {
		return token, nil
	}

	tokenCtx, cancel := context.WithTimeout(ctx, c.tokenTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(tokenCtx, http.MethodGet, c.baseURL+tokenPath, nil)
	if err != nil {
		return "", &Error{Kind: ErrKindTransport, Message: "failed to build token request", Err: err}
	}
	httpReq.SetBasicAuth(creds.ConsumerKey, creds.ConsumerSecret)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", classifyTransportError("token request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &Error{Kind: ErrKindAuthentication, Message: fmt.Sprintf("token endpoint returned http %d", resp.StatusCode)}
	}

	var body tokenResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&body); err != nil || body.AccessToken == "" {
		return "", &Error{Kind: ErrKindAuthentication, Message: "token endpoint returned no access token", Err: err}
	}

	expiresIn, err := body.ExpiresIn.Int64()
	if err != nil {
		expiresIn = 0
	}
	c.tokens.Set(key, body.AccessToken, time.Duration(expiresIn)*time.Second-c.tokenGuard)

	return body.AccessToken, nil
}

func (c *Client) post(ctx context.Context, path, accessToken string, payload interface{}, creds Credentials) (map[string]interface{}, int, *Error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, &Error{Kind: ErrKindValidation, Message: "failed to encode request", Err: err}
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, 0, &Error{Kind: ErrKindTransport, Message: "failed to build request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, 0, classifyTransportError("request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		c.tokens.Invalidate(creds.tokenKey())
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, resp.StatusCode, classifyTransportError("failed to read response", err)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return nil, resp.StatusCode, &Error{
			Kind:    ErrKindUnrecognized,
			Message: fmt.Sprintf("non-JSON response (http %d): %s", resp.StatusCode, truncate(string(respBody), 200)),
		}
	}
	return raw, resp.StatusCode, nil
}

func classifyTransportError(message string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: ErrKindTimeout, Message: message, Err: err}
	}
	return &Error{Kind: ErrKindTransport, Message: message, Err: err}
}

func stringField(raw map[string]interface{}, key string) string {
	switch v := raw[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func amountField(raw map[string]interface{}, key string) decimal.NullDecimal {
	value := stringField(raw, key)
	if value == "" {
		return decimal.NullDecimal{}
	}
	return ParseAmount(map[string]string{key: value}, key)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Callback URLs registered with the gateway, one set per tenant

func B2CResultURL(base string, tenantID uuid.UUID) string {
	return callbackURL(base, tenantID, "b2c/result")
}

func B2CTimeoutURL(base string, tenantID uuid.UUID) string {
	return callbackURL(base, tenantID, "b2c/timeout")
}

func BalanceResultURL(base string, tenantID uuid.UUID) string {
	return callbackURL(base, tenantID, "balance/result")
}

func BalanceTimeoutURL(base string, tenantID uuid.UUID) string {
	return callbackURL(base, tenantID, "balance/timeout")
}

func callbackURL(base string, tenantID uuid.UUID, suffix string) string {
	return fmt.Sprintf("%s/api/v1/webhooks/mpesa/%s/%s", strings.TrimRight(base, "/"), tenantID, suffix)
}
