package mpesa

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Result parameter keys sent with B2C and account balance results
const (
	ParamTransactionAmount        = "TransactionAmount"
	ParamTransactionReceipt       = "TransactionReceipt"
	ParamReceiverPublicName       = "ReceiverPartyPublicName"
	ParamTransactionCompletedTime = "TransactionCompletedDateTime"
	ParamUtilityAvailableFunds    = "B2CUtilityAccountAvailableFunds"
	ParamWorkingAvailableFunds    = "B2CWorkingAccountAvailableFunds"
	ParamAccountBalance           = "AccountBalance"
)

// ResultCodeSuccess is the only success code the gateway sends
const ResultCodeSuccess = 0

// ResultEnvelope is the body of result, timeout and account balance callbacks
type ResultEnvelope struct {
	Result Result `json:"Result"`
}

type Result struct {
	ResultType               int              `json:"ResultType"`
	ResultCode               Code             `json:"ResultCode"`
	ResultDesc               string           `json:"ResultDesc"`
	OriginatorConversationID string           `json:"OriginatorConversationID"`
	ConversationID           string           `json:"ConversationID"`
	TransactionID            string           `json:"TransactionID"`
	ResultParameters         ResultParameters `json:"ResultParameters"`
}

// Success reports a zero result code
func (r Result) Success() bool {
	return int(r.ResultCode) == ResultCodeSuccess
}

// Params flattens result parameters into strings
func (r Result) Params() map[string]string {
	params := make(map[string]string, len(r.ResultParameters.ResultParameter))
	for _, p := range r.ResultParameters.ResultParameter {
		params[p.Key] = p.StringValue()
	}
	return params
}

// Code accepts both numeric and quoted result codes
type Code int

func (c *Code) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*c = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid result code %s: %w", data, err)
	}
	*c = Code(n)
	return nil
}

// ResultParameters accepts ResultParameter as either a list or a single object
type ResultParameters struct {
	ResultParameter []Parameter `json:"ResultParameter"`
}

func (p *ResultParameters) UnmarshalJSON(data []byte) error {
	var raw struct {
		ResultParameter json.RawMessage `json:"ResultParameter"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	trimmed := bytes.TrimSpace(raw.ResultParameter)
	switch {
	case len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")):
		p.ResultParameter = nil
		return nil
	case trimmed[0] == '[':
		return json.Unmarshal(trimmed, &p.ResultParameter)
	default:
		var single Parameter
		if err := json.Unmarshal(trimmed, &single); err != nil {
			return err
		}
		p.ResultParameter = []Parameter{single}
		return nil
	}
}

type Parameter struct {
	Key   string      `json:"Key"`
	Value interface{} `json:"Value"`
}

func (p Parameter) StringValue() string {
	switch v := p.Value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// AccountBalance is one account of an account balance result
type AccountBalance struct {
	Name      string
	Currency  string
	Available decimal.Decimal
	Current   decimal.Decimal
	Reserved  decimal.Decimal
	Uncleared decimal.Decimal
}

// ParseAccountBalances parses "Name|Currency|Available|Current|Reserved|Uncleared&..."
func ParseAccountBalances(value string) ([]AccountBalance, error) {
	var accounts []AccountBalance
	for _, entry := range strings.Split(value, "&") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		fields := strings.Split(entry, "|")
		if len(fields) != 6 {
			return nil, fmt.Errorf("malformed account balance entry %q", entry)
		}

		amounts := make([]decimal.Decimal, 4)
		for i, raw := range fields[2:] {
			amount, err := decimal.NewFromString(strings.TrimSpace(raw))
			if err != nil {
				return nil, fmt.Errorf("malformed amount %q in account %q: %w", raw, fields[0], err)
			}
			amounts[i] = amount
		}

		accounts = append(accounts, AccountBalance{
			Name:      strings.TrimSpace(fields[0]),
			Currency:  strings.TrimSpace(fields[1]),
			Available: amounts[0],
			Current:   amounts[1],
			Reserved:  amounts[2],
			Uncleared: amounts[3],
		})
	}
	return accounts, nil
}

// WorkingAndUtility picks the available balances of the working and utility accounts
func WorkingAndUtility(accounts []AccountBalance) (working, utility decimal.NullDecimal) {
	for _, a := range accounts {
		name := strings.ToLower(a.Name)
		switch {
		case strings.Contains(name, "working"):
			working = decimal.NewNullDecimal(a.Available)
		case strings.Contains(name, "utility"):
			utility = decimal.NewNullDecimal(a.Available)
		}
	}
	return working, utility
}

// ParseAmount reads a balance figure from result parameters; missing or malformed values are null
func ParseAmount(params map[string]string, key string) decimal.NullDecimal {
	raw, ok := params[key]
	if !ok || strings.TrimSpace(raw) == "" {
		return decimal.NullDecimal{}
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(amount)
}

// C2BConfirmation is the pushed customer-to-business payment record
type C2BConfirmation struct {
	TransactionType   string `json:"TransactionType"`
	TransID           string `json:"TransID"`
	TransTime         string `json:"TransTime"`
	TransAmount       string `json:"TransAmount"`
	BusinessShortCode string `json:"BusinessShortCode"`
	BillRefNumber     string `json:"BillRefNumber"`
	InvoiceNumber     string `json:"InvoiceNumber,omitempty"`
	OrgAccountBalance string `json:"OrgAccountBalance,omitempty"`
	ThirdPartyTransID string `json:"ThirdPartyTransID,omitempty"`
	MSISDN            string `json:"MSISDN"`
	FirstName         string `json:"FirstName"`
	MiddleName        string `json:"MiddleName,omitempty"`
	LastName          string `json:"LastName,omitempty"`
}

const transTimeLayout = "20060102150405"

// ParseTransTime reads the gateway's yyyyMMddHHmmss timestamp in the tenant's zone
func ParseTransTime(value string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(transTimeLayout, strings.TrimSpace(value), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid transaction time %q: %w", value, err)
	}
	return t, nil
}

// AcceptedResponse is the acknowledgement every webhook returns
type AcceptedResponse struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

func Accepted() AcceptedResponse {
	return AcceptedResponse{ResultCode: 0, ResultDesc: "Accepted"}
}

// AlreadyProcessed acknowledges a redelivered callback. The gateway still sees ResultCode 0.
func AlreadyProcessed() AcceptedResponse {
	return AcceptedResponse{ResultCode: 0, ResultDesc: "Already processed"}
}
