package nwc

import "encoding/json"

// NIP-47 method names as advertised by wallet services.
const (
	MethodPayInvoice       = "pay_invoice"
	MethodMakeInvoice      = "make_invoice"
	MethodLookupInvoice    = "lookup_invoice"
	MethodGetBalance       = "get_balance"
	MethodGetInfo          = "get_info"
	MethodListTransactions = "list_transactions"
	MethodSignMessage      = "sign_message"
)

// request is the JSON body of a kind-23194 event, before encryption.
type request struct {
	Method string      `json:"method"`
	Params interface{} `json:"params"`
}

// response is the decrypted body of a kind-23195 event.
type response struct {
	ResultType string          `json:"result_type"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      *remoteError    `json:"error,omitempty"`
}

type remoteError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PayInvoiceParams requests payment of a BOLT11 invoice. Amount overrides
// the invoice amount (zero-amount invoices) and is in millisatoshis.
type PayInvoiceParams struct {
	Invoice string `json:"invoice"`
	Amount  int64  `json:"amount,omitempty"`
}

// PayInvoiceResult carries the payment preimage on success.
type PayInvoiceResult struct {
	Preimage string `json:"preimage"`
	FeesPaid int64  `json:"fees_paid,omitempty"`
}

// MakeInvoiceParams requests a new BOLT11 invoice from the wallet.
type MakeInvoiceParams struct {
	Amount      int64  `json:"amount"` // millisatoshis
	Description string `json:"description,omitempty"`
	Expiry      int64  `json:"expiry,omitempty"` // seconds
}

// LookupInvoiceParams identifies an invoice by payment hash or BOLT11.
type LookupInvoiceParams struct {
	PaymentHash string `json:"payment_hash,omitempty"`
	Invoice     string `json:"invoice,omitempty"`
}

// Transaction is one entry in the wallet's payment history; also the shape
// returned by make_invoice and lookup_invoice.
type Transaction struct {
	Type            string `json:"type"` // "incoming" or "outgoing"
	Invoice         string `json:"invoice,omitempty"`
	Description     string `json:"description,omitempty"`
	DescriptionHash string `json:"description_hash,omitempty"`
	Preimage        string `json:"preimage,omitempty"`
	PaymentHash     string `json:"payment_hash,omitempty"`
	Amount          int64  `json:"amount"` // millisatoshis
	FeesPaid        int64  `json:"fees_paid,omitempty"`
	CreatedAt       int64  `json:"created_at"`
	ExpiresAt       int64  `json:"expires_at,omitempty"`
	SettledAt       int64  `json:"settled_at,omitempty"`
}

// BalanceResult is the get_balance result.
type BalanceResult struct {
	Balance int64 `json:"balance"` // millisatoshis
}

// ListTransactionsParams pages through payment history.
type ListTransactionsParams struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// ListTransactionsResult is the list_transactions result.
type ListTransactionsResult struct {
	Transactions []Transaction `json:"transactions"`
}

// InfoResult is the get_info result.
type InfoResult struct {
	Alias       string   `json:"alias,omitempty"`
	Color       string   `json:"color,omitempty"`
	Pubkey      string   `json:"pubkey,omitempty"`
	Network     string   `json:"network,omitempty"`
	BlockHeight int64    `json:"block_height,omitempty"`
	BlockHash   string   `json:"block_hash,omitempty"`
	Methods     []string `json:"methods,omitempty"`
}

// SignMessageParams asks the wallet to sign an arbitrary message.
type SignMessageParams struct {
	Message string `json:"message"`
}

// SignMessageResult carries the wallet's signature over the message.
type SignMessageResult struct {
	Message   string `json:"message"`
	Signature string `json:"signature"`
}
