package nwc

import (
	"context"
	"encoding/json"

	"nostr-wallet/nostr"
)

// PayInvoice pays a BOLT11 invoice. amountMsat overrides the invoice
// amount for zero-amount invoices; pass 0 otherwise. Waits up to
// PaymentTimeout and fails with a PaymentTimeout error after that —
// the payment may still settle on the wallet side.
func (c *Client) PayInvoice(ctx context.Context, invoice string, amountMsat int64) (*PayInvoiceResult, error) {
	raw, err := c.call(ctx, MethodPayInvoice,
		PayInvoiceParams{Invoice: invoice, Amount: amountMsat},
		c.cfg.PaymentTimeout, CodePaymentTimeout)
	if err != nil {
		return nil, err
	}
	var result PayInvoiceResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// MakeInvoice asks the wallet to create a BOLT11 invoice.
func (c *Client) MakeInvoice(ctx context.Context, params MakeInvoiceParams) (*Transaction, error) {
	raw, err := c.call(ctx, MethodMakeInvoice, params, c.cfg.RequestTimeout, CodeRequestTimeout)
	if err != nil {
		return nil, err
	}
	var result Transaction
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// LookupInvoice fetches the state of an invoice by payment hash or BOLT11.
func (c *Client) LookupInvoice(ctx context.Context, params LookupInvoiceParams) (*Transaction, error) {
	raw, err := c.call(ctx, MethodLookupInvoice, params, c.cfg.RequestTimeout, CodeRequestTimeout)
	if err != nil {
		return nil, err
	}
	var result Transaction
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetBalance returns the wallet balance in millisatoshis.
func (c *Client) GetBalance(ctx context.Context) (*BalanceResult, error) {
	raw, err := c.call(ctx, MethodGetBalance, struct{}{}, c.cfg.RequestTimeout, CodeRequestTimeout)
	if err != nil {
		return nil, err
	}
	var result BalanceResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetInfo queries the wallet's node info and full method list.
func (c *Client) GetInfo(ctx context.Context) (*InfoResult, error) {
	raw, err := c.call(ctx, MethodGetInfo, struct{}{}, c.cfg.RequestTimeout, CodeRequestTimeout)
	if err != nil {
		return nil, err
	}
	var result InfoResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListTransactions pages through the wallet's payment history.
func (c *Client) ListTransactions(ctx context.Context, params ListTransactionsParams) (*ListTransactionsResult, error) {
	raw, err := c.call(ctx, MethodListTransactions, params, c.cfg.RequestTimeout, CodeRequestTimeout)
	if err != nil {
		return nil, err
	}
	var result ListTransactionsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SignMessage asks the wallet to sign an arbitrary message with its node key.
func (c *Client) SignMessage(ctx context.Context, message string) (*SignMessageResult, error) {
	raw, err := c.call(ctx, MethodSignMessage, SignMessageParams{Message: message},
		c.cfg.RequestTimeout, CodeRequestTimeout)
	if err != nil {
		return nil, err
	}
	var result SignMessageResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Nip44Encrypt encrypts plaintext for the wallet with the descriptor's
// conversation key. Local operation, no relay round trip.
func (c *Client) Nip44Encrypt(plaintext string) (string, error) {
	return nostr.EncryptNip44(plaintext, c.desc.ConversationKey)
}

// Nip44Decrypt decrypts a NIP-44 payload from the wallet.
func (c *Client) Nip44Decrypt(payload string) (string, error) {
	return nostr.DecryptNip44(payload, c.desc.ConversationKey)
}
