package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

// BalanceSource answers wallet eligibility questions. The chain is the
// authority; cached balances on player records are informational only.
type BalanceSource interface {
	IsValidAddress(addr string) bool
	TokenBalance(ctx context.Context, wallet string) (decimal.Decimal, error)
}

// TransferDescriptor is the partially-signed transaction the player
// must co-sign to complete a claim.
type TransferDescriptor struct {
	Transaction string `json:"transaction"` // base64, server-signed
	Blockhash   string `json:"blockhash,omitempty"`
}

// TransferGateway builds and tracks reward-token transfers out of the
// server vault. Construction and signing happen in the external vault
// signer service; this system never touches key material.
type TransferGateway interface {
	VaultBalance(ctx context.Context) (decimal.Decimal, error)
	BuildTransfer(ctx context.Context, destWallet string, amount decimal.Decimal) (*TransferDescriptor, error)
	ConfirmationStatus(ctx context.Context, signature string) (string, error)
	FindTransaction(ctx context.Context, signature string) (bool, error)
}

var base58AddressRe = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)

// ChainClient implements BalanceSource and TransferGateway over the
// chain RPC endpoint and the vault signer service.
type ChainClient struct {
	RPCURL          string
	VaultServiceURL string
	ServiceToken    string
	TokenMint       string
	VaultWallet     string
	HTTPClient      *http.Client
}

func NewChainClient(rpcURL, vaultServiceURL, serviceToken, tokenMint, vaultWallet string) *ChainClient {
	return &ChainClient{
		RPCURL:          rpcURL,
		VaultServiceURL: vaultServiceURL,
		ServiceToken:    serviceToken,
		TokenMint:       tokenMint,
		VaultWallet:     vaultWallet,
		HTTPClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

func (c *ChainClient) IsValidAddress(addr string) bool {
	return base58AddressRe.MatchString(addr)
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *ChainClient) rpcCall(ctx context.Context, method string, params []interface{}, result interface{}) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("failed to encode rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.RPCURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("rpc call %s failed: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("rpc %s returned status %d: %s", method, resp.StatusCode, string(snippet))
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("rpc %s error %d: %s", method, envelope.Error.Code, envelope.Error.Message)
	}
	if result != nil {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("failed to decode %s result: %w", method, err)
		}
	}
	return nil
}

// TokenBalance sums the reward-token balance across every token account
// the wallet holds for the configured mint, covering both token-program
// variants. A wallet with no accounts (including mints still on a
// bonding curve, which have no standard accounts yet) reads as zero.
func (c *ChainClient) TokenBalance(ctx context.Context, wallet string) (decimal.Decimal, error) {
	var result struct {
		Value []struct {
			Account struct {
				Data struct {
					Parsed struct {
						Info struct {
							TokenAmount struct {
								UIAmountString string `json:"uiAmountString"`
							} `json:"tokenAmount"`
						} `json:"info"`
					} `json:"parsed"`
				} `json:"data"`
			} `json:"account"`
		} `json:"value"`
	}

	params := []interface{}{
		wallet,
		map[string]string{"mint": c.TokenMint},
		map[string]string{"encoding": "jsonParsed"},
	}
	if err := c.rpcCall(ctx, "getTokenAccountsByOwner", params, &result); err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for _, acct := range result.Value {
		amount, err := decimal.NewFromString(acct.Account.Data.Parsed.Info.TokenAmount.UIAmountString)
		if err != nil {
			continue
		}
		total = total.Add(amount)
	}
	return total, nil
}

func (c *ChainClient) VaultBalance(ctx context.Context) (decimal.Decimal, error) {
	return c.TokenBalance(ctx, c.VaultWallet)
}

// BuildTransfer asks the vault signer service for a server-signed
// transfer of amount reward tokens to destWallet.
func (c *ChainClient) BuildTransfer(ctx context.Context, destWallet string, amount decimal.Decimal) (*TransferDescriptor, error) {
	payload, err := json.Marshal(map[string]string{
		"destination": destWallet,
		"amount":      amount.String(),
		"mint":        c.TokenMint,
		"vault":       c.VaultWallet,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode transfer request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.VaultServiceURL+"/transfers", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create transfer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Service-Token", c.ServiceToken)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call vault signer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("vault signer returned status %d: %s", resp.StatusCode, string(snippet))
	}

	var desc TransferDescriptor
	if err := json.NewDecoder(resp.Body).Decode(&desc); err != nil {
		return nil, fmt.Errorf("failed to decode vault signer response: %w", err)
	}
	if desc.Transaction == "" {
		return nil, fmt.Errorf("vault signer returned an empty transaction")
	}
	return &desc, nil
}

// ConfirmationStatus returns "confirmed", "finalized", "processed", or
// "unknown" for a signature. "unknown" is inconclusive, not a failure.
func (c *ChainClient) ConfirmationStatus(ctx context.Context, signature string) (string, error) {
	var result struct {
		Value []*struct {
			ConfirmationStatus string `json:"confirmationStatus"`
		} `json:"value"`
	}

	params := []interface{}{
		[]string{signature},
		map[string]bool{"searchTransactionHistory": true},
	}
	if err := c.rpcCall(ctx, "getSignatureStatuses", params, &result); err != nil {
		return "", err
	}
	if len(result.Value) == 0 || result.Value[0] == nil {
		return "unknown", nil
	}
	if result.Value[0].ConfirmationStatus == "" {
		return "unknown", nil
	}
	return result.Value[0].ConfirmationStatus, nil
}

// FindTransaction is the fallback lookup when the status check is
// inconclusive: a transaction fetched by signature has landed on-chain.
func (c *ChainClient) FindTransaction(ctx context.Context, signature string) (bool, error) {
	var result json.RawMessage
	params := []interface{}{
		signature,
		map[string]interface{}{"encoding": "json", "maxSupportedTransactionVersion": 0},
	}
	if err := c.rpcCall(ctx, "getTransaction", params, &result); err != nil {
		return false, err
	}
	return len(result) > 0 && string(result) != "null", nil
}
