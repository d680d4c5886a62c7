package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"carboncred-backend/internal/infrastructure/keystore"
)

// RPCGateway talks JSON-over-HTTP to a chain bridge node sitting in front of
// the token contract. Mutating calls are signed with the acting account's key
// from the keystore; every call runs under the configured timeout.
type RPCGateway struct {
	BaseURL string
	Keys    keystore.SigningKeys
	Timeout time.Duration
	Client  *http.Client
}

// NewRPCGateway builds a gateway with its own HTTP client. Gateways are
// shared across requests, so the client must be set up front rather than on
// first use.
func NewRPCGateway(baseURL string, keys keystore.SigningKeys, timeout time.Duration) *RPCGateway {
	return &RPCGateway{
		BaseURL: baseURL,
		Keys:    keys,
		Timeout: timeout,
		Client:  &http.Client{},
	}
}

type rpcResponse struct {
	Status  string   `json:"status"`
	Code    string   `json:"code"`
	Message string   `json:"message"`
	TxHash  string   `json:"tx_hash"`
	Balance int64    `json:"balance"`
	Listing *Listing `json:"listing"`
	ID      int64    `json:"id"`
}

func (g *RPCGateway) call(ctx context.Context, op, signer string, body map[string]interface{}) (*rpcResponse, error) {
	client := g.Client
	if client == nil {
		client = http.DefaultClient
	}
	timeout := g.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	bodyBytes, _ := json.Marshal(body)
	url := fmt.Sprintf("%s/v1/%s", strings.TrimRight(g.BaseURL, "/"), op)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, &Error{Code: CodeUnknown, Op: op, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	if signer != "" {
		key, err := g.Keys.Key(signer)
		if err != nil {
			return nil, &Error{Code: CodeUnauthorized, Op: op, Message: err.Error()}
		}
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &Error{Code: CodeTimeout, Op: op, Message: "bridge call timed out"}
		}
		return nil, &Error{Code: CodeUnknown, Op: op, Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	var out rpcResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, &Error{Code: CodeUnknown, Op: op, Message: fmt.Sprintf("decode bridge response: %s", string(respBody))}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || out.Status == "error" {
		code := out.Code
		switch code {
		case CodeInsufficientBalance, CodeUnauthorized, CodeNotFound, CodeTimeout:
		default:
			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				code = CodeUnauthorized
			} else if resp.StatusCode == http.StatusNotFound {
				code = CodeNotFound
			} else {
				code = CodeUnknown
			}
		}
		return nil, &Error{Code: code, Op: op, Message: out.Message}
	}
	return &out, nil
}

func (g *RPCGateway) Mint(ctx context.Context, account string, amount int64) (*Receipt, error) {
	// Minting is an operator action; the bridge holds the operator key.
	out, err := g.call(ctx, "mint", "", map[string]interface{}{"account": account, "amount": amount})
	if err != nil {
		return nil, err
	}
	return &Receipt{TxHash: out.TxHash}, nil
}

func (g *RPCGateway) Burn(ctx context.Context, account string, amount int64) (*Receipt, error) {
	out, err := g.call(ctx, "burn", account, map[string]interface{}{"account": account, "amount": amount})
	if err != nil {
		return nil, err
	}
	return &Receipt{TxHash: out.TxHash}, nil
}

func (g *RPCGateway) Transfer(ctx context.Context, from, to string, amount int64) (*Receipt, error) {
	out, err := g.call(ctx, "transfer", from, map[string]interface{}{"from": from, "to": to, "amount": amount})
	if err != nil {
		return nil, err
	}
	return &Receipt{TxHash: out.TxHash}, nil
}

func (g *RPCGateway) BalanceOf(ctx context.Context, account string) (int64, error) {
	out, err := g.call(ctx, "balance-of", "", map[string]interface{}{"account": account})
	if err != nil {
		return 0, err
	}
	return out.Balance, nil
}

func (g *RPCGateway) CreateEscrowListing(ctx context.Context, seller string, amount, pricePerUnit int64, paymentRef string) (int64, *Receipt, error) {
	out, err := g.call(ctx, "create-listing", seller, map[string]interface{}{
		"seller":         seller,
		"amount":         amount,
		"price_per_unit": pricePerUnit,
		"payment_ref":    paymentRef,
	})
	if err != nil {
		return 0, nil, err
	}
	return out.ID, &Receipt{TxHash: out.TxHash}, nil
}

func (g *RPCGateway) MarkPaid(ctx context.Context, listingID int64) (*Receipt, error) {
	out, err := g.call(ctx, "mark-paid", "", map[string]interface{}{"listing_id": listingID})
	if err != nil {
		return nil, err
	}
	return &Receipt{TxHash: out.TxHash}, nil
}

func (g *RPCGateway) ReleaseEscrow(ctx context.Context, listingID int64, buyer string) (*Receipt, error) {
	out, err := g.call(ctx, "release", "", map[string]interface{}{"listing_id": listingID, "buyer": buyer})
	if err != nil {
		return nil, err
	}
	return &Receipt{TxHash: out.TxHash}, nil
}

func (g *RPCGateway) GetListing(ctx context.Context, listingID int64) (*Listing, error) {
	out, err := g.call(ctx, "get-listing", "", map[string]interface{}{"listing_id": listingID})
	if err != nil {
		return nil, err
	}
	if out.Listing == nil {
		return nil, &Error{Code: CodeUnknown, Op: "get-listing", Message: "bridge returned no listing"}
	}
	return out.Listing, nil
}
