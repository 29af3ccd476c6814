package chain

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"cascade-payroll/pkg/config"

	"github.com/go-resty/resty/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// SignatureStatus is the subset of getSignatureStatuses the confirmation loop
// inspects.
type SignatureStatus struct {
	Slot               uint64          `json:"slot"`
	Confirmations      *uint64         `json:"confirmations"`
	ConfirmationStatus string          `json:"confirmationStatus"`
	Err                json.RawMessage `json:"err"`
}

func (s *SignatureStatus) Failed() bool {
	return s != nil && len(s.Err) > 0 && string(s.Err) != "null"
}

// Client is the typed boundary to the cluster RPC node. Everything above this
// interface works with decoded domain values, never raw JSON.
type Client interface {
	FetchStreamAccount(ctx context.Context, stream Address) (*PaymentStream, error)
	FetchMintDecimals(ctx context.Context, mint Address) (uint8, error)
	GetLatestBlockhash(ctx context.Context) (string, error)
	GetSignatureStatuses(ctx context.Context, signatures ...string) ([]*SignatureStatus, error)
}

type rpcClient struct {
	http *resty.Client
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

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

var Module = fx.Module("chain",
	fx.Provide(
		NewClient,
		provideDeriver,
		NewSubmitter,
	),
)

func provideDeriver(cfg *config.Config) (*Deriver, error) {
	programID, err := ParseAddress(cfg.Chain.ProgramID)
	if err != nil {
		return nil, err
	}
	return NewDeriver(programID), nil
}

func NewClient(cfg *config.Config) Client {
	http := resty.New().
		SetBaseURL(cfg.Chain.RPCURL).
		SetTimeout(cfg.Chain.RequestTimeout).
		SetHeader("Content-Type", "application/json")

	zap.L().Info("[Chain] RPC client configured",
		zap.String("rpc_url", cfg.Chain.RPCURL),
		zap.String("cluster", cfg.Chain.Cluster),
	)

	return &rpcClient{http: http}
}

func (c *rpcClient) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	var envelope rpcResponse

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params}).
		SetResult(&envelope).
		Post("")
	if err != nil {
		return fmt.Errorf("rpc %s: %w", method, err)
	}
	if resp.IsError() {
		return fmt.Errorf("rpc %s: unexpected status %s", method, resp.Status())
	}
	if envelope.Error != nil {
		return fmt.Errorf("rpc %s: %s (code %d)", method, envelope.Error.Message, envelope.Error.Code)
	}

	if out != nil {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("rpc %s: decode result: %w", method, err)
		}
	}

	return nil
}

type accountInfoResult struct {
	Value *struct {
		Data  []string `json:"data"`
		Owner string   `json:"owner"`
	} `json:"value"`
}

func (c *rpcClient) fetchAccountData(ctx context.Context, addr Address) ([]byte, error) {
	var result accountInfoResult

	params := []interface{}{addr.String(), map[string]string{"encoding": "base64"}}
	if err := c.call(ctx, "getAccountInfo", params, &result); err != nil {
		return nil, err
	}

	if result.Value == nil {
		return nil, ErrAccountNotFound
	}
	if len(result.Value.Data) == 0 {
		return nil, fmt.Errorf("account %s has no data", addr)
	}

	raw, err := base64.StdEncoding.DecodeString(result.Value.Data[0])
	if err != nil {
		return nil, fmt.Errorf("account %s: decode data: %w", addr, err)
	}

	return raw, nil
}

func (c *rpcClient) FetchStreamAccount(ctx context.Context, stream Address) (*PaymentStream, error) {
	data, err := c.fetchAccountData(ctx, stream)
	if err != nil {
		return nil, err
	}
	return DecodePaymentStream(data)
}

// splMintDecimalsOffset: mint_authority COption<Pubkey> (36) + supply u64 (8).
const splMintDecimalsOffset = 44

func (c *rpcClient) FetchMintDecimals(ctx context.Context, mint Address) (uint8, error) {
	data, err := c.fetchAccountData(ctx, mint)
	if err != nil {
		return 0, err
	}
	if len(data) <= splMintDecimalsOffset {
		return 0, fmt.Errorf("mint %s: account too short", mint)
	}

	decimals := data[splMintDecimalsOffset]
	if err := ValidateMintDecimals(decimals); err != nil {
		return 0, err
	}

	return decimals, nil
}

type latestBlockhashResult struct {
	Value struct {
		Blockhash string `json:"blockhash"`
	} `json:"value"`
}

func (c *rpcClient) GetLatestBlockhash(ctx context.Context) (string, error) {
	var result latestBlockhashResult
	if err := c.call(ctx, "getLatestBlockhash", nil, &result); err != nil {
		return "", err
	}
	return result.Value.Blockhash, nil
}

type signatureStatusesResult struct {
	Value []*SignatureStatus `json:"value"`
}

func (c *rpcClient) GetSignatureStatuses(ctx context.Context, signatures ...string) ([]*SignatureStatus, error) {
	var result signatureStatusesResult
	if err := c.call(ctx, "getSignatureStatuses", []interface{}{signatures}, &result); err != nil {
		return nil, err
	}
	return result.Value, nil
}
