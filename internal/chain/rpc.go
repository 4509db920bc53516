package chain

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/punchamoorthee/tunnelpay/internal/domain"
)

// RPCClient talks JSON-RPC to a fullnode and builds the move-call envelopes
// the relay turns into chain transaction bytes.
type RPCClient struct {
	url       string
	packageID string
	coinType  string
	httpc     *http.Client
}

func NewRPCClient(url, packageID, coinType string, timeout time.Duration) *RPCClient {
	return &RPCClient{
		url:       url,
		packageID: packageID,
		coinType:  coinType,
		httpc:     &http.Client{Timeout: timeout},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *RPCClient) call(ctx context.Context, method string, params []any, result any) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("rpc %s failed: %w", method, err)
	}
	defer resp.Body.Close()

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("rpc %s response malformed: %w", method, err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("rpc %s: %s (%d)", method, envelope.Error.Message, envelope.Error.Code)
	}
	return json.Unmarshal(envelope.Result, result)
}

func (c *RPCClient) ReadTunnel(ctx context.Context, id domain.TunnelID) (*TunnelState, error) {
	var result struct {
		Data struct {
			Content struct {
				Fields struct {
					Balance struct {
						Fields struct {
							Balance json.Number `json:"balance"`
						} `json:"fields"`
					} `json:"balance"`
					CumulativeClaimed json.Number `json:"cumulative_claimed"`
					Nonce             json.Number `json:"nonce"`
					Closing           bool        `json:"closing"`
					Payer             string      `json:"payer"`
				} `json:"fields"`
			} `json:"content"`
		} `json:"data"`
	}
	err := c.call(ctx, "sui_getObject", []any{id.String(), map[string]bool{"showContent": true}}, &result)
	if err != nil {
		return nil, err
	}

	fields := result.Data.Content.Fields
	balance, _ := fields.Balance.Fields.Balance.Int64()
	claimed, _ := fields.CumulativeClaimed.Int64()
	nonce, _ := fields.Nonce.Int64()
	return &TunnelState{
		Balance:           uint64(balance),
		CumulativeClaimed: uint64(claimed),
		Nonce:             uint64(nonce),
		Closing:           fields.Closing,
		Payer:             fields.Payer,
	}, nil
}

// moveCall is the envelope the relay converts to transaction bytes.
type moveCall struct {
	Target        string   `json:"target"`
	TypeArguments []string `json:"typeArguments"`
	Arguments     []any    `json:"arguments"`
}

func (c *RPCClient) BuildClaim(id domain.TunnelID, cumulativeAmount uint64, signature []byte) ([]byte, error) {
	sigBytes := make([]int, len(signature))
	for i, b := range signature {
		sigBytes[i] = int(b)
	}
	return json.Marshal(moveCall{
		Target:        c.packageID + "::tunnel::claim",
		TypeArguments: []string{c.coinType},
		Arguments:     []any{id.String(), cumulativeAmount, sigBytes},
	})
}

func (c *RPCClient) BuildClose(id domain.TunnelID) ([]byte, error) {
	return json.Marshal(moveCall{
		Target:        c.packageID + "::tunnel::close_with_receipt",
		TypeArguments: []string{c.coinType},
		Arguments:     []any{id.String()},
	})
}

func (c *RPCClient) Execute(ctx context.Context, preparedTx []byte, signatures []string) (*ExecResult, error) {
	var result struct {
		Digest  string `json:"digest"`
		Effects struct {
			Status struct {
				Status string `json:"status"`
			} `json:"status"`
		} `json:"effects"`
	}
	err := c.call(ctx, "sui_executeTransactionBlock", []any{
		base64.StdEncoding.EncodeToString(preparedTx),
		signatures,
		map[string]bool{"showEffects": true},
	}, &result)
	if err != nil {
		return nil, err
	}
	return &ExecResult{
		Digest:  result.Digest,
		Success: result.Effects.Status.Status == "success",
	}, nil
}
