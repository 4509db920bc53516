package chain

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// GasStation is the HTTP sponsorship relay client. The wire format follows
// the hosted gas station service: hex transaction bytes in, hex prepared
// bytes plus a serialized sponsor signature out.
type GasStation struct {
	url     string
	apiKey  string
	network string
	httpc   *http.Client
}

func NewGasStation(url, apiKey, network string, timeout time.Duration) *GasStation {
	return &GasStation{
		url:     url,
		apiKey:  apiKey,
		network: network,
		httpc:   &http.Client{Timeout: timeout},
	}
}

type sponsorRequest struct {
	APIKey        string `json:"apiKey"`
	RawTxBytesHex string `json:"rawTxBytesHex"`
	Sender        string `json:"sender"`
	Network       string `json:"network"`
}

type sponsorResponse struct {
	TxBytesHex       string `json:"txBytesHex"`
	SponsorSignature string `json:"sponsorSignature"`
}

func (g *GasStation) Sponsor(ctx context.Context, rawTx []byte, sender string) (*SponsoredTx, error) {
	body, err := json.Marshal(sponsorRequest{
		APIKey:        g.apiKey,
		RawTxBytesHex: hex.EncodeToString(rawTx),
		Sender:        sender,
		Network:       g.network,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gas station request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("gas station returned %d: %s", resp.StatusCode, msg)
	}

	var parsed sponsorResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("gas station response malformed: %w", err)
	}
	prepared, err := hex.DecodeString(parsed.TxBytesHex)
	if err != nil {
		return nil, fmt.Errorf("gas station tx bytes malformed: %w", err)
	}
	return &SponsoredTx{PreparedTx: prepared, CounterSignature: parsed.SponsorSignature}, nil
}
