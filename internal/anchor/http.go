package anchor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/uav-ledger/uavledger/pkg/chain"
)

// HTTPAnchorer publishes digests to an external registry gateway over
// HTTP. The gateway owns transaction signing, nonce lifecycle, and
// confirmation against whatever ledger it fronts; this client makes one
// attempt per call and leaves retry policy to the caller.
type HTTPAnchorer struct {
	baseURL string
	client  *http.Client
}

// NewHTTPAnchorer creates an HTTPAnchorer for the gateway at baseURL.
func NewHTTPAnchorer(baseURL string, timeout time.Duration) *HTTPAnchorer {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &HTTPAnchorer{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type anchorRequest struct {
	MissionKey string `json:"mission_key"`
	Digest     string `json:"digest"`
	Algorithm  string `json:"algorithm"`
	EntryCount uint64 `json:"entry_count"`
}

type anchorResponse struct {
	Ref        string    `json:"ref"`
	AnchoredAt time.Time `json:"anchored_at"`
	Error      string    `json:"error"`
}

// Anchor implements Anchorer.
func (h *HTTPAnchorer) Anchor(ctx context.Context, digest chain.MissionDigest) (*Receipt, error) {
	key := chain.MissionKey(digest.MissionID).Hex()
	body, err := json.Marshal(anchorRequest{
		MissionKey: key,
		Digest:     digest.FinalChainHash.Hex(),
		Algorithm:  digest.Algorithm,
		EntryCount: digest.EntryCount,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal anchor request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/v1/anchors", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build anchor request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("anchor digest: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read anchor response: %w", err)
	}

	var parsed anchorResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("decode anchor response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		if parsed.Error != "" {
			return nil, fmt.Errorf("anchor gateway: %s (status %d)", parsed.Error, resp.StatusCode)
		}
		return nil, fmt.Errorf("anchor gateway returned status %d", resp.StatusCode)
	}

	anchoredAt := parsed.AnchoredAt
	if anchoredAt.IsZero() {
		anchoredAt = time.Now().UTC()
	}
	return &Receipt{
		MissionKey: key,
		Digest:     digest.FinalChainHash.Hex(),
		Algorithm:  digest.Algorithm,
		EntryCount: digest.EntryCount,
		Ref:        parsed.Ref,
		AnchoredAt: anchoredAt,
	}, nil
}
