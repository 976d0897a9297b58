// Package client provides the Go SDK for the flight-log ledger service:
// registering flights, chaining entry batches, recording checkpoints, and
// verifying logs against the service's trust anchors.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/uav-ledger/uavledger/pkg/chain"
)

// Flight mirrors the service's flight record.
type Flight struct {
	ID           string     `json:"id"`
	MissionID    string     `json:"mission_id"`
	MissionKey   string     `json:"mission_key"`
	Status       string     `json:"status"`
	EntryCount   uint64     `json:"entry_count"`
	TipIndex     *uint64    `json:"tip_index,omitempty"`
	TipChainHash string     `json:"tip_chain_hash,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`
}

// AppendResult reports the chain position after an entry batch was accepted.
type AppendResult struct {
	Appended     int        `json:"appended"`
	TipIndex     uint64     `json:"tip_index"`
	TipChainHash chain.Hash `json:"tip_chain_hash"`
}

// CheckpointRecord mirrors one row of the service's checkpoint history.
type CheckpointRecord struct {
	Seq        int       `json:"seq"`
	EntryIndex uint64    `json:"entry_index"`
	ChainHash  string    `json:"chain_hash"`
	CreatedAt  time.Time `json:"created_at"`
}

// Receipt mirrors an anchor receipt returned by the service.
type Receipt struct {
	MissionKey string    `json:"mission_key"`
	Digest     string    `json:"digest"`
	Algorithm  string    `json:"algorithm"`
	EntryCount uint64    `json:"entry_count"`
	Ref        string    `json:"ref"`
	AnchoredAt time.Time `json:"anchored_at"`
}

// FinalizeResult reports the computed mission digest and, when anchoring is
// configured server-side, the receipt.
type FinalizeResult struct {
	Digest  chain.MissionDigest `json:"digest"`
	Receipt *Receipt            `json:"receipt,omitempty"`
}

// Client is the ledger SDK entry point.
type Client struct {
	base       string
	httpClient *http.Client
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout on the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// New creates a Client for the ledger service at base, e.g.
// "http://localhost:8080".
func New(base string, opts ...Option) *Client {
	c := &Client{
		base:       base,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// RegisterFlight opens a new flight log for missionID.
func (c *Client) RegisterFlight(ctx context.Context, missionID string) (*Flight, error) {
	var resp struct {
		Flight Flight `json:"flight"`
	}
	err := c.call(ctx, http.MethodPost, "/api/v1/flights",
		map[string]string{"mission_id": missionID}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp.Flight, nil
}

// GetFlight fetches the flight record for missionID.
func (c *Client) GetFlight(ctx context.Context, missionID string) (*Flight, error) {
	var resp struct {
		Flight Flight `json:"flight"`
	}
	if err := c.call(ctx, http.MethodGet, c.flightPath(missionID, ""), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Flight, nil
}

// ListFlights returns recent flights, newest first.
func (c *Client) ListFlights(ctx context.Context, limit int) ([]Flight, error) {
	path := "/api/v1/flights"
	if limit > 0 {
		path = fmt.Sprintf("%s?limit=%d", path, limit)
	}
	var resp struct {
		Flights []Flight `json:"flights"`
	}
	if err := c.call(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Flights, nil
}

// AppendEntries chains a batch of entries onto the flight's log. Entry
// indices must continue the service's stored chain exactly.
func (c *Client) AppendEntries(ctx context.Context, missionID string, entries []chain.Entry) (*AppendResult, error) {
	var resp AppendResult
	err := c.call(ctx, http.MethodPost, c.flightPath(missionID, "/entries"),
		map[string]any{"entries": entries}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// RecordCheckpoint snapshots the flight's current tip into its trusted
// checkpoint history.
func (c *Client) RecordCheckpoint(ctx context.Context, missionID string) (*CheckpointRecord, error) {
	var resp struct {
		Checkpoint CheckpointRecord `json:"checkpoint"`
	}
	if err := c.call(ctx, http.MethodPost, c.flightPath(missionID, "/checkpoints"), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Checkpoint, nil
}

// Finalize computes the mission digest over the flight's full log and anchors
// it when the service has an anchorer configured.
func (c *Client) Finalize(ctx context.Context, missionID string) (*FinalizeResult, error) {
	var resp FinalizeResult
	if err := c.call(ctx, http.MethodPost, c.flightPath(missionID, "/digest"), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CloseFlight anchors a terminal digest and freezes the log. Further appends
// are rejected by the service.
func (c *Client) CloseFlight(ctx context.Context, missionID string) (*Flight, error) {
	var resp struct {
		Flight Flight `json:"flight"`
	}
	if err := c.call(ctx, http.MethodPost, c.flightPath(missionID, "/close"), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Flight, nil
}

// VerifyStored asks the service to replay its own stored log against the
// recorded trust anchors.
func (c *Client) VerifyStored(ctx context.Context, missionID string) (*chain.Report, error) {
	var report chain.Report
	if err := c.call(ctx, http.MethodGet, c.flightPath(missionID, "/verify"), nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// VerifyCandidate submits a candidate log and returns the service's replay
// report. A tampered candidate comes back as a FAIL report, not an error.
func (c *Client) VerifyCandidate(ctx context.Context, missionID string, entries []chain.Entry) (*chain.Report, error) {
	var report chain.Report
	err := c.call(ctx, http.MethodPost, c.flightPath(missionID, "/verify"),
		map[string]any{"entries": entries}, &report)
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// ListReceipts returns every anchor receipt recorded for the flight.
func (c *Client) ListReceipts(ctx context.Context, missionID string) ([]Receipt, error) {
	var resp struct {
		Receipts []Receipt `json:"receipts"`
	}
	if err := c.call(ctx, http.MethodGet, c.flightPath(missionID, "/receipts"), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Receipts, nil
}

func (c *Client) flightPath(missionID, suffix string) string {
	return "/api/v1/flights/" + url.PathEscape(missionID) + suffix
}

// call executes one JSON request against the service. Non-2xx responses are
// surfaced as an *APIError carrying the status and the service's error text.
func (c *Client) call(ctx context.Context, method, path string, reqBody, respBody any) error {
	var bodyReader io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, bodyReader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ledger request failed: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBytes, &payload) == nil && payload.Error != "" {
			apiErr.Message = payload.Error
		} else {
			apiErr.Message = string(respBytes)
		}
		return apiErr
	}

	if respBody != nil && len(respBytes) > 0 {
		if err := json.Unmarshal(respBytes, respBody); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// APIError is a non-2xx response from the ledger service.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ledger service returned HTTP %d: %s", e.Status, e.Message)
}
