package client_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/uav-ledger/uavledger/internal/anchor"
	"github.com/uav-ledger/uavledger/internal/ledger/handler"
	"github.com/uav-ledger/uavledger/internal/ledger/repository"
	"github.com/uav-ledger/uavledger/internal/ledger/service"
	"github.com/uav-ledger/uavledger/pkg/chain"
	"github.com/uav-ledger/uavledger/pkg/client"
)

// startLedger spins up a real in-memory ledger service for the SDK to talk to.
func startLedger(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	st := repository.NewMemoryStore()
	svc := service.NewLedgerService(st, st, st, anchor.NewMemoryAnchorer(zap.NewNop()), zap.NewNop())
	handler.NewFlightHandler(svc, zap.NewNop()).Register(r.Group("/api/v1"))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func telemetryEntries(from, to uint64) []chain.Entry {
	var out []chain.Entry
	for i := from; i < to; i++ {
		out = append(out, chain.Entry{
			Index:     i,
			Timestamp: time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC).Add(time.Duration(i) * time.Second),
			Type:      "telemetry",
			Fields: map[string]chain.Value{
				"alt_m": chain.Int(int64(120 + i)),
			},
		})
	}
	return out
}

func TestClient_flightLifecycle(t *testing.T) {
	srv := startLedger(t)
	c := client.New(srv.URL)
	ctx := context.Background()

	f, err := c.RegisterFlight(ctx, "flight-001")
	if err != nil {
		t.Fatal(err)
	}
	if f.Status != "active" || f.MissionID != "flight-001" {
		t.Fatalf("unexpected flight: %+v", f)
	}

	res, err := c.AppendEntries(ctx, "flight-001", telemetryEntries(0, 5))
	if err != nil {
		t.Fatal(err)
	}
	if res.Appended != 5 || res.TipIndex != 4 {
		t.Fatalf("unexpected append result: %+v", res)
	}

	cp, err := c.RecordCheckpoint(ctx, "flight-001")
	if err != nil {
		t.Fatal(err)
	}
	if cp.EntryIndex != 4 {
		t.Errorf("checkpoint index: got %d, want 4", cp.EntryIndex)
	}

	fin, err := c.Finalize(ctx, "flight-001")
	if err != nil {
		t.Fatal(err)
	}
	if fin.Digest.EntryCount != 5 || fin.Digest.Algorithm != chain.AlgorithmID {
		t.Errorf("unexpected digest: %+v", fin.Digest)
	}
	if fin.Receipt == nil {
		t.Error("expected anchor receipt")
	}

	closed, err := c.CloseFlight(ctx, "flight-001")
	if err != nil {
		t.Fatal(err)
	}
	if closed.Status != "closed" {
		t.Errorf("status after close: %s", closed.Status)
	}

	receipts, err := c.ListReceipts(ctx, "flight-001")
	if err != nil {
		t.Fatal(err)
	}
	if len(receipts) != 2 { // finalize + close
		t.Errorf("receipts: got %d, want 2", len(receipts))
	}
}

func TestClient_verifyRoundTrip(t *testing.T) {
	srv := startLedger(t)
	c := client.New(srv.URL)
	ctx := context.Background()

	if _, err := c.RegisterFlight(ctx, "flight-001"); err != nil {
		t.Fatal(err)
	}
	entries := telemetryEntries(0, 4)
	if _, err := c.AppendEntries(ctx, "flight-001", entries); err != nil {
		t.Fatal(err)
	}
	if _, err := c.RecordCheckpoint(ctx, "flight-001"); err != nil {
		t.Fatal(err)
	}

	report, err := c.VerifyStored(ctx, "flight-001")
	if err != nil {
		t.Fatal(err)
	}
	if report.Result != chain.ResultPass {
		t.Errorf("stored log: got %s", report.Result)
	}

	// An intact candidate survives the JSON round trip: typed field values
	// keep the canonical encoding, so no hash changes in transit.
	report, err = c.VerifyCandidate(ctx, "flight-001", entries)
	if err != nil {
		t.Fatal(err)
	}
	if report.Result != chain.ResultPass {
		t.Errorf("intact candidate: got %s", report.Result)
	}

	// A truncated candidate fails at the first missing index.
	report, err = c.VerifyCandidate(ctx, "flight-001", entries[:2])
	if err != nil {
		t.Fatal(err)
	}
	if report.Result != chain.ResultFail {
		t.Error("truncated candidate passed")
	}
	if report.FirstDivergence == nil || *report.FirstDivergence != 2 {
		t.Errorf("first divergence: %v", report.FirstDivergence)
	}
}

func TestClient_apiErrors(t *testing.T) {
	srv := startLedger(t)
	c := client.New(srv.URL)
	ctx := context.Background()

	_, err := c.GetFlight(ctx, "unknown")
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != 404 {
		t.Fatalf("expected 404 APIError, got %v", err)
	}

	if _, err := c.RegisterFlight(ctx, "flight-001"); err != nil {
		t.Fatal(err)
	}
	_, err = c.RegisterFlight(ctx, "flight-001")
	if !errors.As(err, &apiErr) || apiErr.Status != 409 {
		t.Fatalf("expected 409 APIError, got %v", err)
	}

	// Gap in indices is rejected server-side.
	_, err = c.AppendEntries(ctx, "flight-001", telemetryEntries(3, 4))
	if !errors.As(err, &apiErr) || apiErr.Status != 422 {
		t.Fatalf("expected 422 APIError, got %v", err)
	}
}
