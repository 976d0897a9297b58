// Package sweep re-verifies stored flight logs in the background so
// that tampering with the database at rest is noticed without waiting
// for an operator to ask for a verification.
package sweep

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/uav-ledger/uavledger/internal/ledger/model"
	"github.com/uav-ledger/uavledger/internal/ledger/service"
	"github.com/uav-ledger/uavledger/pkg/chain"
)

// Config holds integrity sweep configuration.
type Config struct {
	Interval      time.Duration
	BatchLimit    int
	FailThreshold int
}

// FlightLister returns flights to re-verify.
type FlightLister interface {
	ListFlights(ctx context.Context, limit int) ([]*model.Flight, error)
}

// StoredVerifier replays a stored log against its recorded expectations.
type StoredVerifier interface {
	VerifyStored(ctx context.Context, missionID string) (*chain.Report, error)
}

// AlertFunc is an optional callback invoked when a sweep finds a
// tampered log or a flight that repeatedly cannot be verified.
type AlertFunc func(ctx context.Context, eventType string, payload map[string]string)

// MetricsRecordFunc is an optional callback for recording sweep outcomes.
type MetricsRecordFunc func(result string)

// Event types emitted through the alert callback.
const (
	EventTampered     = "flight.tampered"
	EventVerifyFailed = "flight.verify_error"
)

// Sweeper runs periodic stored-log verification over all flights.
type Sweeper struct {
	flights  FlightLister
	verifier StoredVerifier

	mu        sync.Mutex
	errCounts map[string]int
	alerted   map[string]bool
	cfg       Config
	onAlert   AlertFunc
	onMetrics MetricsRecordFunc
	logger    *zap.Logger
}

// New creates a new Sweeper.
func New(flights FlightLister, verifier StoredVerifier, cfg Config, logger *zap.Logger) *Sweeper {
	if cfg.Interval == 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.BatchLimit == 0 {
		cfg.BatchLimit = 500
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 3
	}

	return &Sweeper{
		flights:   flights,
		verifier:  verifier,
		errCounts: make(map[string]int),
		alerted:   make(map[string]bool),
		cfg:       cfg,
		logger:    logger,
	}
}

// SetAlert configures the tamper alert callback.
func (s *Sweeper) SetAlert(fn AlertFunc) {
	s.onAlert = fn
}

// SetMetricsRecord configures the metrics recording callback.
func (s *Sweeper) SetMetricsRecord(fn MetricsRecordFunc) {
	s.onMetrics = fn
}

// Start runs the sweep loop until stop is closed. It takes a dedicated
// channel rather than the process signal channel: a signal is delivered
// to a single receiver, and the server's own shutdown path must not race
// the sweeper for it.
func (s *Sweeper) Start(stop <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Interval-time.Second)
			s.SweepAll(ctx)
			cancel()
		case <-stop:
			return
		}
	}
}

// SweepAll re-verifies every known flight with bounded concurrency.
func (s *Sweeper) SweepAll(ctx context.Context) {
	flights, err := s.flights.ListFlights(ctx, s.cfg.BatchLimit)
	if err != nil {
		s.logger.Error("sweep: list flights", zap.Error(err))
		return
	}

	sem := make(chan struct{}, 10)
	var wg sync.WaitGroup

	for _, f := range flights {
		wg.Add(1)
		go func(f *model.Flight) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			s.sweepOne(ctx, f)
		}(f)
	}

	wg.Wait()
}

func (s *Sweeper) sweepOne(ctx context.Context, f *model.Flight) {
	report, err := s.verifier.VerifyStored(ctx, f.MissionID)
	if err != nil {
		// Flights with no checkpoint or anchored digest yet have
		// nothing to verify against; skip them quietly.
		if errors.Is(err, service.ErrNoExpectation) {
			return
		}

		s.mu.Lock()
		s.errCounts[f.MissionID]++
		count := s.errCounts[f.MissionID]
		s.mu.Unlock()

		if s.onMetrics != nil {
			s.onMetrics("ERROR")
		}

		s.logger.Warn("sweep: verification error",
			zap.String("mission_id", f.MissionID),
			zap.Int("consecutive_errors", count),
			zap.Error(err),
		)
		// Alert exactly at the threshold to avoid repeating every tick.
		if count == s.cfg.FailThreshold && s.onAlert != nil {
			s.onAlert(ctx, EventVerifyFailed, map[string]string{
				"mission_id": f.MissionID,
				"error":      err.Error(),
			})
		}
		return
	}

	s.mu.Lock()
	s.errCounts[f.MissionID] = 0
	alreadyAlerted := s.alerted[f.MissionID]
	if report.Tampered() {
		s.alerted[f.MissionID] = true
	}
	s.mu.Unlock()

	if s.onMetrics != nil {
		s.onMetrics(string(report.Result))
	}

	if !report.Tampered() {
		return
	}

	fields := []zap.Field{
		zap.String("mission_id", f.MissionID),
		zap.String("recomputed_digest", report.RecomputedDigest.Hex()),
		zap.String("expected_digest", report.ExpectedDigest.Hex()),
	}
	if report.FirstDivergence != nil {
		fields = append(fields, zap.Uint64("first_divergence_index", *report.FirstDivergence))
	}
	s.logger.Error("sweep: flight log TAMPERED", fields...)

	// A tampered log stays tampered; alert once, not every interval.
	if alreadyAlerted || s.onAlert == nil {
		return
	}
	payload := map[string]string{
		"mission_id":        f.MissionID,
		"recomputed_digest": report.RecomputedDigest.Hex(),
		"expected_digest":   report.ExpectedDigest.Hex(),
	}
	if report.FirstDivergence != nil {
		payload["first_divergence_index"] = strconv.FormatUint(*report.FirstDivergence, 10)
	}
	s.onAlert(ctx, EventTampered, payload)
}
