package provision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/in-res/domoprov/internal/inventory"
)

// Outcome strings recorded per device.
const (
	OutcomeProvisioned = "provisioned"
	OutcomeSkipped     = "skipped"
	OutcomeError       = "error"
)

// Recorder receives per-device outcomes and the run summary.
// *influxdb.Client satisfies it.
type Recorder interface {
	WriteProvisionOutcome(runID, mac, firmware, outcome string, duration time.Duration) error
	WriteRunSummary(runID string, processed, succeeded, errored, skipped int) error
}

// DeviceResult is the outcome of one inventory record.
type DeviceResult struct {
	MAC      string
	Hostname string
	Firmware string
	Outcome  string
	Err      error
	Duration time.Duration
}

// Result is the outcome of a whole run.
type Result struct {
	RunID     string
	Processed int
	Succeeded int
	Errored   int
	Skipped   int
	Devices   []DeviceResult
}

// Runner walks the inventory and provisions every enabled device through
// the first handler matching its firmware family.
type Runner struct {
	repo     inventory.Repository
	handlers []Handler
	logger   Logger
	recorder Recorder
}

// NewRunner creates a runner. recorder may be nil.
func NewRunner(repo inventory.Repository, handlers []Handler, logger Logger, recorder Recorder) *Runner {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Runner{repo: repo, handlers: handlers, logger: logger, recorder: recorder}
}

// Run loads the inventory and processes each record in order. A device
// failure is counted and logged but never stops the batch; cancellation
// between devices does. Every handler's PostProcess runs after the loop
// regardless of per-device outcomes.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	records, err := r.repo.LoadAll(ctx)
	if err != nil {
		return nil, err
	}

	result := &Result{
		RunID:   uuid.NewString(),
		Devices: make([]DeviceResult, 0, len(records)),
	}
	r.logger.Info("provisioning run started",
		"run_id", result.RunID, "records", len(records))

	for i := range records {
		if err := ctx.Err(); err != nil {
			r.logger.Warn("run cancelled",
				"run_id", result.RunID, "processed", result.Processed)
			return result, err
		}
		r.processRecord(ctx, &records[i], result)
	}

	postErr := r.postProcess(ctx)

	r.logger.Info("provisioning run finished",
		"run_id", result.RunID,
		"processed", result.Processed,
		"succeeded", result.Succeeded,
		"errored", result.Errored,
		"skipped", result.Skipped)

	r.recordSummary(result)
	return result, postErr
}

func (r *Runner) processRecord(ctx context.Context, rec *inventory.DeviceRecord, result *Result) {
	rec.Normalize()
	result.Processed++

	dr := DeviceResult{MAC: rec.MAC, Hostname: rec.Hostname, Firmware: rec.Firmware}
	start := time.Now()

	defer func() {
		dr.Duration = time.Since(start)
		result.Devices = append(result.Devices, dr)
		r.recordOutcome(result.RunID, dr)
	}()

	handler := r.match(rec)
	if handler == nil {
		dr.Outcome = OutcomeSkipped
		result.Skipped++
		r.logger.Debug("no handler for record",
			"mac", rec.MAC, "firmware", rec.Firmware)
		return
	}

	live, err := handler.IsLive(ctx, rec)
	if err != nil {
		dr.Outcome, dr.Err = OutcomeError, err
		result.Errored++
		r.logger.Error("liveness check failed",
			"mac", rec.MAC, "firmware", rec.Firmware, "error", err)
		return
	}
	if !live {
		dr.Outcome = OutcomeSkipped
		result.Skipped++
		return
	}

	if err := r.processSafe(ctx, handler, rec); err != nil {
		dr.Outcome, dr.Err = OutcomeError, err
		result.Errored++
		r.logger.Error("provisioning failed",
			"mac", rec.MAC, "hostname", rec.Hostname, "error", err)
		return
	}

	dr.Outcome = OutcomeProvisioned
	result.Succeeded++
	r.logger.Info("device provisioned",
		"mac", rec.MAC, "hostname", rec.Hostname,
		"duration", time.Since(start).Round(time.Millisecond))
}

// processSafe isolates a panicking handler to the device that triggered
// it; the rest of the batch still runs.
func (r *Runner) processSafe(ctx context.Context, h Handler, rec *inventory.DeviceRecord) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("handler panic: %v", v)
		}
	}()
	return h.Process(ctx, rec)
}

func (r *Runner) match(rec *inventory.DeviceRecord) Handler {
	for _, h := range r.handlers {
		if h.Matches(rec) {
			return h
		}
	}
	return nil
}

func (r *Runner) postProcess(ctx context.Context) error {
	var errs []error
	for _, h := range r.handlers {
		if err := h.PostProcess(ctx); err != nil {
			r.logger.Error("post-processing failed",
				"family", h.Family(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", h.Family(), err))
		}
	}
	return errors.Join(errs...)
}

func (r *Runner) recordOutcome(runID string, dr DeviceResult) {
	if r.recorder == nil {
		return
	}
	if err := r.recorder.WriteProvisionOutcome(runID, dr.MAC, dr.Firmware, dr.Outcome, dr.Duration); err != nil {
		r.logger.Debug("outcome not recorded", "mac", dr.MAC, "error", err)
	}
}

func (r *Runner) recordSummary(result *Result) {
	if r.recorder == nil {
		return
	}
	err := r.recorder.WriteRunSummary(result.RunID,
		result.Processed, result.Succeeded, result.Errored, result.Skipped)
	if err != nil {
		r.logger.Debug("summary not recorded", "run_id", result.RunID, "error", err)
	}
}
