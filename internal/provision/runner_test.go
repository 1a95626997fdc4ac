package provision

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/in-res/domoprov/internal/inventory"
)

// =====================================================================
// Test fakes
// =====================================================================

type fakeRepo struct {
	records []inventory.DeviceRecord
	err     error
}

func (r *fakeRepo) LoadAll(context.Context) ([]inventory.DeviceRecord, error) {
	return r.records, r.err
}

type fakeHandler struct {
	familyBase

	liveErr    error
	notLive    bool
	processErr error
	panics     bool
	postErr    error

	processed []string
	postCalls int
}

func newFakeHandler(family string) *fakeHandler {
	return &fakeHandler{
		familyBase: familyBase{family: family, logger: noopLogger{}},
	}
}

func (h *fakeHandler) IsLive(_ context.Context, rec *inventory.DeviceRecord) (bool, error) {
	if h.liveErr != nil {
		return false, h.liveErr
	}
	return !h.notLive, nil
}

func (h *fakeHandler) Process(_ context.Context, rec *inventory.DeviceRecord) error {
	if h.panics {
		panic("boom")
	}
	h.processed = append(h.processed, rec.MAC)
	return h.processErr
}

func (h *fakeHandler) PostProcess(context.Context) error {
	h.postCalls++
	return h.postErr
}

type fakeRecorder struct {
	outcomes  []string
	summaries int
}

func (r *fakeRecorder) WriteProvisionOutcome(_, mac, _, outcome string, _ time.Duration) error {
	r.outcomes = append(r.outcomes, mac+":"+outcome)
	return nil
}

func (r *fakeRecorder) WriteRunSummary(string, int, int, int, int) error {
	r.summaries++
	return nil
}

func record(mac, firmware string, state inventory.State) inventory.DeviceRecord {
	rec := *testRecord(firmware)
	rec.MAC = mac
	rec.State = state
	return rec
}

// =====================================================================
// Runs
// =====================================================================

func TestRunner_Run(t *testing.T) {
	repo := &fakeRepo{records: []inventory.DeviceRecord{
		record("aa0000000001", "tasmota", inventory.StateEnable),
		record("aa0000000002", "tasmota", inventory.StateDisable),
		record("aa0000000003", "wled", inventory.StateEnable),
		record("aa0000000004", "espsomething", inventory.StateEnable),
	}}

	tasmota := newFakeHandler("tasmota")
	wled := newFakeHandler("wled")
	recorder := &fakeRecorder{}

	r := NewRunner(repo, []Handler{tasmota, wled}, noopLogger{}, recorder)
	result, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.RunID == "" {
		t.Error("RunID is empty")
	}
	if result.Processed != 4 || result.Succeeded != 2 || result.Errored != 0 || result.Skipped != 2 {
		t.Errorf("result = %+v", result)
	}
	if len(tasmota.processed) != 1 || tasmota.processed[0] != "aa0000000001" {
		t.Errorf("tasmota processed %v", tasmota.processed)
	}
	if len(wled.processed) != 1 || wled.processed[0] != "aa0000000003" {
		t.Errorf("wled processed %v", wled.processed)
	}
	if tasmota.postCalls != 1 || wled.postCalls != 1 {
		t.Errorf("postCalls = %d/%d, want 1/1", tasmota.postCalls, wled.postCalls)
	}

	if len(recorder.outcomes) != 4 {
		t.Errorf("recorded outcomes = %v", recorder.outcomes)
	}
	if recorder.summaries != 1 {
		t.Errorf("recorded summaries = %d, want 1", recorder.summaries)
	}
}

func TestRunner_DeviceFailureDoesNotStopBatch(t *testing.T) {
	repo := &fakeRepo{records: []inventory.DeviceRecord{
		record("aa0000000001", "tasmota", inventory.StateEnable),
		record("aa0000000002", "tasmota", inventory.StateEnable),
	}}

	h := newFakeHandler("tasmota")
	h.processErr = errors.New("device exploded")

	result, err := NewRunner(repo, []Handler{h}, nil, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Errored != 2 || result.Succeeded != 0 {
		t.Errorf("result = %+v", result)
	}
	if len(h.processed) != 2 {
		t.Errorf("processed = %v, want both devices attempted", h.processed)
	}
	for _, dr := range result.Devices {
		if dr.Outcome != OutcomeError || dr.Err == nil {
			t.Errorf("device result = %+v", dr)
		}
	}
}

func TestRunner_PanicIsIsolated(t *testing.T) {
	repo := &fakeRepo{records: []inventory.DeviceRecord{
		record("aa0000000001", "tasmota", inventory.StateEnable),
	}}

	h := newFakeHandler("tasmota")
	h.panics = true

	result, err := NewRunner(repo, []Handler{h}, nil, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Errored != 1 {
		t.Errorf("result = %+v", result)
	}
}

func TestRunner_LivenessFailureCountsAsError(t *testing.T) {
	repo := &fakeRepo{records: []inventory.DeviceRecord{
		record("aa0000000001", "tasmota", inventory.StateEnable),
	}}

	h := newFakeHandler("tasmota")
	h.liveErr = ErrDeviceUnreachable

	result, err := NewRunner(repo, []Handler{h}, nil, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Errored != 1 || len(h.processed) != 0 {
		t.Errorf("result = %+v, processed = %v", result, h.processed)
	}
}

func TestRunner_NotLiveSkips(t *testing.T) {
	repo := &fakeRepo{records: []inventory.DeviceRecord{
		record("aa0000000001", "tasmota", inventory.StateEnable),
	}}

	h := newFakeHandler("tasmota")
	h.notLive = true

	result, err := NewRunner(repo, []Handler{h}, nil, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Skipped != 1 || len(h.processed) != 0 {
		t.Errorf("result = %+v, processed = %v", result, h.processed)
	}
}

func TestRunner_Cancellation(t *testing.T) {
	repo := &fakeRepo{records: []inventory.DeviceRecord{
		record("aa0000000001", "tasmota", inventory.StateEnable),
		record("aa0000000002", "tasmota", inventory.StateEnable),
	}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := NewRunner(repo, []Handler{newFakeHandler("tasmota")}, nil, nil).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
	if result == nil || result.Processed != 0 {
		t.Errorf("result = %+v, want no device processed", result)
	}
}

func TestRunner_RepositoryError(t *testing.T) {
	wantErr := errors.New("store locked")
	repo := &fakeRepo{err: wantErr}

	_, err := NewRunner(repo, nil, nil, nil).Run(context.Background())
	if !errors.Is(err, wantErr) {
		t.Errorf("Run() error = %v, want %v", err, wantErr)
	}
}

func TestRunner_PostProcessErrorsJoined(t *testing.T) {
	repo := &fakeRepo{records: []inventory.DeviceRecord{
		record("0x00124b0025e19f5c", "zigbee", inventory.StateEnable),
	}}

	h := newFakeHandler("zigbee")
	h.postErr = ErrBridgeUnavailable

	result, err := NewRunner(repo, []Handler{h}, nil, nil).Run(context.Background())
	if !errors.Is(err, ErrBridgeUnavailable) {
		t.Errorf("Run() error = %v, want ErrBridgeUnavailable", err)
	}
	if result.Succeeded != 1 {
		t.Errorf("result = %+v, device outcome must survive post failure", result)
	}
}
