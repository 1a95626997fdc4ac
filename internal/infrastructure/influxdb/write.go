package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteProvisionOutcome records the result of provisioning a single device.
//
// The write is non-blocking; points are batched and sent asynchronously,
// so a nil return means the point was enqueued, not that it reached the
// server. Send failures surface through the SetOnError callback.
//
// Parameters:
//   - runID: Identifier of the provisioning run this outcome belongs to
//   - mac: Device MAC address (lowercase)
//   - firmware: Firmware family ("tasmota", "zigbee", "wled")
//   - outcome: One of "provisioned", "skipped", "error"
//   - duration: Wall-clock time spent on the device
//
// Returns:
//   - error: ErrNotConnected when the client is closed, nil otherwise
//
// Example:
//
//	err := client.WriteProvisionOutcome(runID, "aa:bb:cc:dd:ee:ff", "tasmota",
//	    "provisioned", 12*time.Second)
func (c *Client) WriteProvisionOutcome(runID, mac, firmware, outcome string, duration time.Duration) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	point := write.NewPoint(
		"provision_outcome",
		map[string]string{
			"run_id":   runID,
			"firmware": firmware,
			"outcome":  outcome,
		},
		map[string]interface{}{
			"mac":              mac,
			"duration_seconds": duration.Seconds(),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
	return nil
}

// WriteRunSummary records the aggregate result of a provisioning run.
//
// Parameters:
//   - runID: Identifier of the provisioning run
//   - processed: Number of devices attempted
//   - succeeded: Number of devices fully provisioned
//   - errored: Number of devices that failed
//   - skipped: Number of devices skipped (disabled or unmatched)
//
// Returns:
//   - error: ErrNotConnected when the client is closed, nil otherwise
func (c *Client) WriteRunSummary(runID string, processed, succeeded, errored, skipped int) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	point := write.NewPoint(
		"provision_run",
		map[string]string{
			"run_id": runID,
		},
		map[string]interface{}{
			"processed": processed,
			"succeeded": succeeded,
			"errored":   errored,
			"skipped":   skipped,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
	return nil
}
