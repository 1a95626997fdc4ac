// Package influxdb records provisioning history to InfluxDB.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, history writing, and health monitoring. The integration is
// optional: when disabled in config, runs simply don't record history.
//
// # Purpose
//
// This package stores time-series history of:
//   - Per-device provisioning outcomes (provisioned, skipped, error)
//   - Per-run summaries (processed/succeeded/errored/skipped counts)
//
// # Usage
//
//	cfg := config.InfluxDBConfig{
//	    URL:    "http://localhost:8086",
//	    Token:  "your-token",
//	    Org:    "in-res",
//	    Bucket: "provisioning",
//	}
//
//	client, err := influxdb.Connect(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.WriteProvisionOutcome(runID, mac, "tasmota", "provisioned", elapsed)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are logged via a callback.
// Connection and health check errors are returned directly.
package influxdb
