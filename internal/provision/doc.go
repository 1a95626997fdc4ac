// Package provision implements the batch provisioning pipeline: one
// handler per firmware family (Tasmota, WLED, Zigbee) and a Runner that
// walks the inventory, resolves and probes each device, and pushes its
// full configuration.
//
// HTTP families (Tasmota, WLED) dump the device's current configuration
// into a per-run backup directory before writing anything, then apply
// identity, time, rules/presets and finally the network/MQTT block that
// reboots the device. The Zigbee family has no per-device transport: it
// stages device blocks in memory and hands the assembled document to the
// zigbee2mqtt bridge once, in PostProcess.
//
// A device failure is isolated to that device; the batch keeps going and
// the run result carries per-device outcomes for the exit code and the
// optional history recorder.
package provision
