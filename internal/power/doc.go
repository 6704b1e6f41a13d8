// Package power polls the rack energy meter over Modbus TCP.
//
// AV racks sit behind a metered PDU; the poller samples its input
// registers on a fixed interval and feeds the samples into the
// telemetry hub as ordinary readings, so dashboards and sinks treat
// rack power exactly like device telemetry.
package power
