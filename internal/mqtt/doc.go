// Package mqtt publishes coachd telemetry to an MQTT broker: a retained
// JSON stats snapshot refreshed on an interval, a few scalar state
// topics for dashboards, and an availability topic.
//
// The connection is managed by Eclipse Paho v2's [autopaho] package,
// which reconnects automatically. Every (re-)connect publishes "online"
// to the availability topic; a will message flips it to "offline" when
// the process disappears without a clean disconnect.
package mqtt
