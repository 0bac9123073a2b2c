// Package infra groups the adapters behind the core interfaces: the Paho
// MQTT transport, the metrics sinks, the Sentry monitor, the zerolog logger
// and the traffic journal. Nothing under core imports these packages; the
// app package wires them in.
package infra
