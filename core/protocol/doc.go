// Package protocol holds the VDA5050 data model shared by both roles: the
// participant identity, the closed set of message kinds with their retain and
// direction properties, the common message header and the error taxonomy used
// across the engine.
package protocol
