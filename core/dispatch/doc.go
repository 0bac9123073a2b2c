// Package dispatch routes inbound VDA5050 deliveries to registered handlers.
//
// Each message kind owns one lane: a goroutine draining a bounded FIFO
// queue. Messages of one kind reach handlers strictly in delivery order while
// different kinds are handled concurrently. A full lane blocks Deliver, which
// pushes back on the transport instead of dropping or reordering.
//
// Handler errors and panics stay inside the lane. They are logged, reported
// to the monitor and published as DispatchError values.
package dispatch
