// Package redis implements the cross-process relay: a typed publisher that
// pushes market-data envelopes onto Redis channels, and a reference-counted
// subscriber that forwards inbound channel messages into the local broadcast
// queue, reconnecting with bounded backoff on connection loss.
//
// Delivery across the relay is at-most-once: there is no replay log, and a
// message published during a reconnect gap is lost to this process.
package redis
