// Package ws implements the WebSocket connection manager: the connection
// registry, the symbol and user subscription indexes, the broadcast queue
// and its worker, and the heartbeat monitor. The Manager is the only type
// exposed to external callers; registry and index state is mutated solely
// through its methods.
//
// Delivery is at-most-once. There is no replay log: a message published
// before a subscribe call is never seen by that late subscriber, and a
// send failure disconnects only the failing connection.
package ws
