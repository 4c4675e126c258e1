// Package domain holds the wire types and interfaces shared across the
// market-data distribution service: the pub/sub envelope, client frame
// formats, error codes, and the broker abstraction the Redis relay is
// built against.
package domain
