// Package broadcast publishes decoded samples as JSON messages on a watermill
// publisher: an in-process gochannel by default, or NATS for remote viewers.
package broadcast
