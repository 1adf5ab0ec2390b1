package client

import (
	"time"

	"github.com/go-logr/logr"
)

// Option configures a Client at construction, following the same
// functional-options shape used throughout this codebase.
type Option func(*Client) error

// WithKeepaliveInterval sets the baseline renewal cadence, typically
// 30s. The default is 30 seconds.
func WithKeepaliveInterval(d time.Duration) Option {
	return func(c *Client) error {
		c.keepaliveInterval = d
		return nil
	}
}

// WithLogger sets the logger used for the non-fatal conditions the
// engine swallows to keep its loop alive (transport errors, malformed
// packets, unknown mappings).
func WithLogger(logger logr.Logger) Option {
	return func(c *Client) error {
		c.logger = logger
		return nil
	}
}

// WithCommandBuffer sets the capacity of the inbound command channel.
// The default is 32.
func WithCommandBuffer(n int) Option {
	return func(c *Client) error {
		c.commands = make(chan Command, n)
		return nil
	}
}

// WithNotificationBuffer sets the capacity of the outbound notification
// channel read by the status listener. The default is 64.
func WithNotificationBuffer(n int) Option {
	return func(c *Client) error {
		c.notifications = make(chan NotifiedMapping, n)
		return nil
	}
}
