// Package timeouts defines shared timeout constants used across services.
// Centralizing these values prevents drift between service boundaries and
// makes the durations discoverable.
package timeouts

import "time"

// SendAttempt caps one provider send invocation. A timed-out attempt counts
// against the channel retry budget.
const SendAttempt = 10 * time.Second

// ClaimLease is how long a processor instance owns a claimed queue entry
// before other instances may reclaim it.
const ClaimLease = 2 * time.Minute

// StoreOp caps one storage round trip outside the processor loop.
const StoreOp = 5 * time.Second

// Shutdown limits how long a binary waits for in-flight work during
// graceful shutdown.
const Shutdown = 5 * time.Second
