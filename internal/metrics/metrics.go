package metrics

import "time"

// Recorder receives dispatch metrics. Implementations must be safe for
// concurrent use.
type Recorder interface {
	// ClaimOutcome counts a claim attempt by result code ("ok", "ALREADY_CLAIMED", ...).
	ClaimOutcome(outcome string)
	// ClaimRetry counts a claim transaction retried after a conflict.
	ClaimRetry()
	// ClaimsReaped counts claims expired by the reaper.
	ClaimsReaped(n int)
	// CapacityUnderflow counts releases that would have taken capacity below zero.
	CapacityUnderflow()
	// OptimizerRun records the outcome of an optimization pass.
	OptimizerRun(routes, assigned, unassigned int, d time.Duration)
	// MonitorCycle records a completed or failed scan cycle.
	MonitorCycle(d time.Duration, failed bool)
	// MonitorBreaches records the current breach count for a priority class.
	MonitorBreaches(class string, n int)
	// NotificationDropped counts notifications discarded on a full queue.
	NotificationDropped()
}

// HTTPRecorder receives per-request HTTP metrics.
type HTTPRecorder interface {
	HTTPRequest(method, route string, status int, d time.Duration)
}

// Nop discards every metric.
type Nop struct{}

func (Nop) ClaimOutcome(string)                       {}
func (Nop) ClaimRetry()                               {}
func (Nop) ClaimsReaped(int)                          {}
func (Nop) CapacityUnderflow()                        {}
func (Nop) OptimizerRun(int, int, int, time.Duration) {}
func (Nop) MonitorCycle(time.Duration, bool)          {}
func (Nop) MonitorBreaches(string, int)               {}
func (Nop) NotificationDropped()                      {}
