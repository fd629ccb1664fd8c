package domain

import "time"

// UpdateResult labels the outcome of a configuration update.
type UpdateResult string

const (
	// UpdateResultApplied indicates the update was applied.
	UpdateResultApplied UpdateResult = "applied"
	// UpdateResultRejected indicates the update was rejected and the
	// previous value kept.
	UpdateResultRejected UpdateResult = "rejected"
	// UpdateResultFallback indicates the update failed and the backup value
	// was installed instead.
	UpdateResultFallback UpdateResult = "fallback"
)

// Metrics receives operational signals from the bridge components.
type Metrics interface {
	// ObserveConfigUpdate records one configuration push by kind
	// (model/prompt/tools) and outcome.
	ObserveConfigUpdate(kind string, result UpdateResult)
	// ObserveModelSwap records a provider swap.
	ObserveModelSwap(provider string)
	// ObserveToolNotify records one observer notification round for a tool
	// source.
	ObserveToolNotify(source string, observers int)
	// ObserveInit records a component initialization attempt.
	ObserveInit(component string, success bool, duration time.Duration)
	// ObserveRemoteSend records a remote agent exchange.
	ObserveRemoteSend(success bool, duration time.Duration)
}

// NopMetrics discards all observations.
type NopMetrics struct{}

func (NopMetrics) ObserveConfigUpdate(string, UpdateResult) {}
func (NopMetrics) ObserveModelSwap(string)                  {}
func (NopMetrics) ObserveToolNotify(string, int)            {}
func (NopMetrics) ObserveInit(string, bool, time.Duration)  {}
func (NopMetrics) ObserveRemoteSend(bool, time.Duration)    {}
