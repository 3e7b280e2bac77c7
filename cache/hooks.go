package cache

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The cache calls them on hot paths.
type Hooks interface {
	// An entry was deleted by the cache on read.
	// reason ∈ {"value_decode"}
	SelfHeal(key, reason string)

	// Provider returned ok=false on Set (backpressure/eviction).
	SetRejected(key string)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) SelfHeal(string, string) {}
func (NopHooks) SetRejected(string)      {}

// LogHooks forwards hook events to a Logger at warn level.
type LogHooks struct{ Log Logger }

func (h LogHooks) SelfHeal(key, reason string) {
	h.Log.Warn("cache self-heal", Fields{"key": key, "reason": reason})
}

func (h LogHooks) SetRejected(key string) {
	h.Log.Warn("cache set rejected under pressure", Fields{"key": key})
}
