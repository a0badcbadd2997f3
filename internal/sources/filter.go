package sources

import "time"

// FilterKind discriminates the Filter tagged union.
type FilterKind string

const (
	FilterNone     FilterKind = "none"
	FilterDuration FilterKind = "duration"
	FilterInterval FilterKind = "interval"
	FilterAltitude FilterKind = "altitude"
	FilterStream   FilterKind = "stream"
	FilterKeyword  FilterKind = "keyword"
)

// Filter controls a single fetch or stream call. Adapters ignore
// variants they don't recognize.
type Filter struct {
	Kind FilterKind

	// FilterDuration
	Duration time.Duration

	// FilterInterval
	Begin time.Time
	End   time.Time

	// FilterAltitude
	AltMin, AltMax float64
	AltDuration    time.Duration

	// FilterStream
	StreamDuration time.Duration
	StreamDelay    time.Duration
	StreamFrom     time.Time

	// FilterKeyword
	KeywordName  string
	KeywordValue string
}

// Infinite reports whether a duration-style filter means "run
// forever": a zero duration is infinite.
func (f Filter) Infinite() bool {
	switch f.Kind {
	case FilterDuration:
		return f.Duration <= 0
	case FilterStream:
		return f.StreamDuration <= 0
	default:
		return true
	}
}
