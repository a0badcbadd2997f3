// Package jobs owns job identity and lifecycle: the
// Created->Ready->Queued->Running->{Completed|Failed} state machine,
// submission from a textual (YAML) description, and removal. Jobs live
// in a single in-process map; durable bookkeeping (id allocation, the
// pending queue) is delegated to enginestate.
package jobs

import (
	"time"

	"github.com/oriys/skysweep/internal/sources"
)

// State is the Job lifecycle.
type State string

const (
	StateCreated   State = "created"
	StateReady     State = "ready"
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// validTransitions enumerates the edges of the state graph.
var validTransitions = map[State][]State{
	StateCreated: {StateReady},
	StateReady:   {StateQueued},
	StateQueued:  {StateRunning},
	StateRunning: {StateCompleted, StateFailed},
}

func (s State) canTransitionTo(next State) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// TaskSpec names one pipeline stage in a job description: the site it
// binds to (for Producer/Consumer stages) or a transform kind (for
// middle Filter/Cache stages), plus the Filter controlling a
// producer/consumer fetch or stream call.
type TaskSpec struct {
	Site   string     `yaml:"site,omitempty"`
	Kind   string     `yaml:"kind,omitempty"`
	Filter FilterSpec `yaml:"filter,omitempty"`
}

// FilterSpec is the textual form of sources.Filter,
// decoded from YAML with plain scalar fields so job descriptions don't
// need to spell out Go's time.Duration encoding.
type FilterSpec struct {
	Variant         string  `yaml:"variant,omitempty"` // none|duration|interval|altitude|stream|keyword
	DurationS       int64   `yaml:"duration_s,omitempty"`
	Begin           string  `yaml:"begin,omitempty"` // RFC3339
	End             string  `yaml:"end,omitempty"`
	AltMin          float64 `yaml:"alt_min,omitempty"`
	AltMax          float64 `yaml:"alt_max,omitempty"`
	AltDurationS    int64   `yaml:"alt_duration_s,omitempty"`
	StreamDurationS int64   `yaml:"stream_duration_s,omitempty"`
	StreamDelayS    int64   `yaml:"stream_delay_s,omitempty"`
	StreamFrom      string  `yaml:"stream_from,omitempty"`
	KeywordName     string  `yaml:"keyword_name,omitempty"`
	KeywordValue    string  `yaml:"keyword_value,omitempty"`
}

// ToFilter converts the textual spec into a sources.Filter, ignoring
// malformed timestamps by leaving them zero; adapters already ignore
// filter fields they do not recognize.
func (f FilterSpec) ToFilter() sources.Filter {
	parseTime := func(s string) time.Time {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}
		}
		return t
	}

	switch f.Variant {
	case "duration":
		return sources.Filter{Kind: sources.FilterDuration, Duration: time.Duration(f.DurationS) * time.Second}
	case "interval":
		return sources.Filter{Kind: sources.FilterInterval, Begin: parseTime(f.Begin), End: parseTime(f.End)}
	case "altitude":
		return sources.Filter{
			Kind:        sources.FilterAltitude,
			AltMin:      f.AltMin,
			AltMax:      f.AltMax,
			AltDuration: time.Duration(f.AltDurationS) * time.Second,
		}
	case "stream":
		return sources.Filter{
			Kind:           sources.FilterStream,
			StreamDuration: time.Duration(f.StreamDurationS) * time.Second,
			StreamDelay:    time.Duration(f.StreamDelayS) * time.Second,
			StreamFrom:     parseTime(f.StreamFrom),
		}
	case "keyword":
		return sources.Filter{Kind: sources.FilterKeyword, KeywordName: f.KeywordName, KeywordValue: f.KeywordValue}
	default:
		return sources.Filter{Kind: sources.FilterNone}
	}
}

// Spec is the decoded textual job description accepted by SubmitJob.
type Spec struct {
	Name     string     `yaml:"name"`
	Producer TaskSpec   `yaml:"producer"`
	Stages   []TaskSpec `yaml:"stages,omitempty"`
	Consumer TaskSpec   `yaml:"consumer"`
}

// Job is one pipeline run tracked by the Manager.
type Job struct {
	ID       uint64
	Name     string
	State    State
	Producer TaskSpec
	Stages   []TaskSpec
	Consumer TaskSpec
}
