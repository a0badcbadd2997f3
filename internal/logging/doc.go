// Package logging provides the operational logger shared by every core
// subsystem (vault, sources, adapters, stats, supervisor, pipeline, jobs,
// enginestate, encounters). It wraps log/slog behind an atomic pointer so
// the sink can be reconfigured at startup (text vs JSON, level) without
// threading a logger through every constructor.
package logging
