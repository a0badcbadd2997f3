// Package encounters computes close-encounter events between drone
// journeys and aircraft: a day-scoped SQL pipeline that joins plane
// and drone position points within a spatial envelope and a temporal
// window, producing stable, idempotently-persisted encounter rows.
// Queries go straight through pgxpool (plain SELECT + rows.Scan, no
// ORM) against the airplanes/drones views and the airplane_prox and
// daily_stats tables.
package encounters

import "time"

// PlanePoint is one row of the `airplanes` view within the day/site
// scope.
type PlanePoint struct {
	Time     time.Time
	Addr     string
	Callsign string
	Lon      float64
	Lat      float64
	AltM     float64
}

// DronePoint is one row of the `drones` view within the day/site
// scope.
type DronePoint struct {
	Time        time.Time
	Journey     string
	Ident       string
	Model       string
	Timestamp   time.Time
	Lon         float64
	Lat         float64
	Alt         float64
	Elevation   float64
	HomeLat     float64
	HomeLon     float64
	HomeDistM   float64
}

// CloseRow is one drone/plane pair surviving the proximity join.
type CloseRow struct {
	Plane   PlanePoint
	Drone   DronePoint
	Dist2D  float64
	Dist3D  float64
	DiffAlt float64
}

// Encounter is a computed row keyed by a stable identifier of the
// form <site>-<yyyymmdd>-<journey>-<seq>.
type Encounter struct {
	ID          string
	Site        string
	Day         time.Time
	Journey     string
	DroneIdent  string
	Callsign    string
	Seq         int
	MinDist2D   float64
	MinDist3D   float64
	DiffAlt     float64
	PlaneLon    float64
	PlaneLat    float64
	PlaneAlt    float64
	DroneLon    float64
	DroneLat    float64
	DroneAlt    float64
	HomeDistM   float64
}

// Status is the typed outcome family for a calculator run. The
// no-data statuses are results, not errors.
type Status string

const (
	StatusOK              Status = "ok"
	StatusNoPlanes        Status = "no_planes"
	StatusNoDrones        Status = "no_drones"
	StatusNoPotential     Status = "no_potential"
	StatusNoNewEncounters Status = "no_new_encounters"
)

// Result is the structured summary returned by Run, recorded verbatim
// into daily_stats.
type Result struct {
	Status       Status
	Day          time.Time
	Site         string
	Planes       int
	Drones       int
	CloseRows    int
	Encounters   int
	PersistedNew int
}

// Comment renders a short human-readable summary for the daily_stats
// `comment` column.
func (r Result) Comment() string {
	switch r.Status {
	case StatusNoPlanes:
		return "no plane points in window"
	case StatusNoDrones:
		return "no drone points in window"
	case StatusNoPotential:
		return "no plane/drone pairs within proximity envelope"
	case StatusNoNewEncounters:
		return "encounters computed but none were new"
	default:
		return "ok"
	}
}
