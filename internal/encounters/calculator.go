package encounters

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oriys/skysweep/internal/logging"
)

// DefaultRadiusNM is the default spatial envelope radius in nautical
// miles.
const DefaultRadiusNM = 70.0

// DefaultProximityM is the default vertical/horizontal proximity
// threshold in metres.
const DefaultProximityM = 5500.0

// closeEncounterM is the 1 nautical mile cutoff below which a
// drone/plane pair counts as an actual encounter, not merely a
// candidate: one nautical mile in metres.
const closeEncounterM = 1852.0

// temporalWindow bounds how far apart in time a plane and drone point
// may be to be joined.
const temporalWindow = 2 * time.Second

// Params scopes one calculator run.
type Params struct {
	Day        time.Time
	Site       string
	SiteLon    float64
	SiteLat    float64
	RadiusNM   float64
	ProximityM float64
}

func (p Params) radiusNM() float64 {
	if p.RadiusNM <= 0 {
		return DefaultRadiusNM
	}
	return p.RadiusNM
}

func (p Params) proximityM() float64 {
	if p.ProximityM <= 0 {
		return DefaultProximityM
	}
	return p.ProximityM
}

// Calculator runs the five-stage encounter pipeline against a
// connection pool.
type Calculator struct {
	pool *pgxpool.Pool
}

// New builds a Calculator over an already-configured pool. Each run
// acquires, queries, and releases; no transaction is held across
// stages.
func New(pool *pgxpool.Pool) *Calculator {
	return &Calculator{pool: pool}
}

// SelectPlanes builds the day-scoped plane point set within the radius
// envelope around the site.
func (c *Calculator) SelectPlanes(ctx context.Context, p Params) ([]PlanePoint, error) {
	dayEnd := p.Day.Add(24 * time.Hour)
	rDeg := degreesForRadiusNM(p.radiusNM())

	rows, err := c.pool.Query(ctx,
		`SELECT time, prox_id, prox_callsign, prox_lon, prox_lat, prox_alt
		 FROM airplanes
		 WHERE site = $1 AND time >= $2 AND time < $3
		   AND prox_alt IS NOT NULL
		   AND prox_lon BETWEEN $4 - $6 AND $4 + $6
		   AND prox_lat BETWEEN $5 - $6 AND $5 + $6`,
		p.Site, p.Day, dayEnd, p.SiteLon, p.SiteLat, rDeg)
	if err != nil {
		return nil, fmt.Errorf("encounters: select planes: %w", err)
	}
	defer rows.Close()

	var out []PlanePoint
	for rows.Next() {
		var pt PlanePoint
		if err := rows.Scan(&pt.Time, &pt.Addr, &pt.Callsign, &pt.Lon, &pt.Lat, &pt.AltM); err != nil {
			return nil, fmt.Errorf("encounters: scan plane point: %w", err)
		}
		out = append(out, pt)
	}
	return out, rows.Err()
}

// SelectDrones builds the day-scoped drone point set within the same
// radius envelope around the site as SelectPlanes.
func (c *Calculator) SelectDrones(ctx context.Context, p Params) ([]DronePoint, error) {
	dayEnd := p.Day.Add(24 * time.Hour)
	rDeg := degreesForRadiusNM(p.radiusNM())

	rows, err := c.pool.Query(ctx,
		`SELECT journey, ident, model, timestamp, longitude, latitude, altitude,
		        elevation, home_lat, home_lon, home_distance_m
		 FROM drones
		 WHERE timestamp >= $1 AND timestamp < $2
		   AND longitude BETWEEN $3 - $5 AND $3 + $5
		   AND latitude BETWEEN $4 - $5 AND $4 + $5`,
		p.Day, dayEnd, p.SiteLon, p.SiteLat, rDeg)
	if err != nil {
		return nil, fmt.Errorf("encounters: select drones: %w", err)
	}
	defer rows.Close()

	var out []DronePoint
	for rows.Next() {
		var d DronePoint
		if err := rows.Scan(&d.Journey, &d.Ident, &d.Model, &d.Timestamp, &d.Lon, &d.Lat,
			&d.Alt, &d.Elevation, &d.HomeLat, &d.HomeLon, &d.HomeDistM); err != nil {
			return nil, fmt.Errorf("encounters: scan drone point: %w", err)
		}
		d.Time = d.Timestamp
		out = append(out, d)
	}
	return out, rows.Err()
}

// FindClose joins planes and drones on the temporal window and the
// proximity threshold, computing dist2d/dist3d in Go.
func (c *Calculator) FindClose(planes []PlanePoint, drones []DronePoint, proximityM float64) []CloseRow {
	var out []CloseRow
	for _, d := range drones {
		for _, p := range planes {
			delta := p.Time.Sub(d.Time)
			if delta < 0 {
				delta = -delta
			}
			if delta > temporalWindow {
				continue
			}
			diffAlt := math.Abs(p.AltM - d.Alt)
			if diffAlt > proximityM {
				continue
			}
			d2 := dist2d(d.Lon, d.Lat, p.Lon, p.Lat)
			if d2 > proximityM {
				continue
			}
			d3 := dist3d(d.Lon, d.Lat, d.Alt, p.Lon, p.Lat, p.AltM)
			out = append(out, CloseRow{Plane: p, Drone: d, Dist2D: d2, Dist3D: d3, DiffAlt: diffAlt})
		}
	}
	return out
}

// IdentifyEncounters groups close rows by (journey, drone ident,
// callsign), keeping the minimum-distance row per group and assigning
// a stable sequence-numbered id.
func (c *Calculator) IdentifyEncounters(site string, day time.Time, rows []CloseRow) []Encounter {
	type groupKey struct {
		journey  string
		ident    string
		callsign string
	}

	groups := make(map[groupKey][]CloseRow)
	order := make([]groupKey, 0)
	for _, r := range rows {
		if r.Dist3D >= closeEncounterM {
			continue
		}
		key := groupKey{journey: r.Drone.Journey, ident: r.Drone.Ident, callsign: r.Plane.Callsign}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], r)
	}

	sort.Slice(order, func(i, j int) bool {
		if order[i].journey != order[j].journey {
			return order[i].journey < order[j].journey
		}
		if order[i].ident != order[j].ident {
			return order[i].ident < order[j].ident
		}
		return order[i].callsign < order[j].callsign
	})

	dayTag := day.Format("20060102")
	seqByJourney := make(map[string]int)

	var out []Encounter
	for _, key := range order {
		group := groups[key]
		best := minDist3D(group)

		seqByJourney[key.journey]++
		seq := seqByJourney[key.journey]

		out = append(out, Encounter{
			ID:         fmt.Sprintf("%s-%s-%s-%d", site, dayTag, key.journey, seq),
			Site:       site,
			Day:        day,
			Journey:    key.journey,
			DroneIdent: key.ident,
			Callsign:   key.callsign,
			Seq:        seq,
			MinDist2D:  best.Dist2D,
			MinDist3D:  best.Dist3D,
			DiffAlt:    best.DiffAlt,
			PlaneLon:   best.Plane.Lon,
			PlaneLat:   best.Plane.Lat,
			PlaneAlt:   best.Plane.AltM,
			DroneLon:   best.Drone.Lon,
			DroneLat:   best.Drone.Lat,
			DroneAlt:   best.Drone.Alt,
			HomeDistM:  best.Drone.HomeDistM,
		})
	}
	return out
}

// minDist3D picks the minimum-dist3d row in a group, breaking ties by
// plane address then plane time, so reruns pick the same row.
func minDist3D(group []CloseRow) CloseRow {
	best := group[0]
	for _, r := range group[1:] {
		switch {
		case r.Dist3D < best.Dist3D:
			best = r
		case r.Dist3D == best.Dist3D && r.Plane.Addr < best.Plane.Addr:
			best = r
		case r.Dist3D == best.Dist3D && r.Plane.Addr == best.Plane.Addr && r.Plane.Time.Before(best.Plane.Time):
			best = r
		}
	}
	return best
}

// PersistEncounters upserts one row per encounter into airplane_prox,
// idempotent on en_id.
func (c *Calculator) PersistEncounters(ctx context.Context, encs []Encounter) (int, error) {
	var persisted int
	for _, e := range encs {
		tag, err := c.pool.Exec(ctx,
			`INSERT INTO airplane_prox
			   (en_id, site, day, journey, drone_ident, callsign, seq,
			    min_dist2d, min_dist3d, diff_alt,
			    plane_lon, plane_lat, plane_alt, drone_lon, drone_lat, drone_alt, home_dist_m)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
			 ON CONFLICT (en_id) DO NOTHING`,
			e.ID, e.Site, e.Day, e.Journey, e.DroneIdent, e.Callsign, e.Seq,
			e.MinDist2D, e.MinDist3D, e.DiffAlt,
			e.PlaneLon, e.PlaneLat, e.PlaneAlt, e.DroneLon, e.DroneLat, e.DroneAlt, e.HomeDistM)
		if err != nil {
			return persisted, fmt.Errorf("encounters: persist %s: %w", e.ID, err)
		}
		persisted += int(tag.RowsAffected())
	}
	return persisted, nil
}

// recordDailyStats writes one run-history row.
func (c *Calculator) recordDailyStats(ctx context.Context, r Result) error {
	_, err := c.pool.Exec(ctx,
		`INSERT INTO daily_stats (day, site_name, status, stats, comment)
		 VALUES ($1, $2, $3, $4, $5)`,
		r.Day, r.Site, string(r.Status),
		fmt.Sprintf(`{"planes":%d,"drones":%d,"close_rows":%d,"encounters":%d,"persisted_new":%d}`,
			r.Planes, r.Drones, r.CloseRows, r.Encounters, r.PersistedNew),
		r.Comment())
	return err
}

// Run executes all five stages in order, checking ctx.Err() between
// each. A stage yielding zero rows short-circuits with the matching
// typed status instead of an error.
func (c *Calculator) Run(ctx context.Context, p Params) (Result, error) {
	result := Result{Day: p.Day, Site: p.Site}

	planes, err := c.SelectPlanes(ctx, p)
	if err != nil {
		return result, err
	}
	result.Planes = len(planes)
	if len(planes) == 0 {
		result.Status = StatusNoPlanes
		return result, c.recordDailyStats(ctx, result)
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	drones, err := c.SelectDrones(ctx, p)
	if err != nil {
		return result, err
	}
	result.Drones = len(drones)
	if len(drones) == 0 {
		result.Status = StatusNoDrones
		return result, c.recordDailyStats(ctx, result)
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	closeRows := c.FindClose(planes, drones, p.proximityM())
	result.CloseRows = len(closeRows)
	if len(closeRows) == 0 {
		result.Status = StatusNoPotential
		return result, c.recordDailyStats(ctx, result)
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	encs := c.IdentifyEncounters(p.Site, p.Day, closeRows)
	result.Encounters = len(encs)
	if err := ctx.Err(); err != nil {
		return result, err
	}

	persisted, err := c.PersistEncounters(ctx, encs)
	if err != nil {
		return result, err
	}
	result.PersistedNew = persisted
	if persisted == 0 {
		result.Status = StatusNoNewEncounters
		return result, c.recordDailyStats(ctx, result)
	}

	result.Status = StatusOK
	if err := c.recordDailyStats(ctx, result); err != nil {
		logging.Op().Warn("encounters: failed to record daily_stats", "site", p.Site, "day", p.Day, "error", err)
	}
	return result, nil
}
