// Command skycalc runs the encounter calculator as a day-scoped batch
// job: today, yesterday, or an explicit [from, to) range of days, one
// Calculator.Run per day.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/oriys/skysweep/internal/config"
	"github.com/oriys/skysweep/internal/encounters"
	"github.com/oriys/skysweep/internal/logging"
)

func main() {
	var (
		processDataPath string
		site            string
		siteLon         float64
		siteLat         float64
		radiusNM        float64
		proximityM      float64
		day             string
		from            string
		to              string
		logLevel        string
	)

	cmd := &cobra.Command{
		Use:   "skycalc",
		Short: "Compute drone/aircraft proximity encounters for one or more days",
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.InitStructured("json", logLevel)
			logging.SetLevelFromString(logLevel)

			pdCfg, err := config.LoadProcessData(processDataPath)
			if err != nil {
				return fmt.Errorf("skycalc: %w", err)
			}

			days, err := resolveDays(day, from, to)
			if err != nil {
				return err
			}

			ctx := context.Background()
			dsn := buildDSN(pdCfg.DB)
			pool, err := pgxpool.New(ctx, dsn)
			if err != nil {
				return fmt.Errorf("skycalc: connect postgres: %w", err)
			}
			defer pool.Close()

			calc := encounters.New(pool)

			for _, d := range days {
				params := encounters.Params{
					Day:        d,
					Site:       site,
					SiteLon:    siteLon,
					SiteLat:    siteLat,
					RadiusNM:   radiusNM,
					ProximityM: withDefault(proximityM, pdCfg.Distances.Threshold),
				}
				result, err := calc.Run(ctx, params)
				if err != nil {
					return fmt.Errorf("skycalc: run %s: %w", d.Format("2006-01-02"), err)
				}
				fmt.Printf("%s %s: %s\n", d.Format("2006-01-02"), site, result.Comment())
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&processDataPath, "process-data", "process-data.hcl", "path to process-data.hcl")
	cmd.Flags().StringVar(&site, "site", "", "site name to scope the run to")
	cmd.Flags().Float64Var(&siteLon, "site-lon", 0, "site reference longitude")
	cmd.Flags().Float64Var(&siteLat, "site-lat", 0, "site reference latitude")
	cmd.Flags().Float64Var(&radiusNM, "radius-nm", encounters.DefaultRadiusNM, "spatial envelope radius in nautical miles")
	cmd.Flags().Float64Var(&proximityM, "proximity-m", 0, "proximity threshold in metres (0 uses process-data.hcl's distances.threshold)")
	cmd.Flags().StringVar(&day, "day", "", "run for a single day: 'today', 'yesterday', or YYYY-MM-DD")
	cmd.Flags().StringVar(&from, "from", "", "run for every day from this YYYY-MM-DD (inclusive)")
	cmd.Flags().StringVar(&to, "to", "", "...through this YYYY-MM-DD (exclusive)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug|info|warn|error)")
	cmd.MarkFlagRequired("site")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func withDefault(v, def float64) float64 {
	if v > 0 {
		return v
	}
	return def
}

// resolveDays turns the day/from/to flags into the set of UTC
// midnights to run the calculator against; a day spans
// [00:00, 24:00) UTC.
func resolveDays(day, from, to string) ([]time.Time, error) {
	today := time.Now().UTC().Truncate(24 * time.Hour)

	switch {
	case day == "today":
		return []time.Time{today}, nil
	case day == "yesterday":
		return []time.Time{today.AddDate(0, 0, -1)}, nil
	case day != "":
		d, err := time.Parse("2006-01-02", day)
		if err != nil {
			return nil, fmt.Errorf("skycalc: invalid --day %q: %w", day, err)
		}
		return []time.Time{d}, nil
	case from != "" && to != "":
		start, err := time.Parse("2006-01-02", from)
		if err != nil {
			return nil, fmt.Errorf("skycalc: invalid --from %q: %w", from, err)
		}
		end, err := time.Parse("2006-01-02", to)
		if err != nil {
			return nil, fmt.Errorf("skycalc: invalid --to %q: %w", to, err)
		}
		var days []time.Time
		for d := start; d.Before(end); d = d.AddDate(0, 0, 1) {
			days = append(days, d)
		}
		return days, nil
	default:
		return []time.Time{today}, nil
	}
}

func buildDSN(db config.DBBlock) string {
	if db.URL != "" {
		return db.URL
	}
	return fmt.Sprintf("postgres://%s:%s@localhost:5432/%s", db.User, db.Password, db.Database)
}
