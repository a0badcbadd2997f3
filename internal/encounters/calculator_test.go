package encounters

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFindCloseFiltersByWindowAndProximity(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	planes := []PlanePoint{
		{Time: base, Addr: "ABCD", Callsign: "UAL1", Lon: 0, Lat: 0, AltM: 1000},
		{Time: base.Add(10 * time.Second), Addr: "WXYZ", Callsign: "DAL2", Lon: 0, Lat: 0, AltM: 1000},
	}
	drones := []DronePoint{
		{Journey: "j1", Ident: "D1", Time: base, Timestamp: base, Lon: 0, Lat: 0, Alt: 1000},
	}

	c := &Calculator{}
	rows := c.FindClose(planes, drones, DefaultProximityM)
	require.Len(t, rows, 1, "the second plane is outside the 2s temporal window")
	require.Equal(t, "ABCD", rows[0].Plane.Addr)
}

func TestIdentifyEncountersGroupsAndPicksMinimum(t *testing.T) {
	day := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	rows := []CloseRow{
		{
			Plane:  PlanePoint{Addr: "AAA", Callsign: "UAL1"},
			Drone:  DronePoint{Journey: "jA", Ident: "d1"},
			Dist3D: 900,
		},
		{
			Plane:  PlanePoint{Addr: "BBB", Callsign: "UAL1"},
			Drone:  DronePoint{Journey: "jA", Ident: "d1"},
			Dist3D: 400,
		},
		{
			// Different callsign/journey: a separate group.
			Plane:  PlanePoint{Addr: "CCC", Callsign: "DAL9"},
			Drone:  DronePoint{Journey: "jB", Ident: "d2"},
			Dist3D: 1000,
		},
	}

	c := &Calculator{}
	encs := c.IdentifyEncounters("KSFO", day, rows)
	require.Len(t, encs, 2)

	byJourney := make(map[string]Encounter)
	for _, e := range encs {
		byJourney[e.Journey] = e
	}

	require.Equal(t, 400.0, byJourney["jA"].MinDist3D)
	require.Equal(t, "KSFO-20260304-jA-1", byJourney["jA"].ID)
	require.Equal(t, 1000.0, byJourney["jB"].MinDist3D)
}

func TestIdentifyEncountersExcludesRowsAtOrAboveCutoff(t *testing.T) {
	day := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	rows := []CloseRow{
		{
			Plane:  PlanePoint{Addr: "AAA", Callsign: "UAL1"},
			Drone:  DronePoint{Journey: "jA", Ident: "d1"},
			Dist3D: closeEncounterM,
		},
	}

	c := &Calculator{}
	encs := c.IdentifyEncounters("KSFO", day, rows)
	require.Empty(t, encs)
}

func TestFindCloseThenIdentifySingleEncounter(t *testing.T) {
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	at := day.Add(10 * time.Hour)

	planes := []PlanePoint{
		{Time: at.Add(time.Second), Addr: "ABC123", Callsign: "XY1", Lon: 26.101, Lat: 44.431, AltM: 150},
	}
	drones := []DronePoint{
		{Journey: "42", Ident: "d42", Time: at, Timestamp: at, Lon: 26.10, Lat: 44.43, Alt: 120},
	}

	c := &Calculator{}
	rows := c.FindClose(planes, drones, DefaultProximityM)
	require.Len(t, rows, 1)
	require.Equal(t, 30.0, rows[0].DiffAlt)
	require.InDelta(t, 137, rows[0].Dist2D, 5)
	require.GreaterOrEqual(t, rows[0].Dist3D, rows[0].Dist2D)

	encs := c.IdentifyEncounters("BUC", day, rows)
	require.Len(t, encs, 1)
	require.Equal(t, "BUC-20240102-42-1", encs[0].ID)
	require.Regexp(t, `^[A-Z]{3}-\d{8}-\d+-\d+$`, encs[0].ID)
	require.Less(t, encs[0].MinDist3D, 1852.0)
}
