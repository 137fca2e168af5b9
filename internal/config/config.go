// Package config loads the station catalog: which WillyWeather locations
// are collected, which have forecasts to reconcile, and how their provider
// timestamps are interpreted.
package config

import (
	"fmt"
	"time"

	"github.com/lox/seawaywind/internal/models"
	"github.com/lox/seawaywind/internal/normalize"
)

const DefaultTimezone = "Australia/Brisbane"

type Catalog struct {
	Timezone string `koanf:"timezone" yaml:"timezone" validate:"required,timezone"`
	// EpochIsWallClock selects how observation epochs are read. Nil means
	// the provider default (wall-clock digits).
	EpochIsWallClock *bool `koanf:"epoch_is_wall_clock" yaml:"epoch_is_wall_clock"`
	// MatchCutoff applies to stations that do not set their own.
	MatchCutoff time.Duration    `koanf:"match_cutoff" yaml:"match_cutoff" validate:"gte=0"`
	Stations    []models.Station `koanf:"stations" yaml:"stations" validate:"required,min=1,unique=Code,dive"`

	loc *time.Location
}

// DefaultStations is the set collected when no catalog file is given.
func DefaultStations() []models.Station {
	return []models.Station{
		{Code: "GC", LocationID: "18591", Name: "Gold Coast Seaway", IsPrimary: true, Forecast: true, Active: true},
		{Code: "COOLLY", LocationID: "18118", Active: true},
		{Code: "HOPE", LocationID: "39817", Active: true},
		{Code: "BANANA", LocationID: "39818", Active: true},
		{Code: "CAPE", LocationID: "30280", Active: true},
		{Code: "BYRON_MAIN", LocationID: "19017", Active: true},
	}
}

func (c *Catalog) applyDefaults() {
	if c.Timezone == "" {
		c.Timezone = DefaultTimezone
	}
	if len(c.Stations) == 0 {
		c.Stations = DefaultStations()
	}
	for i := range c.Stations {
		st := &c.Stations[i]
		if st.Name == "" {
			st.Name = st.Code
		}
		if st.MatchCutoff == 0 {
			st.MatchCutoff = c.MatchCutoff
		}
	}
}

// Location returns the loaded station time zone.
func (c *Catalog) Location() *time.Location {
	return c.loc
}

// TimeConfig returns the timestamp interpretation for provider documents.
func (c *Catalog) TimeConfig() normalize.TimeConfig {
	tc := normalize.NewTimeConfig(c.loc)
	if c.EpochIsWallClock != nil {
		tc.EpochIsWallClock = *c.EpochIsWallClock
	}
	return tc
}

// Station returns the station with code.
func (c *Catalog) Station(code string) (models.Station, error) {
	for _, st := range c.Stations {
		if st.Code == code {
			return st, nil
		}
	}
	return models.Station{}, fmt.Errorf("unknown station %q", code)
}

// Primary returns the primary station, or the first station if none is
// marked primary.
func (c *Catalog) Primary() models.Station {
	for _, st := range c.Stations {
		if st.IsPrimary {
			return st
		}
	}
	return c.Stations[0]
}
