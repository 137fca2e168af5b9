package ingest

const (
	FlagWindDirInvalid    = "wind_dir_invalid"
	FlagWindSpeedNegative = "wind_speed_negative"
	FlagWindSpeedUnlikely = "wind_speed_unlikely"
)

// maxPlausibleKmh is well above any recorded gust on the Gold Coast.
const maxPlausibleKmh = 250

// QualityFlags returns plausibility flags for a km/h speed and optional
// direction. Flagged values are kept; the flags are diagnostic only.
func QualityFlags(speedKmh float64, direction *float64) []string {
	var flags []string

	if speedKmh < 0 {
		flags = append(flags, FlagWindSpeedNegative)
	} else if speedKmh > maxPlausibleKmh {
		flags = append(flags, FlagWindSpeedUnlikely)
	}

	if direction != nil && (*direction < 0 || *direction > 360) {
		flags = append(flags, FlagWindDirInvalid)
	}

	return flags
}
