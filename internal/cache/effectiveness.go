package cache

// Rough on-disk footprint of one cached result, used for the space estimate
const entrySizeMB = 0.1

// Recommendation thresholds
const (
	lowHitRate       = 0.3
	highHitRate      = 0.8
	capacityWarnRate = 0.9
)

// Effectiveness is a human-facing summary of how much work the cache saved
type Effectiveness struct {
	HitRate          float64  `json:"hit_rate"`
	TimeSavedMinutes float64  `json:"time_saved_minutes"`
	SpaceSavedMB     float64  `json:"space_saved_mb"`
	Recommendations  []string `json:"recommendations"`
}

// Analyze derives an Effectiveness report from stats. It never touches cache state.
// Hit-rate advice is only given once at least one request has been served.
func Analyze(stats Stats, maxEntries int) Effectiveness {
	eff := Effectiveness{
		HitRate:          stats.HitRate,
		TimeSavedMinutes: float64(stats.TimeSavedMs) / 60000,
		SpaceSavedMB:     float64(stats.EntriesCount) * entrySizeMB,
		Recommendations:  []string{},
	}

	if stats.TotalRequests > 0 {
		switch {
		case stats.HitRate < lowHitRate:
			eff.Recommendations = append(eff.Recommendations,
				"Low hit rate: tests may be too sensitive to unrelated changes",
				"Consider including more dependencies in cache keys",
			)
		case stats.HitRate > highHitRate:
			eff.Recommendations = append(eff.Recommendations,
				"Cache is highly effective; consider increasing max entries",
			)
		}
	}

	if maxEntries > 0 && float64(stats.EntriesCount) > capacityWarnRate*float64(maxEntries) {
		eff.Recommendations = append(eff.Recommendations,
			"Cache is near capacity; consider raising max entries or lowering max age",
		)
	}

	return eff
}
