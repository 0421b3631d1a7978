package cache

// Stats tracks how often the cache avoided a test run
type Stats struct {
	TotalRequests int64   `json:"total_requests"`
	CacheHits     int64   `json:"cache_hits"`
	CacheMisses   int64   `json:"cache_misses"`
	HitRate       float64 `json:"hit_rate"`
	TimeSavedMs   int64   `json:"time_saved_ms"`
	EntriesCount  int     `json:"entries_count"`
}

// updateHitRate keeps HitRate at hits/requests, 0 before the first request
func (s *Stats) updateHitRate() {
	if s.TotalRequests == 0 {
		s.HitRate = 0
		return
	}

	s.HitRate = float64(s.CacheHits) / float64(s.TotalRequests)
}

func (s *Stats) recordRequest() {
	s.TotalRequests++
	s.updateHitRate()
}

func (s *Stats) recordHit(durationMs int64) {
	s.CacheHits++
	s.TimeSavedMs += durationMs
	s.updateHitRate()
}

func (s *Stats) recordMiss() {
	s.CacheMisses++
	s.updateHitRate()
}
