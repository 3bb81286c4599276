package baseline

import (
	"math"
	"sync"
	"time"

	"github.com/pulsewatch/outage-engine/internal/models"
	"github.com/pulsewatch/outage-engine/internal/utils"
)

// Stats is a mean/std pair describing expected traffic for one lookup.
type Stats struct {
	Mean float64
	Std  float64
}

// Fixed fallbacks used whenever a service has no usable history.
var (
	DefaultReportStats   = Stats{Mean: 5.0, Std: 2.0}
	DefaultResponseStats = Stats{Mean: 200.0, Std: 50.0}
)

// Blend weights for the hour-of-day and day-of-week components.
const (
	hourWeight = 0.7
	dayWeight  = 0.3
)

type bucketStats struct {
	mean float64
	std  float64
	n    int
}

type serviceProfile struct {
	hourReports  [24]bucketStats
	dayReports   [7]bucketStats
	hourResponse [24]bucketStats
	dayResponse  [7]bucketStats
}

// Calculator holds per-service traffic profiles rebuilt periodically from
// historical samples. Lookups blend the matching hour-of-day bucket (0.7)
// with the day-of-week bucket (0.3); std is the max of the two so a sparse
// bucket never tightens the threshold.
type Calculator struct {
	mu       sync.RWMutex
	profiles map[int64]*serviceProfile
}

// NewCalculator returns an empty calculator; every lookup falls back to the
// defaults until Recompute has run for a service.
func NewCalculator() *Calculator {
	return &Calculator{profiles: make(map[int64]*serviceProfile)}
}

// ReportStats returns the expected report volume for the service at ts.
func (c *Calculator) ReportStats(serviceID int64, ts time.Time) Stats {
	return c.lookup(serviceID, ts, true)
}

// ResponseStats returns the expected response time (ms) for the service at ts.
func (c *Calculator) ResponseStats(serviceID int64, ts time.Time) Stats {
	return c.lookup(serviceID, ts, false)
}

func (c *Calculator) lookup(serviceID int64, ts time.Time, reports bool) Stats {
	def := DefaultResponseStats
	if reports {
		def = DefaultReportStats
	}

	c.mu.RLock()
	prof := c.profiles[serviceID]
	c.mu.RUnlock()
	if prof == nil {
		return def
	}

	hour, weekday := utils.TimeBucket(ts)
	var hb, db bucketStats
	if reports {
		hb, db = prof.hourReports[hour], prof.dayReports[weekday]
	} else {
		hb, db = prof.hourResponse[hour], prof.dayResponse[weekday]
	}
	if hb.n == 0 {
		hb = bucketStats{mean: def.Mean, std: def.Std}
	}
	if db.n == 0 {
		db = bucketStats{mean: def.Mean, std: def.Std}
	}
	return Stats{
		Mean: hourWeight*hb.mean + dayWeight*db.mean,
		Std:  math.Max(hb.std, db.std),
	}
}

// Recompute rebuilds the service's profile from hourly history samples and
// returns the persistent baseline rows derived from it, one per
// (hour, weekday) bucket. Empty history clears the profile so lookups fall
// back to the defaults; it never fails.
func (c *Calculator) Recompute(serviceID int64, history []models.HistoryPoint, multiplier float64, now time.Time) []models.Baseline {
	prof := buildProfile(history)

	c.mu.Lock()
	if prof == nil {
		delete(c.profiles, serviceID)
	} else {
		c.profiles[serviceID] = prof
	}
	c.mu.Unlock()

	rows := make([]models.Baseline, 0, 24*7)
	for hour := 0; hour < 24; hour++ {
		for day := 0; day < 7; day++ {
			avg := DefaultReportStats.Mean
			if prof != nil {
				hb, db := prof.hourReports[hour], prof.dayReports[day]
				if hb.n == 0 {
					hb.mean = DefaultReportStats.Mean
				}
				if db.n == 0 {
					db.mean = DefaultReportStats.Mean
				}
				avg = hourWeight*hb.mean + dayWeight*db.mean
			}
			rows = append(rows, models.Baseline{
				ServiceID:           serviceID,
				HourOfDay:           hour,
				DayOfWeek:           day,
				BaselineAvg:         avg,
				ThresholdMultiplier: multiplier,
				UpdatedAt:           now,
			})
		}
	}
	return rows
}

type accumulator struct {
	sum   float64
	sumSq float64
	n     int
}

func (a *accumulator) add(v float64) {
	a.sum += v
	a.sumSq += v * v
	a.n++
}

func (a accumulator) stats() bucketStats {
	if a.n == 0 {
		return bucketStats{}
	}
	mean := a.sum / float64(a.n)
	variance := a.sumSq/float64(a.n) - mean*mean
	if variance < 0 {
		variance = 0
	}
	return bucketStats{mean: mean, std: math.Sqrt(variance), n: a.n}
}

func buildProfile(history []models.HistoryPoint) *serviceProfile {
	if len(history) == 0 {
		return nil
	}

	var hourReports, hourResponse [24]accumulator
	var dayReports, dayResponse [7]accumulator
	for _, pt := range history {
		hour, weekday := utils.TimeBucket(pt.Timestamp)
		hourReports[hour].add(pt.ReportCount)
		dayReports[weekday].add(pt.ReportCount)
		hourResponse[hour].add(pt.ResponseTimeMs)
		dayResponse[weekday].add(pt.ResponseTimeMs)
	}

	prof := &serviceProfile{}
	for i := range hourReports {
		prof.hourReports[i] = hourReports[i].stats()
		prof.hourResponse[i] = hourResponse[i].stats()
	}
	for i := range dayReports {
		prof.dayReports[i] = dayReports[i].stats()
		prof.dayResponse[i] = dayResponse[i].stats()
	}
	return prof
}
