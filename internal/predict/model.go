package predict

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/actuallystonmai/library-intelligence/internal/domain"
	"github.com/actuallystonmai/library-intelligence/internal/interactions"
)

const (
	day  = 24 * time.Hour
	week = 7 * day
	// sparseConfidenceCap bounds confidence while fewer than MinBuckets weeks
	// have been observed.
	sparseConfidenceCap = 0.49
)

// forecast runs the weighted moving average over the book's weekly borrow
// counts, optionally shaped by day-of-week multipliers.
func (e *Engine) forecast(bookID uuid.UUID, horizon int, now time.Time) domain.DemandForecast {
	now = now.UTC()
	to := now.Truncate(day).Add(day)
	from := to.Add(-time.Duration(e.cfg.Weeks) * week)
	series := e.history.Borrows(bookID, from, to)

	f := domain.DemandForecast{
		ID:             uuid.New(),
		BookID:         bookID,
		PredictionDate: now,
		HorizonDays:    horizon,
		FactorsConsidered: domain.Factors{
			HistoryWindowDays: e.cfg.Weeks * 7,
			HorizonDays:       horizon,
			TotalEvents:       series.Total,
		},
	}
	if series.FirstBorrow.IsZero() {
		return f
	}

	// Weeks before the first borrow are not history, they are absence of the
	// book, so they do not dilute the average.
	available := int(math.Ceil(float64(to.Sub(series.FirstBorrow)) / float64(week)))
	available = min(max(available, 1), e.cfg.Weeks)

	counts := weekly(series.Counts, available)
	weights := make([]float64, available)
	var weighted, totalWeight float64
	observed := 0
	for w, c := range counts {
		weights[w] = float64(available - w)
		weighted += weights[w] * float64(c)
		totalWeight += weights[w]
		if c > 0 {
			observed++
		}
	}
	rate := weighted / totalWeight
	daily := rate / 7

	factors := &f.FactorsConsidered
	factors.BucketsAvailable = available
	factors.BucketsObserved = observed
	factors.WeeklyCounts = counts
	factors.WindowWeights = weights
	factors.WeightedWeeklyRate = round(rate)
	factors.BaseDailyRate = round(daily)

	var mult [7]float64
	for i := range mult {
		mult[i] = 1
	}
	if series.Total >= e.cfg.SeasonalMinEvents {
		if m, ok := seasonal(series, available); ok {
			mult = m
			factors.SeasonalityApplied = true
			factors.SeasonalMultipliers = make(map[string]float64, 7)
			for d, v := range mult {
				factors.SeasonalMultipliers[strings.ToLower(time.Weekday(d).String())] = round(v)
			}
		}
	}

	var demand float64
	for i := 0; i < horizon; i++ {
		demand += daily * mult[to.Add(time.Duration(i)*day).Weekday()]
	}
	f.PredictedDemand = int(math.Round(demand))
	f.ConfidenceScore = round(e.confidence(counts, observed))
	return f
}

// weekly folds daily counts into weeks, most recent first, keeping only the
// available weeks.
func weekly(daily []int, available int) []int {
	out := make([]int, available)
	n := len(daily)
	for w := 0; w < available; w++ {
		end := n - w*7
		for d := max(end-7, 0); d < end; d++ {
			out[w] += daily[d]
		}
	}
	return out
}

// seasonal derives day-of-week multipliers normalised to a mean of 1.
func seasonal(series interactions.BorrowSeries, available int) ([7]float64, bool) {
	var byDay [7]float64
	skip := len(series.Counts) - available*7
	for i, c := range series.Counts {
		if i < skip {
			continue
		}
		byDay[series.Start.Add(time.Duration(i)*day).Weekday()] += float64(c)
	}
	var sum float64
	for _, v := range byDay {
		sum += v
	}
	if sum == 0 {
		return byDay, false
	}
	mean := sum / 7
	for i := range byDay {
		byDay[i] /= mean
	}
	return byDay, true
}

// confidence grows with the share of observed weeks and shrinks with their
// variability.
func (e *Engine) confidence(counts []int, observed int) float64 {
	if observed == 0 {
		return 0
	}
	var mean float64
	for _, c := range counts {
		mean += float64(c)
	}
	mean /= float64(len(counts))
	var variance float64
	for _, c := range counts {
		d := float64(c) - mean
		variance += d * d
	}
	cv := math.Sqrt(variance/float64(len(counts))) / mean

	conf := float64(observed) / float64(e.cfg.Weeks) / (1 + cv)
	if observed < e.cfg.MinBuckets {
		conf = min(conf, sparseConfidenceCap)
	}
	return min(max(conf, 0), 1)
}

func round(x float64) float64 {
	return math.Round(x*1000) / 1000
}
