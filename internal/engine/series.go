package engine

import "math"

// sma returns the simple moving average of values. Positions before a full
// window are NaN so callers can index the result in lockstep with the input.
func sma(values []float64, window int) []float64 {
	out := make([]float64, len(values))

	var sum float64

	for i, v := range values {
		sum += v

		if i >= window {
			sum -= values[i-window]
		}

		if i >= window-1 {
			out[i] = sum / float64(window)
		} else {
			out[i] = math.NaN()
		}
	}

	return out
}

// dailyReturns converts a close series to simple period-over-period returns.
// The result has len(closes)-1 entries.
func dailyReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}

	out := make([]float64, 0, len(closes)-1)

	for i := 1; i < len(closes); i++ {
		out = append(out, closes[i]/closes[i-1]-1)
	}

	return out
}

// maxDrawdown returns the largest peak-to-trough decline of an equity curve
// as a positive fraction, 0 for a monotonically rising curve.
func maxDrawdown(equity []float64) float64 {
	var peak, worst float64

	for _, v := range equity {
		if v > peak {
			peak = v
		}

		if peak > 0 {
			if dd := (peak - v) / peak; dd > worst {
				worst = dd
			}
		}
	}

	return worst
}

// mean returns the arithmetic mean, 0 for an empty slice.
func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	var sum float64

	for _, v := range values {
		sum += v
	}

	return sum / float64(len(values))
}

// stddev returns the population standard deviation around the given mean.
func stddev(values []float64, m float64) float64 {
	if len(values) == 0 {
		return 0
	}

	var sum float64

	for _, v := range values {
		d := v - m
		sum += d * d
	}

	return math.Sqrt(sum / float64(len(values)))
}

// covariance returns the population covariance of two equal-length series.
func covariance(a, b []float64, meanA, meanB float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var sum float64

	for i := range a {
		sum += (a[i] - meanA) * (b[i] - meanB)
	}

	return sum / float64(len(a))
}
