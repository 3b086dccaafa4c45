package feature

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// LogReturns converts closes into log returns: ret[i-1] = ln(close[i]/close[i-1]).
// Non-positive or non-finite closes degrade to a return of 0.
func LogReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}

	returns := make([]float64, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		prev, curr := closes[i-1], closes[i]
		if !usable(prev) || !usable(curr) {
			continue
		}
		r := math.Log(curr / prev)
		if math.IsNaN(r) || math.IsInf(r, 0) {
			continue
		}
		returns[i-1] = r
	}
	return returns
}

func usable(price float64) bool {
	return price > 0 && !math.IsNaN(price) && !math.IsInf(price, 0)
}

// ZScore subtracts the mean and divides by the population standard deviation.
// A zero deviation is replaced by 1.
func ZScore(values []float64) []float64 {
	if len(values) == 0 {
		return nil
	}

	mean, std := meanStd(values)
	if std == 0 || math.IsNaN(std) {
		std = 1
	}

	result := make([]float64, len(values))
	for i, v := range values {
		result[i] = (v - mean) / std
	}
	return result
}

// meanStd calculates mean and population standard deviation
func meanStd(values []float64) (mean, std float64) {
	if len(values) == 0 {
		return 0, 0
	}
	if len(values) == 1 {
		return values[0], 0
	}
	return stat.PopMeanStdDev(values, nil)
}
