package analyzer

import "math"

func returns(mids []float64) []float64 {
	if len(mids) < 2 {
		return nil
	}
	rets := make([]float64, 0, len(mids)-1)
	for i := 1; i < len(mids); i++ {
		prev := mids[i-1]
		if prev == 0 {
			continue
		}
		rets = append(rets, (mids[i]-prev)/prev)
	}
	return rets
}

func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var sum, sumSq float64
	for _, x := range xs {
		sum += x
		sumSq += x * x
	}
	n := float64(len(xs))
	mean := sum / n
	variance := sumSq/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}

// pearson correlates the two return series over their overlapping tail.
// Degenerate series (constant, too short) report full correlation so the
// breaker does not trip on missing data.
func pearson(xs, ys []float64) float64 {
	n := len(xs)
	if len(ys) < n {
		n = len(ys)
	}
	if n < 2 {
		return 1
	}
	xs = xs[len(xs)-n:]
	ys = ys[len(ys)-n:]

	var sumX, sumY float64
	for i := 0; i < n; i++ {
		sumX += xs[i]
		sumY += ys[i]
	}
	meanX := sumX / float64(n)
	meanY := sumY / float64(n)

	var cov, varX, varY float64
	for i := 0; i < n; i++ {
		dx := xs[i] - meanX
		dy := ys[i] - meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	if varX == 0 || varY == 0 {
		return 1
	}
	return cov / math.Sqrt(varX*varY)
}

// efficiency is the directional-efficiency ratio of the return series: net
// move over gross movement. Near 1 means trending, near 0 means chop.
func efficiency(rets []float64) float64 {
	if len(rets) == 0 {
		return 0
	}
	var net, gross float64
	for _, r := range rets {
		net += r
		gross += math.Abs(r)
	}
	if gross == 0 {
		return 0
	}
	return math.Abs(net) / gross
}
