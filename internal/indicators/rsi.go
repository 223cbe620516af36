package indicators

// RSI computes the Relative Strength Index over the last period price
// changes using plain averages. Shorter series use every change available.
func RSI(values []float64, period int) float64 {
	if period <= 0 || len(values) < 2 {
		return 0
	}
	start := len(values) - period
	if start < 1 {
		start = 1
	}

	gain, loss := 0.0, 0.0
	for i := start; i < len(values); i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			gain += change
		} else {
			loss -= change
		}
	}

	if loss == 0 {
		return 100
	}
	rs := gain / loss
	return 100 - (100 / (1 + rs))
}
