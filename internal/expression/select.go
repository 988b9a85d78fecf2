package expression

// Select returns the expression with the highest threshold that does not
// exceed level.
//
// The scan follows storage order and a later candidate replaces the current
// pick when its threshold is equal or higher, so among equal thresholds the
// last one wins. When every threshold is above level (including a NaN or -Inf
// level) Select returns false and the caller must leave its state untouched.
func Select(level float64, exprs []Expression) (Expression, bool) {
	best := -1
	for i := range exprs {
		th := exprs[i].Threshold
		if !(th <= level) {
			continue
		}
		if best < 0 || th >= exprs[best].Threshold {
			best = i
		}
	}
	if best < 0 {
		return Expression{}, false
	}
	return exprs[best], true
}
