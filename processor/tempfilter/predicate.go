package tempfilter

// Accept reports whether an extracted value passes the filter. The
// comparison is strict, so a value equal to the threshold is rejected, and a
// missing value is always rejected. NaN never passes.
func Accept(value float64, ok bool, threshold float64) bool {
	return ok && value > threshold
}

// Predicate evaluates values against the live threshold in a FilterState
type Predicate struct {
	state *FilterState
}

// NewPredicate creates a predicate bound to state
func NewPredicate(state *FilterState) Predicate {
	return Predicate{state: state}
}

// Evaluate reads the threshold at call time and applies Accept. It returns
// the threshold it compared against.
func (p Predicate) Evaluate(value float64, ok bool) (accepted bool, threshold float64) {
	threshold = p.state.Threshold()
	return Accept(value, ok, threshold), threshold
}
