package radar

// RangingInactiveError is returned from [*Node.RangingStatus]
// while the ranging engine has no local token to offer.
// It is not fatal: the Node keeps discovering and connecting to peers,
// and token exchange resumes once the engine becomes available.
type RangingInactiveError struct {
	// The engine's explanation, if it gave one.
	Cause error
}

func (e RangingInactiveError) Error() string {
	if e.Cause == nil {
		return "ranging inactive: no local token yet"
	}
	return "ranging inactive: " + e.Cause.Error()
}

func (e RangingInactiveError) Unwrap() error {
	return e.Cause
}
