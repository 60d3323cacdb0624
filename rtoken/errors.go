package rtoken

// DecodeError is returned from [Codec.Decode]
// when a payload does not hold a valid token.
type DecodeError struct {
	Reason string
	Err    error
}

func (e DecodeError) Error() string {
	if e.Err != nil {
		return "decode token: " + e.Reason + ": " + e.Err.Error()
	}
	return "decode token: " + e.Reason
}

func (e DecodeError) Unwrap() error {
	return e.Err
}
