package classifier

import "fmt"

// NetworkError wraps transport failures: connection refused, DNS, timeouts.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("prediction request to %s failed: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ProtocolError means the endpoint answered, but not with a usable prediction.
type ProtocolError struct {
	StatusCode int
	Reason     string
	Body       string
	Err        error
}

func (e *ProtocolError) Error() string {
	msg := "invalid prediction response"
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() error { return e.Err }
