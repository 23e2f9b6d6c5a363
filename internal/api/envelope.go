package api

// Error codes returned in the envelope. Callers branch on these, not on the
// message text.
const (
	CodeNotFound       = "NOT_FOUND"
	CodeInvalid        = "INVALID"
	CodeAlreadyRunning = "ALREADY_RUNNING"
	CodeStorage        = "STORAGE"
	CodeInternal       = "INTERNAL"
)

// Envelope is the uniform response shape for every façade action. A method
// never returns a Go error across this boundary; failures are encoded.
type Envelope struct {
	OK        bool   `json:"ok"`
	Result    any    `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"errorCode,omitempty"`
}

func ok(result any) Envelope {
	return Envelope{OK: true, Result: result}
}

func fail(code, msg string) Envelope {
	return Envelope{OK: false, Error: msg, ErrorCode: code}
}
