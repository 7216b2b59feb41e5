package protocol

import (
	"encoding/json"
	"fmt"
)

// maxRawInError bounds how much raw backend output an error message carries.
const maxRawInError = 512

// TransportError means the backend could not be reached or its output could
// not be captured.
type TransportError struct {
	Command string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Command, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// MalformedResponseError means captured output did not parse as the expected
// structure. Raw keeps the full output for diagnosis.
type MalformedResponseError struct {
	Phase string
	Raw   []byte
	Err   error
}

func (e *MalformedResponseError) Error() string {
	raw := string(e.Raw)
	if len(raw) > maxRawInError {
		raw = raw[:maxRawInError] + "..."
	}
	if raw == "" {
		return fmt.Sprintf("%s: malformed response: %v", e.Phase, e.Err)
	}
	return fmt.Sprintf("%s: malformed response: %v (output: %q)", e.Phase, e.Err, raw)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// PhaseError is a failure the backend reported with success=false.
type PhaseError struct {
	Phase   string
	Message string
	Details json.RawMessage
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Phase, e.Message)
}

// NoMatchError means discovery succeeded but found no candidate tools.
type NoMatchError struct {
	Task string
}

func (e *NoMatchError) Error() string {
	return fmt.Sprintf("no matching tools found for task %q", e.Task)
}

// ExitCode maps a run outcome to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return 1
}
