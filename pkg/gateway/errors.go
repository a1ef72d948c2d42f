package gateway

import "fmt"

// Deterministic error codes for execution failures. Callers match on Code,
// never on message text.
const (
	ErrCodeTimeout          = "ERR_EXEC_TIMEOUT"
	ErrCodeTerminated       = "ERR_EXEC_TERMINATED"
	ErrCodeHandler          = "ERR_EXEC_HANDLER"
	ErrCodeMemoryLimit      = "ERR_MEMORY_LIMIT"
	ErrCodeNoHandler        = "ERR_NO_HANDLER"
	ErrCodeDecisionNotAllow = "ERR_DECISION_NOT_ALLOW"
)

// ExecError is a deterministic, typed execution failure.
type ExecError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func execErrorf(code, format string, args ...any) *ExecError {
	return &ExecError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Retryable reports whether the failure class is worth retrying. Timeouts
// are transient; terminations and policy refusals are not.
func (e *ExecError) Retryable() bool {
	return e.Code == ErrCodeTimeout
}
