package app

import "fmt"

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func validationError(fields map[string]string) *DomainError {
	return domainError(422, "VALIDATION_ERROR", "Validation failed", fields)
}

// forbidden is deliberately generic so callers cannot tell a missing
// project from a denied one.
func forbidden() *DomainError {
	return domainError(403, "FORBIDDEN", "You do not have permission to perform this action", nil)
}

func notFound(what string) *DomainError {
	return domainError(404, "NOT_FOUND", what+" not found", nil)
}

func conflict(message string) *DomainError {
	return domainError(409, "CONSTRAINT_VIOLATION", message, nil)
}
