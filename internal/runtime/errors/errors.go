package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrConfigRequired       = sterrors.New("soknadflow: configuration is required")
	ErrLoggerRequired       = sterrors.New("soknadflow: logger is required")
	ErrStageNameRequired    = sterrors.New("soknadflow: stage name is required")
	ErrInputTopicRequired   = sterrors.New("soknadflow: stage input topic is required")
	ErrBuilderRequired      = sterrors.New("soknadflow: topology builder is required")
	ErrUnitOfWorkRequired   = sterrors.New("soknadflow: unit of work is required")
	ErrCollaboratorRequired = sterrors.New("soknadflow: collaborator is required")
	ErrSubmissionIDRequired = sterrors.New("soknadflow: submission id is required")
)

// ConfigValidationError wraps every problem found while validating a Config.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return fmt.Sprintf("soknadflow: invalid configuration: %v", e.Err)
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError returns nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
