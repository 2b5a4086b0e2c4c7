package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidExecContext = errors.New("invalid query executor context")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrGenerationInFlight = errors.New("a generation process is already running for this job")
	ErrGeneratorNotFound  = errors.New("generator tool not found")
	ErrJobNotComplete     = errors.New("job has not completed generation")
	ErrPreviewFailed      = errors.New("preview deploy failed")
	ErrPreviewTimeout     = errors.New("preview deploy timed out")
	ErrLockNotAcquired    = errors.New("could not acquire lock")
	ErrBreadcrumbNotFound = errors.New("no breadcrumb stored")
)
