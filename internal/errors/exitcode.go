package errors

import "errors"

// Process exit codes for CLI error mapping. Success is implicit (0);
// validation failures are user input problems and share the config code.
const (
	ExitSuccess  = 0
	ExitConfig   = 2
	ExitIO       = 3
	ExitNetwork  = 4
	ExitTimeout  = 5
	ExitInternal = 6
)

// ExitCode maps an error to its process exit code, by Kind when the
// error is kinded, by Category otherwise.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var ke *KindedError
	if errors.As(err, &ke) {
		switch ke.Kind {
		case KindInvalidInput:
			return ExitConfig
		case KindTimeout, KindCancelled:
			return ExitTimeout
		case KindRateLimited, KindUnavailable:
			return ExitNetwork
		case KindNotFound, KindConflict, KindIntegrity:
			return ExitIO
		default:
			return ExitInternal
		}
	}

	switch GetCategory(err) {
	case CategoryConfig, CategoryValidation:
		return ExitConfig
	case CategoryIO:
		return ExitIO
	case CategoryNetwork:
		return ExitNetwork
	default:
		return ExitInternal
	}
}
