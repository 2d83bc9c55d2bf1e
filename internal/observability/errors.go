package observability

import (
	"errors"
	"fmt"
)

// JoinErrors drops nil entries, logs what remains once under operation and
// returns the joined error. It returns nil when every entry is nil.
func JoinErrors(logger Logger, operation string, errs ...error) error {
	if logger == nil {
		logger = Log()
	}
	filtered := make([]error, 0, len(errs))
	messages := make([]string, 0, len(errs))
	for _, err := range errs {
		if err == nil {
			continue
		}
		filtered = append(filtered, err)
		messages = append(messages, err.Error())
	}
	if len(filtered) == 0 {
		return nil
	}
	logger.Error("operation errors",
		F("operation", operation),
		F("error_count", len(filtered)),
		F("errors", messages))
	return fmt.Errorf("%s failed: %w", operation, errors.Join(filtered...))
}
