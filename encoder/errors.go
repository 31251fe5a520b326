package encoder

import (
	"errors"
	"fmt"
)

// ErrDropped is returned when an over-length example is discarded under the
// delete truncation strategy. It is always recoverable: the example simply
// does not exist.
var ErrDropped = errors.New("example dropped: over length budget")

// SchemaError reports a malformed conversation. Recoverable: under
// non-strict operation the example is dropped and counted.
type SchemaError struct {
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("malformed conversation: %s", e.Reason)
}

// UnsupportedFeatureError reports a conversation that needs a capability the
// grammar lacks, such as a system turn or multiple rounds. Recoverable the
// same way as SchemaError.
type UnsupportedFeatureError struct {
	TemplateType string
	Feature      string
}

func (e *UnsupportedFeatureError) Error() string {
	return fmt.Sprintf("grammar %q does not support %s", e.TemplateType, e.Feature)
}

// TruncationImpossibleError reports an example whose final round alone
// exceeds the length budget. The example always drops, whatever the
// truncation strategy.
type TruncationImpossibleError struct {
	Length    int
	MaxLength int
}

func (e *TruncationImpossibleError) Error() string {
	return fmt.Sprintf("final round needs %d tokens, budget is %d", e.Length, e.MaxLength)
}

// IsRecoverable reports whether err is a per-example condition that should be
// counted and skipped under non-strict operation, rather than aborting the
// run. Construction and resolution errors are never recoverable.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	var schemaErr *SchemaError
	var featErr *UnsupportedFeatureError
	var truncErr *TruncationImpossibleError
	return errors.Is(err, ErrDropped) ||
		errors.As(err, &schemaErr) ||
		errors.As(err, &featErr) ||
		errors.As(err, &truncErr)
}
