package grammar

import "fmt"

// GrammarError reports a malformed grammar at construction time. It is never
// recovered: a broken grammar would corrupt every example encoded through it.
type GrammarError struct {
	TemplateType string
	Reason       string
}

func (e *GrammarError) Error() string {
	if e.TemplateType == "" {
		return fmt.Sprintf("invalid grammar: %s", e.Reason)
	}
	return fmt.Sprintf("invalid grammar %q: %s", e.TemplateType, e.Reason)
}

// UnresolvedTokenError reports a symbolic token that the vocabulary cannot
// supply an id for. Raised at bind time and always fatal.
type UnresolvedTokenError struct {
	Name string
}

func (e *UnresolvedTokenError) Error() string {
	return fmt.Sprintf("symbolic token %q has no id in the vocabulary", e.Name)
}
