// Package chatgram compiles declarative chat-format grammars into token
// sequences. A Registry maps template types to grammars and binds them lazily
// to vocabularies; the encoder, packer and dataset layers live in their own
// packages and consume the resolved grammars produced here.
package chatgram

import (
	"fmt"
	"sort"
	"sync"

	"golang.org/x/exp/maps"

	"github.com/chatgram/chatgram/grammar"
)

// Registry maps template types to grammar specs and caches their resolution
// per vocabulary. Create it at startup, populate it with Register calls, and
// treat it as read-only afterwards; Lookup is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	specs    map[string]*grammar.Spec
	resolved map[string]map[grammar.Vocabulary]*grammar.Resolved
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		specs:    map[string]*grammar.Spec{},
		resolved: map[string]map[grammar.Vocabulary]*grammar.Resolved{},
	}
}

// Default returns a registry pre-populated with the built-in templates.
func Default() *Registry {
	r := NewRegistry()
	if err := RegisterBuiltins(r); err != nil {
		// Built-in templates are static data; failing to build one is a
		// programming error.
		panic(err)
	}
	return r
}

// Register adds a grammar under its template type. Registering an existing
// type fails unless override is set.
func (r *Registry) Register(spec *grammar.Spec, override bool) error {
	if spec.TemplateType == "" {
		return &grammar.GrammarError{Reason: "a template type is required to register a grammar"}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.specs[spec.TemplateType]; exists && !override {
		return fmt.Errorf("template type %q is already registered", spec.TemplateType)
	}
	r.specs[spec.TemplateType] = spec
	delete(r.resolved, spec.TemplateType)
	return nil
}

// Get returns the registered grammar spec for a template type.
func (r *Registry) Get(templateType string) (*grammar.Spec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[templateType]
	if !ok {
		return nil, fmt.Errorf("template type %q is not registered", templateType)
	}
	return spec, nil
}

// Lookup resolves the grammar registered under templateType against vocab.
// Resolution runs once per (template type, vocabulary) pair and is cached;
// subsequent lookups return the shared read-only resolved grammar.
func (r *Registry) Lookup(templateType string, vocab grammar.Vocabulary) (*grammar.Resolved, error) {
	r.mu.RLock()
	spec, ok := r.specs[templateType]
	if ok {
		if res, hit := r.resolved[templateType][vocab]; hit {
			r.mu.RUnlock()
			return res, nil
		}
	}
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("template type %q is not registered", templateType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if res, hit := r.resolved[templateType][vocab]; hit {
		return res, nil
	}
	res, err := grammar.Resolve(spec, vocab)
	if err != nil {
		return nil, err
	}
	if r.resolved[templateType] == nil {
		r.resolved[templateType] = map[grammar.Vocabulary]*grammar.Resolved{}
	}
	r.resolved[templateType][vocab] = res
	return res, nil
}

// Types lists the registered template types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := maps.Keys(r.specs)
	sort.Strings(types)
	return types
}
