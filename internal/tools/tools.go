package tools

import (
	"context"
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/axiom-research/axiom/internal/llm"
)

// Tool is a capability the model can invoke during a research turn.
// Execute never returns an application error for upstream failures;
// adapters degrade to an empty or sentinel payload so the turn can
// continue.
type Tool interface {
	Definition() llm.ToolDefinition
	Execute(ctx context.Context, input map[string]any) (map[string]any, error)
}

type Registry struct {
	tools map[string]Tool
	order []string
}

func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: map[string]Tool{}}
	for _, t := range tools {
		name := t.Definition().Name
		if _, exists := r.tools[name]; exists {
			continue
		}
		r.tools[name] = t
		r.order = append(r.order, name)
	}
	return r
}

// Definitions returns tool descriptors in registration order.
func (r *Registry) Definitions() []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

func (r *Registry) Lookup(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// ValidateInput checks model-supplied arguments against the tool's
// declared schema before dispatch.
func (r *Registry) ValidateInput(name string, input map[string]any) error {
	t, ok := r.tools[name]
	if !ok {
		return fmt.Errorf("unknown tool: %s", name)
	}
	if input == nil {
		input = map[string]any{}
	}
	schemaLoader := gojsonschema.NewGoLoader(t.Definition().Schema)
	inputLoader := gojsonschema.NewGoLoader(input)
	result, err := gojsonschema.Validate(schemaLoader, inputLoader)
	if err != nil {
		return fmt.Errorf("validating %s input: %w", name, err)
	}
	if !result.Valid() {
		errs := result.Errors()
		if len(errs) > 0 {
			return fmt.Errorf("invalid %s input: %s", name, errs[0].String())
		}
		return fmt.Errorf("invalid %s input", name)
	}
	return nil
}

// truncateRunes caps s at max runes so multi-byte text is never split
// mid-character.
func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
