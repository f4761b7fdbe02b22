// Package tools is the static tool registry the agent dispatches actions to.
package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/dawos/agent/internal/agent"
	"github.com/dawos/agent/internal/utils"
)

// Tool is one registered capability. Every tool takes one string and
// returns one string.
type Tool struct {
	Name        string
	Description string
	Example     string

	// Validate rejects malformed input before Run. Nil means any
	// non-empty input is accepted.
	Validate func(input string) error
	Run      func(ctx context.Context, input string) (string, error)
}

type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry registers tools in the given order. Names must be unique
// identifiers that the action grammar can express.
func NewRegistry(list ...Tool) (*Registry, error) {
	const op = "tools.NewRegistry"

	r := &Registry{tools: make(map[string]Tool, len(list))}
	for _, t := range list {
		if !validName(t.Name) {
			return nil, utils.E(utils.CodeInvalidArgument, op, fmt.Sprintf("invalid tool name %q", t.Name), nil)
		}
		if t.Run == nil {
			return nil, utils.E(utils.CodeInvalidArgument, op, fmt.Sprintf("tool %s has no capability", t.Name), nil)
		}
		if _, dup := r.tools[t.Name]; dup {
			return nil, utils.E(utils.CodeConflict, op, fmt.Sprintf("tool %s registered twice", t.Name), nil)
		}
		r.tools[t.Name] = t
		r.order = append(r.order, t.Name)
	}
	return r, nil
}

func validName(name string) bool {
	if name == "" {
		return false
	}
	for _, c := range name {
		if !(c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}

func (r *Registry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

// Names lists tools in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Docs describes the registry for the system prompt.
func (r *Registry) Docs() []agent.ToolDoc {
	out := make([]agent.ToolDoc, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		out = append(out, agent.ToolDoc{Name: t.Name, Description: t.Description, Example: t.Example})
	}
	return out
}

// Execute validates input and runs the tool. A panicking tool is reported
// as an error.
func (r *Registry) Execute(ctx context.Context, name, input string) (out string, err error) {
	const op = "tools.Execute"

	t, ok := r.tools[name]
	if !ok {
		known := r.Names()
		sort.Strings(known)
		return "", utils.E(utils.CodeNotFound, op,
			fmt.Sprintf("unknown tool %s (available: %s)", name, strings.Join(known, ", ")), utils.ErrUnknownTool)
	}

	input = strings.TrimSpace(input)
	if t.Validate != nil {
		if verr := t.Validate(input); verr != nil {
			return "", utils.E(utils.CodeInvalidArgument, op, name+": invalid input", verr)
		}
	} else if input == "" {
		return "", utils.E(utils.CodeInvalidArgument, op, name+": input is required", nil)
	}

	defer func() {
		if p := recover(); p != nil {
			out, err = "", utils.E(utils.CodeInternal, op, fmt.Sprintf("%s panicked: %v", name, p), nil)
		}
	}()
	return t.Run(ctx, input)
}
