package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Registry is the read-mostly map of tool name to Tool described in spec
// §4.3. Updates happen through Register/RegisterAll (cmd/server registers
// the built-ins and the MCP tools it discovers once at startup; remote
// tools are not resolved per request); readers never take more than the
// read side of the RWMutex, matching the "reader/writer synchronizer"
// resource model of spec §5.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool under its Info().Name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Info().Name] = t
}

// RegisterAll is a convenience for bulk registration (e.g. the batch of
// tools discovered on one MCP server at startup).
func (r *Registry) RegisterAll(ts []Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range ts {
		r.tools[t.Info().Name] = t
	}
}

// Get resolves a single tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns the Info of every registered tool, used to bind tools into
// a provider call.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.Info())
	}
	return out
}

// Dispatcher invokes tools resolved through a Registry, validating
// arguments against the tool's registered JSON schema before dispatch.
// Every failure mode — unknown tool, schema violation, panic inside the
// tool, tool-returned error — becomes the textual body of a Result rather
// than a Go error, per spec §4.3 and §7 (ToolNotFound / ToolExecutionFailed
// are reified as content, never propagated across the node boundary).
type Dispatcher struct {
	registry *Registry
}

// NewDispatcher builds a Dispatcher over the given registry.
func NewDispatcher(registry *Registry) *Dispatcher {
	return &Dispatcher{registry: registry}
}

// ErrNotFound names the tool-not-found condition. Invoke does not return
// it: tool-not-found is delivered as a diagnostic Result with found=false,
// since the caller (the graph engine) wants to keep running.
var ErrNotFound = fmt.Errorf("tools: not found")

// Invoke validates args against the tool's schema and runs it. Each
// invocation is independent — no shared mutable state beyond the registry,
// matching spec §4.3's concurrency contract. ctx carries the request's
// deadline; long-running tools are expected to honor ctx.Done().
func (d *Dispatcher) Invoke(ctx context.Context, name string, args map[string]any) (result Result, found bool) {
	tool, ok := d.registry.Get(name)
	if !ok {
		return Result{Content: fmt.Sprintf("Tool '%s' not found.", name), IsError: true}, false
	}

	if err := validateArgs(tool.Info(), args); err != nil {
		return Result{Content: fmt.Sprintf("Invalid arguments for tool '%s': %v", name, err), IsError: true}, true
	}

	result, err := d.runCatchingPanic(ctx, tool, args)
	if err != nil {
		return Result{Content: fmt.Sprintf("Error calling tool '%s': %v", name, err), IsError: true}, true
	}
	return result, true
}

func (d *Dispatcher) runCatchingPanic(ctx context.Context, tool Tool, args map[string]any) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return tool.Invoke(ctx, args)
}

// validateArgs compiles and runs the tool's argument schema against args.
// Schemas with no properties declared (the common case for zero-argument
// tools) are accepted unconditionally.
func validateArgs(info Info, args map[string]any) error {
	if len(info.Parameters) == 0 {
		return nil
	}

	schemaDoc := info.Schema()
	raw, err := json.Marshal(schemaDoc)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	unmarshaled, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("parse schema: %w", err)
	}
	const resourceName = "tool-args.json"
	if err := compiler.AddResource(resourceName, unmarshaled); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(resourceName)
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	// jsonschema validates against map[string]any/[]any/primitives, which is
	// exactly the shape Args already is.
	if err := schema.Validate(map[string]any(args)); err != nil {
		return err
	}
	return nil
}
