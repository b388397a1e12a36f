package call

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/satriahrh/concierge-voice/domain/entities"
	"github.com/satriahrh/concierge-voice/domain/repositories"
)

// Tool names understood by the built-in registry
const (
	ToolLookupProperty     = "lookup_property"
	ToolEndCall            = "end_call"
	ToolRecordPropertyFact = "record_property_fact"
)

// CallInfo identifies the call a tool runs for
type CallInfo struct {
	CallID   string
	DeviceID string
	Profile  string
}

// ToolHandler runs one function call and returns its response payload
type ToolHandler func(ctx context.Context, info CallInfo, args map[string]any) (map[string]any, error)

// Tool couples a declaration sent to the model with its handler
type Tool struct {
	Declaration entities.FunctionDeclaration
	Handle      ToolHandler
	// EndsCall ends the call once the model finishes its current turn
	EndsCall bool
}

// Registry holds the tools profiles may enable
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty tool registry
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Declaration.Name] = tool
}

// Lookup returns the named tool
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Names returns the registered tool names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Declarations resolves tool names to declarations. Unknown names are an error
// so a typo in a profile fails at build time rather than mid-call.
func (r *Registry) Declarations(names []string) ([]entities.FunctionDeclaration, error) {
	declarations := make([]entities.FunctionDeclaration, 0, len(names))
	for _, name := range names {
		tool, ok := r.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("unknown tool %q", name)
		}
		declarations = append(declarations, tool.Declaration)
	}
	return declarations, nil
}

// EndCallTool lets the model hang up after saying goodbye
func EndCallTool() Tool {
	return Tool{
		Declaration: entities.FunctionDeclaration{
			Name:        ToolEndCall,
			Description: "End the voice call after the conversation has reached a natural close.",
		},
		Handle: func(ctx context.Context, info CallInfo, args map[string]any) (map[string]any, error) {
			return map[string]any{"result": "ok"}, nil
		},
		EndsCall: true,
	}
}

// LookupPropertyTool answers guest questions from the property directory
func LookupPropertyTool(directory repositories.PropertyDirectory) Tool {
	return Tool{
		Declaration: entities.FunctionDeclaration{
			Name:        ToolLookupProperty,
			Description: "Look up information about the guest's property, such as wifi, check-out time or amenities.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"topic": map[string]any{"type": "string", "description": "What the guest is asking about"},
				},
				"required": []string{"topic"},
			},
		},
		Handle: func(ctx context.Context, info CallInfo, args map[string]any) (map[string]any, error) {
			topic, _ := args["topic"].(string)
			if topic == "" {
				return nil, fmt.Errorf("topic is required")
			}
			answer, err := directory.Lookup(ctx, info.DeviceID, topic)
			if err != nil {
				return nil, err
			}
			return map[string]any{"answer": answer}, nil
		},
	}
}

// RecordPropertyFactTool stores facts the host shares during the setup interview
func RecordPropertyFactTool(sink repositories.FactSink, clk clock.Clock) Tool {
	return Tool{
		Declaration: entities.FunctionDeclaration{
			Name:        ToolRecordPropertyFact,
			Description: "Record one fact about the property that the host just shared.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"topic":  map[string]any{"type": "string", "description": "Short category, e.g. parking or wifi"},
					"detail": map[string]any{"type": "string", "description": "The fact as stated by the host"},
				},
				"required": []string{"topic", "detail"},
			},
		},
		Handle: func(ctx context.Context, info CallInfo, args map[string]any) (map[string]any, error) {
			topic, _ := args["topic"].(string)
			detail, _ := args["detail"].(string)
			fact := entities.PropertyFact{
				ID:         uuid.NewString(),
				CallID:     info.CallID,
				PropertyID: info.DeviceID,
				Topic:      topic,
				Detail:     detail,
				CreatedAt:  clk.Now(),
			}
			if err := fact.Validate(); err != nil {
				return nil, err
			}
			if err := sink.SaveFact(ctx, fact); err != nil {
				return nil, fmt.Errorf("failed to save fact: %w", err)
			}
			return map[string]any{"result": "recorded", "id": fact.ID}, nil
		},
	}
}

// runTools executes each call and builds the responses sent back to the model.
// Handler errors become error responses; the model decides how to recover.
func runTools(ctx context.Context, registry *Registry, info CallInfo, calls []entities.FunctionCall) ([]entities.ToolResponse, bool) {
	responses := make([]entities.ToolResponse, 0, len(calls))
	endsCall := false

	for _, fc := range calls {
		response := entities.ToolResponse{ID: fc.ID, Name: fc.Name}

		tool, ok := registry.Lookup(fc.Name)
		if !ok {
			response.Response = map[string]any{"error": fmt.Sprintf("unknown function %s", fc.Name)}
			responses = append(responses, response)
			continue
		}

		result, err := tool.Handle(ctx, info, fc.Args)
		if err != nil {
			response.Response = map[string]any{"error": err.Error()}
		} else {
			response.Response = result
			endsCall = endsCall || tool.EndsCall
		}
		responses = append(responses, response)
	}
	return responses, endsCall
}
