package agent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/renalworks/nefro/pkg/registry"
)

// Constructor builds an agent instance. The registry stores constructors
// rather than instances so each request can receive freshly injected
// dependencies.
type Constructor func() (Agent, error)

type registryEntry struct {
	ctor     Constructor
	metadata Metadata
}

// Registry maps lowercase agent type tags (nutrition, research_paper,
// medical_welfare, quiz, trend_visualization, router) to constructors.
// Registration happens at process start; lookup is read-mostly afterwards.
type Registry struct {
	*registry.BaseRegistry[registryEntry]
}

func NewRegistry() *Registry {
	return &Registry{BaseRegistry: registry.NewBaseRegistry[registryEntry]()}
}

// RegisterType registers a constructor under an agent type tag.
func (r *Registry) RegisterType(agentType string, metadata Metadata, ctor Constructor) error {
	if agentType == "" {
		return NewError(CodeAgentExecution, "agent type cannot be empty", nil)
	}
	if agentType != strings.ToLower(agentType) {
		return NewError(CodeAgentExecution,
			fmt.Sprintf("agent type must be lowercase: %s", agentType), nil)
	}
	if ctor == nil {
		return NewError(CodeAgentExecution,
			fmt.Sprintf("constructor for %s cannot be nil", agentType), nil)
	}
	return r.Register(agentType, registryEntry{ctor: ctor, metadata: metadata})
}

// CreateAgent instantiates the agent registered under agentType.
func (r *Registry) CreateAgent(agentType string) (Agent, error) {
	entry, exists := r.Get(agentType)
	if !exists {
		available := r.ListAgents()
		if len(available) == 0 {
			return nil, NewError(CodeAgentNotFound,
				fmt.Sprintf("agent '%s' not found: no agents registered", agentType), ErrAgentNotFound)
		}
		return nil, NewError(CodeAgentNotFound,
			fmt.Sprintf("agent '%s' not found (available: %s)",
				agentType, strings.Join(available, ", ")), ErrAgentNotFound)
	}

	a, err := entry.ctor()
	if err != nil {
		return nil, NewError(CodeAgentExecution,
			fmt.Sprintf("failed to construct agent %s", agentType), err)
	}
	return a, nil
}

// ListAgents returns the registered type tags sorted for stable output.
func (r *Registry) ListAgents() []string {
	names := r.Names()
	sort.Strings(names)
	return names
}

// AgentsInfo returns the metadata of every registered agent keyed by tag.
func (r *Registry) AgentsInfo() map[string]Metadata {
	info := make(map[string]Metadata)
	for _, tag := range r.Names() {
		if entry, ok := r.Get(tag); ok {
			info[tag] = entry.metadata
		}
	}
	return info
}

// HasAgent reports whether a tag is registered.
func (r *Registry) HasAgent(agentType string) bool {
	_, exists := r.Get(agentType)
	return exists
}
