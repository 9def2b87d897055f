package tools

import (
	"fmt"
	"strings"
	"sync"

	"github.com/nextlevelbuilder/ironclaw/internal/providers"
)

// Registry holds named tools. Registration order is preserved so schemas
// reach the model in a stable order.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]registration
	order []string
}

type registration struct {
	tool        Tool
	primaryOnly bool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]registration)}
}

// Register adds a tool available to every runner.
func (r *Registry) Register(t Tool) {
	r.register(t, false)
}

// RegisterPrimaryOnly adds a tool that is withheld from subagent runners.
// The spawn tool registers this way so subagents cannot nest.
func (r *Registry) RegisterPrimaryOnly(t Tool) {
	r.register(t, true)
}

func (r *Registry) register(t Tool, primaryOnly bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := t.Name()
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = registration{tool: t, primaryOnly: primaryOnly}
}

// Get returns the tool by name. Subagent callers cannot see primary-only
// tools, so to them a spawn attempt is an unknown tool.
func (r *Registry) Get(name string, isSubagent bool) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tools[name]
	if !ok || (isSubagent && reg.primaryOnly) {
		return nil, false
	}
	return reg.tool, true
}

// Definitions returns the tool schemas offered to a runner.
func (r *Registry) Definitions(isSubagent bool) []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]providers.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		reg := r.tools[name]
		if isSubagent && reg.primaryOnly {
			continue
		}
		defs = append(defs, providers.ToolDefinition{
			Name:        reg.tool.Name(),
			Description: reg.tool.Description(),
			Parameters:  reg.tool.Parameters(),
		})
	}
	return defs
}

// SkillsCatalogue renders the available tools as a block for the system
// prompt.
func (r *Registry) SkillsCatalogue(isSubagent bool) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var b strings.Builder
	b.WriteString("<available_skills>\n")
	for _, name := range r.order {
		reg := r.tools[name]
		if isSubagent && reg.primaryOnly {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", reg.tool.Name(), reg.tool.Description())
	}
	b.WriteString("</available_skills>")
	return b.String()
}
