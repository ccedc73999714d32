package usecase

import (
	"fmt"
	"sort"
	"strings"

	"github.com/semmidev/keepsake/internal/domain"
)

type executorKey struct {
	kind domain.ResourceKind
	tool string
}

// Executors maps (resource kind, policy tool) to an Executor. Registration
// happens during wiring, before any dispatch; lookups are read-only.
type Executors struct {
	table map[executorKey]domain.Executor
}

func NewExecutors() *Executors {
	return &Executors{table: make(map[executorKey]domain.Executor)}
}

func (e *Executors) Register(kind domain.ResourceKind, tool string, ex domain.Executor) {
	e.table[executorKey{kind: kind, tool: tool}] = ex
}

func (e *Executors) Lookup(kind domain.ResourceKind, tool string) (domain.Executor, error) {
	ex, ok := e.table[executorKey{kind: kind, tool: tool}]
	if !ok {
		available := "none"
		if tools := e.Tools(kind); len(tools) > 0 {
			available = strings.Join(tools, ", ")
		}
		return nil, fmt.Errorf("%w for %s/%s (available: %s)", domain.ErrNoExecutor, kind, tool, available)
	}
	return ex, nil
}

// Tools lists the tools registered for a kind, sorted.
func (e *Executors) Tools(kind domain.ResourceKind) []string {
	var tools []string
	for k := range e.table {
		if k.kind == kind {
			tools = append(tools, k.tool)
		}
	}
	sort.Strings(tools)
	return tools
}
