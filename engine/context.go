package engine

import (
	"sync"

	"github.com/windflow-ai/windflow/provider"
)

// usageLedger accumulates provider usage per step id. Shared by every fork
// of a run's context so nested usage rolls up to the run.
type usageLedger struct {
	mux     sync.Mutex
	perStep map[string]provider.Usage
	total   provider.Usage
}

func (l *usageLedger) add(stepID string, usage provider.Usage) {
	l.mux.Lock()
	defer l.mux.Unlock()
	entry := l.perStep[stepID]
	entry.Add(usage)
	l.perStep[stepID] = entry
	l.total.Add(usage)
}

func (l *usageLedger) snapshot() (map[string]provider.Usage, provider.Usage) {
	l.mux.Lock()
	defer l.mux.Unlock()
	perStep := make(map[string]provider.Usage, len(l.perStep))
	for k, v := range l.perStep {
		perStep[k] = v
	}
	return perStep, l.total
}

// Context carries a run's state: the immutable input, the results of
// completed steps and any loop-scope variables. Forks are isolated from
// their parent, so sibling element pipelines never observe each other's
// commits; the usage ledger is the only shared piece.
type Context struct {
	workflow string
	input    map[string]interface{}
	steps    map[string]interface{}
	extra    map[string]interface{}
	usage    *usageLedger
}

func newContext(workflow string, input map[string]interface{}) *Context {
	return &Context{
		workflow: workflow,
		input:    input,
		steps:    map[string]interface{}{},
		extra:    map[string]interface{}{},
		usage:    &usageLedger{perStep: map[string]provider.Usage{}},
	}
}

// Commit stores a completed step's result under its id.
func (c *Context) Commit(stepID string, result interface{}) {
	c.steps[stepID] = result
}

// Result returns a committed step result.
func (c *Context) Result(stepID string) (interface{}, bool) {
	result, ok := c.steps[stepID]
	return result, ok
}

// Fork derives an isolated child context extended with the given scope
// variables. Step results committed so far are visible in the child; later
// commits on either side stay private.
func (c *Context) Fork(extra map[string]interface{}) *Context {
	child := &Context{
		workflow: c.workflow,
		input:    c.input,
		steps:    make(map[string]interface{}, len(c.steps)),
		extra:    make(map[string]interface{}, len(c.extra)+len(extra)),
		usage:    c.usage,
	}
	for k, v := range c.steps {
		child.steps[k] = v
	}
	for k, v := range c.extra {
		child.extra[k] = v
	}
	for k, v := range extra {
		child.extra[k] = v
	}
	return child
}

// Vars builds the template scope: input (as a map and spread at top level),
// steps, workflow metadata and any loop variables.
func (c *Context) Vars() map[string]interface{} {
	vars := make(map[string]interface{}, len(c.input)+len(c.extra)+3)
	for k, v := range c.input {
		vars[k] = v
	}
	vars["input"] = c.input
	vars["steps"] = c.steps
	vars["workflow"] = map[string]interface{}{"name": c.workflow}
	for k, v := range c.extra {
		vars[k] = v
	}
	return vars
}

// AddUsage records provider usage against a step id.
func (c *Context) AddUsage(stepID string, usage provider.Usage) {
	c.usage.add(stepID, usage)
}

// UsageSnapshot returns per-step and total usage recorded so far.
func (c *Context) UsageSnapshot() (map[string]provider.Usage, provider.Usage) {
	return c.usage.snapshot()
}
