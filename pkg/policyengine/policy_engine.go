// Package policyengine evaluates SensitiveActions against operator-authored,
// hot-reloadable CEL rules, producing one of three verdicts: Blocked,
// Allowed, or RequiresApproval. It is the first gate in the interceptor and
// is never overridden by any capability or allowance. Every rule is also
// walked for non-deterministic constructs before it is accepted, since a
// BLOCK/WARN verdict must not depend on wall-clock time or iteration order.
package policyengine

import (
	"fmt"
	"sync"

	"github.com/astrid-sh/astrid-guard/pkg/action"
	"github.com/astrid-sh/astrid-guard/pkg/policyloader"
	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/decls"
	"github.com/google/cel-go/common/types"
)

// VerdictKind discriminates Verdict's variant.
type VerdictKind string

const (
	VerdictBlocked          VerdictKind = "blocked"
	VerdictAllowed          VerdictKind = "allowed"
	VerdictRequiresApproval VerdictKind = "requires_approval"
)

// Verdict is the policy engine's decision for one action.
type Verdict struct {
	Kind   VerdictKind
	Reason string // set when Kind == VerdictBlocked
}

// compiledRule pairs a loaded policyloader.PolicyRule with its compiled
// CEL program.
type compiledRule struct {
	rule    policyloader.PolicyRule
	program cel.Program
}

// Engine holds the compiled rule set and the hard-coded baseline rules
// that ship regardless of what bundles are loaded (sudo, rm -rf /, and
// similar always-blocked patterns).
type Engine struct {
	mu    sync.RWMutex
	env   *cel.Env
	rules []compiledRule
}

// NewEngine builds a policy engine with the CEL environment sensitive
// actions are evaluated against.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.VariableDecls(
			decls.NewVariable("action_type", types.StringType),
			decls.NewVariable("command", types.StringType),
			decls.NewVariable("args", types.NewListType(types.StringType)),
			decls.NewVariable("path", types.StringType),
			decls.NewVariable("server", types.StringType),
			decls.NewVariable("tool", types.StringType),
			decls.NewVariable("url", types.StringType),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("policyengine: create CEL env: %w", err)
	}
	e := &Engine{env: env}
	if err := e.loadBaseline(); err != nil {
		return nil, err
	}
	return e, nil
}

// loadBaseline compiles the hard boundaries that apply regardless of any
// operator-supplied bundle: sudo and friends are always blocked, protected
// file-write prefixes always require approval.
func (e *Engine) loadBaseline() error {
	baseline := []policyloader.PolicyRule{
		{
			ID:         "baseline-block-sudo",
			Name:       "sudo is disallowed",
			Expression: `action_type == "execute_command" && (command == "sudo" || command == "doas")`,
			Action:     "BLOCK",
			Priority:   1000,
			Enabled:    true,
		},
		{
			ID:         "baseline-block-rm-rf-root",
			Name:       "block destructive root deletion",
			Expression: `action_type == "execute_command" && command == "rm" && args.exists(a, a == "-rf" || a == "-fr") && args.exists(a, a == "/")`,
			Action:     "BLOCK",
			Priority:   999,
			Enabled:    true,
		},
		{
			ID:         "baseline-approve-protected-write",
			Name:       "require approval for writes under protected prefixes",
			Expression: `(action_type == "file_write" || action_type == "file_delete") && (path.startsWith("/etc") || path.startsWith("/home") || path.startsWith("/root"))`,
			Action:     "WARN",
			Priority:   500,
			Enabled:    true,
		},
	}
	for _, r := range baseline {
		if err := e.compileAndAdd(r); err != nil {
			return fmt.Errorf("policyengine: compile baseline rule %s: %w", r.ID, err)
		}
	}
	return nil
}

// LoadBundle compiles and registers every enabled rule in bundle,
// replacing the operator-supplied rule set. The baseline rules are kept;
// Check evaluates baseline and bundle rules together in priority order.
func (e *Engine) LoadBundle(bundle *policyloader.PolicyBundle) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Drop any previously loaded non-baseline rules before re-adding.
	kept := e.rules[:0:0]
	for _, r := range e.rules {
		if len(r.rule.ID) >= len("baseline-") && r.rule.ID[:len("baseline-")] == "baseline-" {
			kept = append(kept, r)
		}
	}
	e.rules = kept

	for _, r := range bundle.Rules {
		if !r.Enabled {
			continue
		}
		if err := e.compileAndAddLocked(r); err != nil {
			return fmt.Errorf("policyengine: compile rule %s: %w", r.ID, err)
		}
	}
	return nil
}

func (e *Engine) compileAndAdd(r policyloader.PolicyRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.compileAndAddLocked(r)
}

func (e *Engine) compileAndAddLocked(r policyloader.PolicyRule) error {
	ast, issues := e.env.Compile(r.Expression)
	if issues != nil && issues.Err() != nil {
		return issues.Err()
	}
	if err := checkDeterministic(ast); err != nil {
		return err
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return err
	}
	e.rules = append(e.rules, compiledRule{rule: r, program: prg})
	return nil
}

// Check evaluates act against every loaded rule, highest priority first.
// The first matching BLOCK rule wins outright; the first matching WARN
// rule produces RequiresApproval unless some BLOCK rule also matches,
// whatever its priority. No match at all means Allowed.
func (e *Engine) Check(act action.Action) Verdict {
	e.mu.RLock()
	rules := make([]compiledRule, len(e.rules))
	copy(rules, e.rules)
	e.mu.RUnlock()

	sortByPriorityDesc(rules)

	input := map[string]any{
		"action_type": string(act.Type),
		"command":     act.Command,
		"args":        act.Args,
		"path":        act.Path,
		"server":      act.Server,
		"tool":        act.Tool,
		"url":         act.URL,
	}
	if input["args"] == nil {
		input["args"] = []string{}
	}

	requiresApproval := false
	for _, r := range rules {
		out, _, err := r.program.Eval(input)
		if err != nil {
			continue // a malformed rule never grants; it simply does not fire
		}
		matched, ok := out.Value().(bool)
		if !ok || !matched {
			continue
		}
		switch r.rule.Action {
		case "BLOCK":
			return Verdict{Kind: VerdictBlocked, Reason: r.rule.Name}
		case "WARN":
			requiresApproval = true
		}
	}
	if requiresApproval {
		return Verdict{Kind: VerdictRequiresApproval}
	}
	return Verdict{Kind: VerdictAllowed}
}

func sortByPriorityDesc(rules []compiledRule) {
	for i := 0; i < len(rules); i++ {
		for j := i + 1; j < len(rules); j++ {
			if rules[j].rule.Priority > rules[i].rule.Priority {
				rules[i], rules[j] = rules[j], rules[i]
			}
		}
	}
}
