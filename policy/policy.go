// Package policy decides whether a tool call may pass straight through
// to the target server or must be held for human approval.
//
// A decision looks only at the tool name. Argument values are never
// inspected.
//
// Evaluation order, first match wins:
//
//  1. the name starts with an allow prefix: Allow
//  2. the name contains a block keyword: Block
//  3. otherwise: the default action
//
// Matching is case-sensitive and literal (no globs, no regular
// expressions). An Engine is immutable once built and safe for
// concurrent use without locking.
package policy

import (
	"fmt"
	"strings"
)

// Action is the outcome of evaluating a tool name.
type Action string

const (
	// Allow forwards the call to the target unchanged.
	Allow Action = "allow"
	// Block holds the call until a human approves it.
	Block Action = "block"
)

// ParseAction converts a config string into an Action.
func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case Allow, Block:
		return Action(s), nil
	}
	return "", fmt.Errorf("invalid action %q: must be one of %s, %s", s, Allow, Block)
}

// RuleSet is one layer of policy: either the global rules or the
// overrides for a single server.
type RuleSet struct {
	AllowPrefixes []string `json:"allow_prefixes,omitempty" toml:"allow_prefixes,omitempty" yaml:"allow_prefixes,omitempty"`
	BlockKeywords []string `json:"block_keywords,omitempty" toml:"block_keywords,omitempty" yaml:"block_keywords,omitempty"`
	// DefaultAction is nil when the layer does not set one.
	DefaultAction *Action `json:"default_action,omitempty" toml:"default_action,omitempty" yaml:"default_action,omitempty"`
}

// Config is the complete ruleset: global rules plus per-server overrides
// keyed by server name.
type Config struct {
	Global  RuleSet            `json:"global" toml:"global" yaml:"global"`
	Servers map[string]RuleSet `json:"servers,omitempty" toml:"servers,omitempty" yaml:"servers,omitempty"`
}

// Rule identifies what produced a decision.
type Rule struct {
	// Kind is "allow_prefix", "block_keyword" or "default".
	Kind string
	// Pattern is the prefix or keyword that matched; empty for defaults.
	Pattern string
}

func (r Rule) String() string {
	if r.Pattern == "" {
		return r.Kind
	}
	return fmt.Sprintf("%s %q", r.Kind, r.Pattern)
}

// Engine evaluates tool names against one effective ruleset.
type Engine struct {
	server        string
	allowPrefixes []string
	blockKeywords []string
	defaultAction Action
}

// New builds the engine for server by merging the server's rules, if
// any, onto the global rules. An empty server name means global rules
// only. The second return value reports whether server-specific rules
// were found.
func New(cfg Config, server string) (*Engine, bool) {
	merged := Merge(cfg.Global, RuleSet{})
	found := false
	if server != "" {
		if rs, ok := cfg.Servers[server]; ok {
			merged = Merge(cfg.Global, rs)
			found = true
		}
	}

	def := Block
	if merged.DefaultAction != nil {
		def = *merged.DefaultAction
	}
	return &Engine{
		server:        server,
		allowPrefixes: merged.AllowPrefixes,
		blockKeywords: merged.BlockKeywords,
		defaultAction: def,
	}, found
}

// Merge unions the prefix and keyword sets of base and overlay, keeping
// first-seen order. overlay's default action replaces base's only when
// overlay defines one.
func Merge(base, overlay RuleSet) RuleSet {
	out := RuleSet{
		AllowPrefixes: union(base.AllowPrefixes, overlay.AllowPrefixes),
		BlockKeywords: union(base.BlockKeywords, overlay.BlockKeywords),
		DefaultAction: base.DefaultAction,
	}
	if overlay.DefaultAction != nil {
		out.DefaultAction = overlay.DefaultAction
	}
	return out
}

func union(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

// Decide returns Allow or Block for toolName.
func (e *Engine) Decide(toolName string) Action {
	action, _ := e.Explain(toolName)
	return action
}

// Explain returns the decision for toolName together with the rule that
// produced it.
func (e *Engine) Explain(toolName string) (Action, Rule) {
	for _, p := range e.allowPrefixes {
		if strings.HasPrefix(toolName, p) {
			return Allow, Rule{Kind: "allow_prefix", Pattern: p}
		}
	}
	for _, k := range e.blockKeywords {
		if strings.Contains(toolName, k) {
			return Block, Rule{Kind: "block_keyword", Pattern: k}
		}
	}
	return e.defaultAction, Rule{Kind: "default"}
}

// Server returns the server identity the engine was built for.
func (e *Engine) Server() string {
	return e.server
}

// DefaultAction returns the effective fallback action.
func (e *Engine) DefaultAction() Action {
	return e.defaultAction
}

// Decide evaluates toolName for server under cfg in one call. Callers
// evaluating many names should build an Engine once instead.
func Decide(toolName, server string, cfg Config) Action {
	e, _ := New(cfg, server)
	return e.Decide(toolName)
}

// ActionPtr returns a pointer to a, for building RuleSets in code.
func ActionPtr(a Action) *Action {
	return &a
}
