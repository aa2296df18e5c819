// Copyright 2026 The routeguard Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package steering evaluates operator-declared override rules against the
// routing context before confidence scoring. A matching rule can force a
// request onto the static or dynamic path.
package steering

import (
	"fmt"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	log "github.com/sirupsen/logrus"
)

// Rule is one override rule. Condition is an expr boolean expression over
// RuleContext; an empty condition or "true" always matches.
type Rule struct {
	// Name identifies the rule in reasoning traces.
	Name string `yaml:"name" json:"name"`

	// Condition is the expr expression, e.g.
	// "Intent == 'coding' && WordCount > 30".
	Condition string `yaml:"condition" json:"condition"`

	// Force is the decision to apply: "static" or "dynamic".
	Force string `yaml:"force" json:"force"`
}

// RuleContext is the environment a rule condition is evaluated against.
type RuleContext struct {
	Intent              string
	Query               string
	QueryLength         int
	WordCount           int
	HasWorkspaceContext bool
	HasStaticResponse   bool
	Hour                int
}

// Engine holds the compiled rule set. Conditions are compiled lazily and
// cached; evaluation is safe for concurrent use.
type Engine struct {
	mu       sync.RWMutex
	rules    []Rule
	programs map[string]*vm.Program
}

// NewEngine creates an engine over the given rules. Rules with an invalid
// Force value are dropped with a warning.
func NewEngine(rules []Rule) *Engine {
	valid := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if r.Force != "static" && r.Force != "dynamic" {
			log.Warnf("Dropping steering rule %q: unsupported force value %q", r.Name, r.Force)
			continue
		}
		valid = append(valid, r)
	}
	return &Engine{
		rules:    valid,
		programs: make(map[string]*vm.Program),
	}
}

// Match returns the first rule whose condition holds for ctx, or nil when
// none match. A rule whose condition fails to compile or evaluate is
// skipped; a broken rule must never block routing.
func (e *Engine) Match(ctx RuleContext) *Rule {
	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	for i := range rules {
		ok, err := e.evaluate(rules[i].Condition, ctx)
		if err != nil {
			log.Warnf("Steering rule %q: %v", rules[i].Name, err)
			continue
		}
		if ok {
			return &rules[i]
		}
	}
	return nil
}

// Replace swaps the active rule set, used by config hot-reload.
func (e *Engine) Replace(rules []Rule) {
	fresh := NewEngine(rules)
	e.mu.Lock()
	e.rules = fresh.rules
	e.programs = make(map[string]*vm.Program)
	e.mu.Unlock()
}

// Len returns the number of active rules.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// evaluate runs a single condition, compiling and caching it on first use.
func (e *Engine) evaluate(condition string, ctx RuleContext) (bool, error) {
	if condition == "" || condition == "true" {
		return true, nil
	}

	e.mu.RLock()
	program, exists := e.programs[condition]
	e.mu.RUnlock()

	if !exists {
		var err error
		program, err = expr.Compile(condition, expr.Env(ctx), expr.AsBool())
		if err != nil {
			return false, fmt.Errorf("failed to compile condition %q: %w", condition, err)
		}
		e.mu.Lock()
		e.programs[condition] = program
		e.mu.Unlock()
	}

	output, err := expr.Run(program, ctx)
	if err != nil {
		return false, fmt.Errorf("failed to run condition %q: %w", condition, err)
	}

	result, ok := output.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q did not return a boolean", condition)
	}
	return result, nil
}

// ContextFor builds a RuleContext from request fields at the current time.
func ContextFor(query, intent string, hasWorkspaceContext, hasStaticResponse bool) RuleContext {
	words := 0
	inWord := false
	for _, r := range query {
		if r == ' ' || r == '\t' || r == '\n' {
			inWord = false
			continue
		}
		if !inWord {
			words++
			inWord = true
		}
	}

	return RuleContext{
		Intent:              intent,
		Query:               query,
		QueryLength:         len(query),
		WordCount:           words,
		HasWorkspaceContext: hasWorkspaceContext,
		HasStaticResponse:   hasStaticResponse,
		Hour:                time.Now().Hour(),
	}
}
