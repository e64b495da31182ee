// Package rules rewrites recognized text before it is delivered:
// literal and sed-style substitutions plus dictation directives such as
// spoken punctuation.
package rules

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// ErrUnstable is returned when rules keep rewriting each other's output.
var ErrUnstable = errors.New("rules did not settle")

const defaultLoopLimit = 30

type compiledRule interface {
	Apply(input string) (output string, changed bool)
}

// RuleParser parses one line into a compiled rule.
type RuleParser interface {
	CanParse(line string) bool
	Parse(line string) (compiledRule, error)
}

// Engine applies deterministic substitutions loaded from a rules file.
// It is safe for concurrent use and can be reloaded in place.
type Engine struct {
	path      string
	loopLimit int
	parsers   []RuleParser

	mu     sync.RWMutex
	rules  []compiledRule
	finish []compiledRule
}

// NewEngine loads and compiles rules from a file using built-in parsers.
// A missing file yields an engine that passes text through.
func NewEngine(path string, loopLimit int) (*Engine, error) {
	return NewEngineWithParsers(path, loopLimit, defaultRuleParsers())
}

// NewEngineWithParsers allows parser extension without engine changes.
func NewEngineWithParsers(path string, loopLimit int, parsers []RuleParser) (*Engine, error) {
	if loopLimit <= 0 {
		loopLimit = defaultLoopLimit
	}
	if len(parsers) == 0 {
		parsers = defaultRuleParsers()
	}

	e := &Engine{path: strings.TrimSpace(path), loopLimit: loopLimit, parsers: parsers}
	if err := e.Reload(); err != nil {
		return nil, err
	}
	return e, nil
}

// Reload re-reads the rules file. On error the previous rules stay.
func (e *Engine) Reload() error {
	if e.path == "" {
		return nil
	}

	contents, err := os.ReadFile(e.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			e.swap(nil, nil)
			return nil
		}
		return fmt.Errorf("failed to read rules file %q: %w", e.path, err)
	}

	rules, finish, err := parseRules(string(contents), e.parsers)
	if err != nil {
		return fmt.Errorf("failed to parse rules file %q: %w", e.path, err)
	}
	e.swap(rules, finish)
	return nil
}

func (e *Engine) swap(rules, finish []compiledRule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = rules
	e.finish = finish
}

// Len is the number of loaded rules including directives.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules) + len(e.finish)
}

// Apply rewrites text until no rule changes it, then runs the finishing
// directives once.
func (e *Engine) Apply(text string) (string, error) {
	e.mu.RLock()
	rules, finish := e.rules, e.finish
	e.mu.RUnlock()

	result := text
	if len(rules) > 0 {
		settled := false
		for i := 0; i < e.loopLimit; i++ {
			changed := false
			for _, rule := range rules {
				next, ruleChanged := rule.Apply(result)
				if ruleChanged {
					result = next
					changed = true
				}
			}
			if !changed {
				settled = true
				break
			}
		}
		if !settled {
			return "", fmt.Errorf("%w after %d passes", ErrUnstable, e.loopLimit)
		}
	}

	for _, rule := range finish {
		result, _ = rule.Apply(result)
	}
	return result, nil
}
