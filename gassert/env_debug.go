//go:build debug

package gassert

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
)

// Env is an alias to *Environment in debug builds.
type Env = *Environment

// Environment holds the parsed assertion rules.
// It is immutable after construction, except for [*Environment.OnlyLogFailures],
// which must be called before concurrent use.
type Environment struct {
	wildcards [][]string
	exacts    [][]string
	excludes  [][]string

	log *slog.Logger
}

// EnvironmentFromString parses a comma-separated list of rules.
// The empty string produces an environment with every rule disabled.
func EnvironmentFromString(in string) (*Environment, error) {
	e := new(Environment)
	if in == "" {
		return e, nil
	}

	var errs error
	for _, r := range strings.Split(in, ",") {
		if err := e.addRule(strings.TrimSpace(r)); err != nil {
			errs = errors.Join(errs, err)
		}
	}
	if errs != nil {
		return nil, errs
	}
	return e, nil
}

func (e *Environment) addRule(r string) error {
	if r == "" {
		return errors.New("received empty rule")
	}

	if ex, ok := strings.CutPrefix(r, "!"); ok {
		if strings.ContainsAny(ex, "*!") {
			return fmt.Errorf("invalid rule %q: exclusions must name an exact rule", r)
		}
		parts, err := splitRule(ex)
		if err != nil {
			return fmt.Errorf("invalid rule %q: %w", r, err)
		}
		e.excludes = append(e.excludes, parts)
		return nil
	}

	if r == "*" {
		e.wildcards = append(e.wildcards, []string{})
		return nil
	}

	if p, ok := strings.CutSuffix(r, ".*"); ok {
		if strings.ContainsAny(p, "*!") {
			return fmt.Errorf("invalid rule %q: * may only be the final segment", r)
		}
		parts, err := splitRule(p)
		if err != nil {
			return fmt.Errorf("invalid rule %q: %w", r, err)
		}
		e.wildcards = append(e.wildcards, parts)
		return nil
	}

	if strings.ContainsAny(r, "*!") {
		return fmt.Errorf("invalid rule %q: * may only be the final segment and ! only the first character", r)
	}
	parts, err := splitRule(r)
	if err != nil {
		return fmt.Errorf("invalid rule %q: %w", r, err)
	}
	e.exacts = append(e.exacts, parts)
	return nil
}

func splitRule(r string) ([]string, error) {
	parts := strings.Split(r, ".")
	if slices.Contains(parts, "") {
		return nil, errors.New("dot-separated sections may not be empty")
	}
	return parts, nil
}

// OnlyLogFailures makes [*Environment.HandleAssertionFailure]
// log at Error level instead of panicking.
func (e *Environment) OnlyLogFailures(log *slog.Logger) {
	e.log = log
}

// HandleAssertionFailure panics with err,
// or only logs it if OnlyLogFailures was called.
// It panics on a nil error regardless.
func (e *Environment) HandleAssertionFailure(err error) {
	if err == nil {
		panic(errors.New("BUG: HandleAssertionFailure called with nil error"))
	}

	if e.log == nil {
		panic(fmt.Errorf("assertion failure: %w", err))
	}

	e.log.Error("Assertion failure", "err", err)
}

// Enabled reports whether the named rule should be checked.
// Exact rules always win; otherwise a wildcard match applies
// unless an exclusion names the rule exactly.
func (e *Environment) Enabled(rule string) bool {
	if len(e.wildcards) == 0 && len(e.exacts) == 0 {
		return false
	}

	parts := strings.Split(rule, ".")

	for _, x := range e.exacts {
		if slices.Equal(x, parts) {
			return true
		}
	}

	for _, w := range e.wildcards {
		if len(w) >= len(parts) || !slices.Equal(w, parts[:len(w)]) {
			continue
		}
		for _, x := range e.excludes {
			if slices.Equal(x, parts) {
				return false
			}
		}
		return true
	}

	return false
}
