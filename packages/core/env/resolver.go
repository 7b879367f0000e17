package env

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var variablePattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// ErrUnresolved is returned for placeholders no source could fill.
var ErrUnresolved = errors.New("unresolved placeholder")

// Func produces the value of a built-in placeholder such as {{uuid()}}.
type Func func() string

// Resolver fills {{...}} placeholders. It is safe for concurrent use.
type Resolver struct {
	mu        sync.RWMutex
	variables map[string]string
	funcs     map[string]Func
	lookupEnv func(string) (string, bool)
}

// NewResolver returns a resolver over vars; later maps win on conflicts.
func NewResolver(vars ...map[string]string) *Resolver {
	r := &Resolver{
		variables: make(map[string]string),
		funcs:     defaultFuncs(),
		lookupEnv: os.LookupEnv,
	}
	for _, v := range vars {
		maps.Copy(r.variables, v)
	}
	return r
}

func defaultFuncs() map[string]Func {
	return map[string]Func{
		"uuid":        func() string { return uuid.New().String() },
		"timestamp":   func() string { return strconv.FormatInt(time.Now().Unix(), 10) },
		"timestampMs": func() string { return strconv.FormatInt(time.Now().UnixMilli(), 10) },
		"date":        func() string { return time.Now().UTC().Format(time.DateOnly) },
	}
}

func (r *Resolver) SetVariable(name, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.variables[name] = value
}

// Register adds or replaces a built-in function.
func (r *Resolver) Register(name string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = fn
}

// With returns a copy of r with vars layered on top.
func (r *Resolver) With(vars map[string]string) *Resolver {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clone := &Resolver{
		variables: maps.Clone(r.variables),
		funcs:     maps.Clone(r.funcs),
		lookupEnv: r.lookupEnv,
	}
	maps.Copy(clone.variables, vars)
	return clone
}

// Resolve replaces every placeholder in input. Unresolvable placeholders are
// left in place and reported together in an error wrapping ErrUnresolved.
func (r *Resolver) Resolve(input string) (string, error) {
	var missing []string
	out := variablePattern.ReplaceAllStringFunc(input, func(match string) string {
		expr := strings.TrimSpace(match[2 : len(match)-2])
		if val, ok := r.lookup(expr); ok {
			return val
		}
		missing = append(missing, expr)
		return match
	})
	if len(missing) > 0 {
		return out, fmt.Errorf("%w: %s", ErrUnresolved, strings.Join(missing, ", "))
	}
	return out, nil
}

// ResolveAll resolves every value of values into a new map.
func (r *Resolver) ResolveAll(values map[string]string) (map[string]string, error) {
	result := make(map[string]string, len(values))
	var errs []error
	for k, v := range values {
		resolved, err := r.Resolve(v)
		if err != nil {
			errs = append(errs, err)
		}
		result[k] = resolved
	}
	return result, errors.Join(errs...)
}

func (r *Resolver) lookup(expr string) (string, bool) {
	if name, ok := strings.CutPrefix(expr, "$"); ok {
		return r.lookupEnv(name)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if name, ok := strings.CutSuffix(expr, "()"); ok {
		fn, ok := r.funcs[name]
		if !ok {
			return "", false
		}
		return fn(), true
	}
	val, ok := r.variables[expr]
	return val, ok
}
