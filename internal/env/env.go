// Package env composes the extra environment handed to the supervised
// command from env files and KEY=VALUE entries.
package env

import (
	"os"
	"strings"
)

type Var map[string]string

// Env collects variables in the order they were first set. Values may
// reference ${VAR} from earlier entries or from the inherited environment.
type Env struct {
	vars  Var
	order []string
	base  Var // cached OS environment
}

func New() *Env {
	return &Env{vars: make(Var)}
}

// FromOS caches the current process environment as the expansion base.
func (e *Env) FromOS() {
	base := make(Var)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			base[k] = v
		}
	}
	e.base = base
}

// Lookup returns a variable set on e, falling back to the cached base.
func (e *Env) Lookup(k string) (string, bool) {
	if v, ok := e.vars[k]; ok {
		return v, true
	}
	v, ok := e.base[k]
	return v, ok
}

// Set expands v and stores it under k. A later Set of the same key keeps
// the key's original position.
func (e *Env) Set(k, v string) {
	if k == "" {
		return
	}
	if e.vars == nil {
		e.vars = make(Var)
	}
	if _, seen := e.vars[k]; !seen {
		e.order = append(e.order, k)
	}
	e.vars[k] = e.expand(v)
}

// Apply sets every "K=V" entry in order; malformed entries are skipped.
func (e *Env) Apply(kvs []string) {
	for _, kv := range kvs {
		if k, v, ok := strings.Cut(kv, "="); ok {
			e.Set(k, v)
		}
	}
}

// List returns the collected variables as "K=V".
func (e *Env) List() []string {
	out := make([]string, 0, len(e.order))
	for _, k := range e.order {
		out = append(out, k+"="+e.vars[k])
	}
	return out
}

// expand replaces ${VAR} with its current value. Unknown references are
// left untouched.
func (e *Env) expand(s string) string {
	var b strings.Builder
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			break
		}
		j := strings.IndexByte(s[i+2:], '}')
		if j < 0 {
			break
		}
		name := s[i+2 : i+2+j]
		b.WriteString(s[:i])
		if v, ok := e.Lookup(name); ok {
			b.WriteString(v)
		} else {
			b.WriteString(s[i : i+3+j])
		}
		s = s[i+3+j:]
	}
	b.WriteString(s)
	return b.String()
}
