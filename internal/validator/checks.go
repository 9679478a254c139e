package validator

import (
	"fmt"
	"math"
	"path"
	"sort"
	"time"

	"github.com/dop251/goja"
	"github.com/me/obscore/pkg/model"
)

// checkTimeout bounds a single predicate evaluation.
const checkTimeout = 250 * time.Millisecond

// Checker evaluates per-kind value predicates for one module. Module checks
// are JavaScript expressions over the global `value`; kinds without one fall
// back to a built-in check. Each evaluation gets its own runtime, so a
// timed-out predicate cannot affect the next one.
type Checker struct {
	progs map[string]*goja.Program
}

// NewChecker compiles the checks declared by m.
func NewChecker(m *model.ModuleDescriptor) (*Checker, error) {
	c := &Checker{progs: make(map[string]*goja.Program, len(m.Checks))}

	kinds := make([]string, 0, len(m.Checks))
	for kind := range m.Checks {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		prog, err := goja.Compile("check:"+kind, "("+m.Checks[kind]+")", true)
		if err != nil {
			return nil, fmt.Errorf("check for %s: %w", kind, err)
		}
		c.progs[kind] = prog
	}
	return c, nil
}

// Check reports whether value is acceptable for an observation of kind.
func (c *Checker) Check(kind string, value any) (bool, error) {
	prog, ok := c.progs[kind]
	if !ok {
		return builtinCheck(kind, value), nil
	}

	vm := goja.New()
	if err := vm.Set("value", value); err != nil {
		return false, fmt.Errorf("set value: %w", err)
	}
	timer := time.AfterFunc(checkTimeout, func() { vm.Interrupt("check timed out") })
	res, err := vm.RunProgram(prog)
	timer.Stop()
	if err != nil {
		return false, fmt.Errorf("JavaScript error: %w", err)
	}
	return res.ToBoolean(), nil
}

// Built-in checks for common measurement kinds.
var builtinChecks = map[string]func(any) bool{
	"tcp-ttl": ttlCheck,
	"udp-ttl": ttlCheck,
}

func builtinCheck(kind string, value any) bool {
	if fn, ok := builtinChecks[kind]; ok {
		return fn(value)
	}
	if ok, _ := path.Match("*-rtt*", kind); ok {
		return rttCheck(value)
	}
	return value != nil
}

// ttlCheck accepts an integer hop limit in [0, 255].
func ttlCheck(value any) bool {
	f, ok := value.(float64)
	return ok && f == math.Trunc(f) && f >= 0 && f <= 255
}

// rttCheck accepts a non-negative round trip time.
func rttCheck(value any) bool {
	f, ok := value.(float64)
	return ok && !math.IsNaN(f) && f >= 0
}
