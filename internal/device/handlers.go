package device

import (
	"context"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/iancoleman/strcase"
)

// conventionPrefix is the key prefix for handlers discovered from method names.
const conventionPrefix = "handle_"

// methodPrefix marks adapter methods that implement an action.
// HandlePowerOn is registered as handle_power_on.
const methodPrefix = "Handle"

// HandlerProvider is implemented by adapters that register handlers by name.
// Explicit handlers take precedence over convention methods.
type HandlerProvider interface {
	Handlers() map[string]HandlerFunc
}

// handlerTable resolves action names to handlers.
// The convention map is fixed at construction; explicit entries may be
// added until the device is wired.
type handlerTable struct {
	mu         sync.RWMutex
	explicit   map[string]HandlerFunc
	convention map[string]HandlerFunc
}

func newHandlerTable(adapter any) *handlerTable {
	t := &handlerTable{
		explicit:   make(map[string]HandlerFunc),
		convention: discoverHandlers(adapter),
	}
	if p, ok := adapter.(HandlerProvider); ok {
		for name, fn := range p.Handlers() {
			t.register(name, fn)
		}
	}
	return t
}

// discoverHandlers scans the exported methods of adapter once and returns
// every Handle* method with the HandlerFunc signature, keyed by
// handle_<snake_case action>.
func discoverHandlers(adapter any) map[string]HandlerFunc {
	found := make(map[string]HandlerFunc)
	if adapter == nil {
		return found
	}

	v := reflect.ValueOf(adapter)
	typ := v.Type()
	for i := 0; i < typ.NumMethod(); i++ {
		method := typ.Method(i)
		action := strings.TrimPrefix(method.Name, methodPrefix)
		if action == method.Name || action == "" {
			continue
		}
		fn, ok := v.Method(i).Interface().(func(context.Context, CommandDef, map[string]any) (CommandResult, error))
		if !ok {
			continue
		}
		found[conventionPrefix+strcase.ToSnake(action)] = fn
	}
	return found
}

func (t *handlerTable) register(name string, fn HandlerFunc) {
	if fn == nil {
		return
	}
	t.mu.Lock()
	t.explicit[normaliseAction(name)] = fn
	t.mu.Unlock()
}

// lookup tries the explicit table, then handle_<action>, then both again
// with the action converted to snake_case.
func (t *handlerTable) lookup(action string) (HandlerFunc, bool) {
	candidates := []string{normaliseAction(action)}
	if snake := strcase.ToSnake(strings.TrimSpace(action)); snake != candidates[0] {
		candidates = append(candidates, snake)
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, name := range candidates {
		if fn, ok := t.explicit[name]; ok {
			return fn, true
		}
		if fn, ok := t.convention[conventionPrefix+name]; ok {
			return fn, true
		}
	}
	return nil, false
}

// names returns every handled action, sorted.
func (t *handlerTable) names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	set := make(map[string]struct{}, len(t.explicit)+len(t.convention))
	for name := range t.explicit {
		set[name] = struct{}{}
	}
	for key := range t.convention {
		set[strings.TrimPrefix(key, conventionPrefix)] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
