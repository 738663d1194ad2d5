// Package backend fans the finalized model out to the configured
// renderers and aggregates whether any entity produced output for the
// service-managed backend.
package backend

import (
	"fmt"

	"github.com/roach88/netgen/internal/model"
)

// Writer is the capability interface implemented by each backend
// renderer. Writers are pure with respect to the orchestrator: they
// receive an entity plus the configured root and perform filesystem
// output; the orchestrator only interprets the produced boolean.
type Writer interface {
	Name() string

	// ManagedService reports whether output from this writer counts
	// toward the aggregate flag that gates service enablement and
	// device-cache invalidation.
	ManagedService() bool

	Write(def *model.Definition, root string) (bool, error)
	WriteRoute(route *model.Route, root string) (bool, error)
	WriteRule(rule *model.Rule, root string) (bool, error)

	// Cleanup removes this backend's output left over from a previous
	// run under root.
	Cleanup(root string) error

	// Finish runs once after all per-entity writes are done, for
	// backends that emit an aggregate file.
	Finish(root string) error
}

// Writers returns the fixed, ordered backend list for one run. Each
// run gets fresh instances because writers may accumulate state for
// their Finish step.
func Writers() []Writer {
	return []Writer{
		NewNetworkdWriter(),
		NewNetworkManagerWriter(),
	}
}

// Result is the aggregate outcome of one dispatch pass.
type Result struct {
	// AnyManaged is true if at least one definition, route, or rule
	// produced output for the service-managed backend.
	AnyManaged bool

	DefinitionWrites int
	RouteWrites      int
	RuleWrites       int
}

// Dispatch invokes every writer for every definition, then for every
// global route and rule, folding the per-call booleans into the
// result. The two backend writes per entity are independent; neither
// short-circuits the other. Iteration order over the keyed collections
// is unspecified and nothing may rely on it.
func Dispatch(st *model.State, root string, writers []Writer) (Result, error) {
	var res Result

	for _, def := range st.Definitions {
		for _, w := range writers {
			produced, err := w.Write(def, root)
			if err != nil {
				return res, fmt.Errorf("%s: writing %s: %w", w.Name(), def.ID, err)
			}
			if produced {
				res.DefinitionWrites++
			}
			res.AnyManaged = res.AnyManaged || (produced && w.ManagedService())
		}
	}

	for _, route := range st.Routes {
		for _, w := range writers {
			produced, err := w.WriteRoute(route, root)
			if err != nil {
				return res, fmt.Errorf("%s: writing route %s: %w", w.Name(), route.Key(), err)
			}
			if produced {
				res.RouteWrites++
			}
			res.AnyManaged = res.AnyManaged || (produced && w.ManagedService())
		}
	}

	for _, rule := range st.Rules {
		for _, w := range writers {
			produced, err := w.WriteRule(rule, root)
			if err != nil {
				return res, fmt.Errorf("%s: writing rule %s: %w", w.Name(), rule.Key(), err)
			}
			if produced {
				res.RuleWrites++
			}
			res.AnyManaged = res.AnyManaged || (produced && w.ManagedService())
		}
	}

	return res, nil
}

// CleanupAll removes every backend's previous output under root.
// It runs before dispatch so entities removed from the source
// configuration do not leave stale backend files behind.
func CleanupAll(writers []Writer, root string) error {
	for _, w := range writers {
		if err := w.Cleanup(root); err != nil {
			return fmt.Errorf("%s: cleanup: %w", w.Name(), err)
		}
	}
	return nil
}

// FinishAll runs every backend's aggregate step after dispatch.
func FinishAll(writers []Writer, root string) error {
	for _, w := range writers {
		if err := w.Finish(root); err != nil {
			return fmt.Errorf("%s: finish: %w", w.Name(), err)
		}
	}
	return nil
}
