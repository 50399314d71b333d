// Package summary precomputes the function-metadata oracle consumed by the
// conflict pass: for every function outside the messaging library, whether
// its body can transitively issue a conflicting call, is guaranteed to
// synchronize, or cannot be decided.
package summary

import (
	"strings"

	"github.com/llir/llvm/ir"
	"github.com/o2lab/mpirace/mpi"
	"github.com/sirupsen/logrus"
	"github.com/twmb/algoimpl/go/graph"
)

// Verdict classifies the messaging behavior of one non-library function.
type Verdict int

const (
	// None marks a function proven free of messaging and synchronization.
	None Verdict = iota
	// MayConflict marks a function whose body transitively contains a send
	// or receive.
	MayConflict
	// WillSync marks a function that transitively synchronizes.
	WillSync
	// Unknown marks a function that cannot be decided, typically an external
	// declaration outside the safe list or a body making indirect calls.
	Unknown
)

// Metadata is the oracle handed to the conflict pass. It is immutable after
// Build and safe for concurrent readers.
type Metadata struct {
	verdicts map[*ir.Func]Verdict
}

func (m *Metadata) MayConflict(f *ir.Func) bool { return m.verdicts[f] == MayConflict }
func (m *Metadata) WillSync(f *ir.Func) bool    { return m.verdicts[f] == WillSync }
func (m *Metadata) IsUnknown(f *ir.Func) bool   { return m.verdicts[f] == Unknown }

// VerdictOf exposes the raw verdict, mainly for tests.
func (m *Metadata) VerdictOf(f *ir.Func) Verdict { return m.verdicts[f] }

// Externals that neither message nor synchronize. User configuration extends
// this list.
var defaultSafeExternals = []string{
	"printf", "fprintf", "sprintf", "snprintf", "puts", "putchar",
	"malloc", "calloc", "realloc", "free",
	"memset", "memcpy", "memmove", "strlen", "strcmp", "strcpy",
	"exit", "abort", "atoi", "atol", "rand", "srand",
	"time", "clock", "sqrt", "fabs", "pow", "floor", "ceil",
}

// Build scans every function body once for direct facts, then folds the
// facts over the condensed call graph so that callers inherit the verdicts
// of their callees. A function that both messages and synchronizes comes out
// as MayConflict: recording the conflict is the conservative choice, while
// stopping at the sync would hide it.
func Build(mod *ir.Module, table *mpi.FuncTable, safeExternals []string, logger *logrus.Logger) *Metadata {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	safe := make(map[string]bool, len(defaultSafeExternals)+len(safeExternals))
	for _, name := range defaultSafeExternals {
		safe[name] = true
	}
	for _, name := range safeExternals {
		safe[name] = true
	}

	facts := make(map[*ir.Func]Verdict)
	callees := make(map[*ir.Func][]*ir.Func)
	var fns []*ir.Func

	for _, f := range mod.Funcs {
		if strings.Contains(f.Name(), mpi.DefaultPrefix) {
			continue
		}
		fns = append(fns, f)
		if len(f.Blocks) == 0 {
			if safe[f.Name()] || strings.HasPrefix(f.Name(), "llvm.") {
				continue
			}
			logger.Debugf("external function %s is not covered, treating it as unknown", f.Name())
			facts[f] = Unknown
			continue
		}
		for _, block := range f.Blocks {
			for _, inst := range block.Insts {
				call, ok := inst.(*ir.InstCall)
				if !ok {
					continue
				}
				callee := mpi.Callee(call)
				if callee == nil {
					facts[f] = merge(facts[f], Unknown)
					continue
				}
				switch table.Classify(call) {
				case mpi.ClassConflicting:
					facts[f] = merge(facts[f], MayConflict)
				case mpi.ClassSync:
					facts[f] = merge(facts[f], WillSync)
				case mpi.ClassNonLibrary:
					callees[f] = append(callees[f], callee)
				}
			}
		}
	}

	// Fold verdicts from callees to callers over the condensed call graph.
	// StronglyConnectedComponents lists the components callers-first, so they
	// are walked in reverse: a component then only ever reads final verdicts.
	g := graph.New(graph.Directed)
	nodes := make(map[*ir.Func]graph.Node, len(fns))
	for _, f := range fns {
		n := g.MakeNode()
		*n.Value = f
		nodes[f] = n
	}
	for f, targets := range callees {
		for _, target := range targets {
			if _, ok := nodes[target]; !ok {
				continue
			}
			if err := g.MakeEdge(nodes[f], nodes[target]); err != nil {
				logger.Fatal(err)
			}
		}
	}

	verdicts := make(map[*ir.Func]Verdict, len(fns))
	components := g.StronglyConnectedComponents()
	for i := len(components) - 1; i >= 0; i-- {
		component := components[i]
		v := None
		members := make([]*ir.Func, 0, len(component))
		for _, n := range component {
			f := (*n.Value).(*ir.Func)
			members = append(members, f)
			v = merge(v, facts[f])
			for _, callee := range callees[f] {
				v = merge(v, verdicts[callee])
			}
		}
		for _, f := range members {
			verdicts[f] = v
		}
	}
	return &Metadata{verdicts: verdicts}
}

func merge(a, b Verdict) Verdict {
	switch {
	case a == MayConflict || b == MayConflict:
		return MayConflict
	case a == WillSync || b == WillSync:
		return WillSync
	case a == Unknown || b == Unknown:
		return Unknown
	}
	return None
}
