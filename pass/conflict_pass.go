// Package pass implements the conflict-detection pass: a forward,
// interprocedural exploration of every continuation of an originating
// messaging call, deciding which later calls could overtake it once the
// runtime is allowed to relax message ordering.
package pass

import (
	"github.com/llir/llvm/ir"
	"github.com/o2lab/mpirace/mpi"
	"github.com/o2lab/mpirace/preprocessor"
	"github.com/sirupsen/logrus"
)

// FunctionMetadata resolves the messaging behavior of functions outside the
// library: MayConflict when the body transitively contains a conflicting
// call, WillSync when it transitively synchronizes, IsUnknown when neither
// can be decided. Verdicts are disjoint and stable for the whole analysis.
type FunctionMetadata interface {
	MayConflict(f *ir.Func) bool
	WillSync(f *ir.Func) bool
	IsUnknown(f *ir.Func) bool
}

// AssumptionError reports a violated analyzer invariant. Unlike a
// conservativeness warning it aborts the analysis of the module.
type AssumptionError struct {
	Reason string
}

func (e *AssumptionError) Error() string {
	return "analyzer assumption violated: " + e.Reason
}

// ConflictPair couples an originating call with a counterpart that may
// overtake it (or be overtaken by it) under relaxed message ordering.
type ConflictPair struct {
	Origin      preprocessor.InstRef
	Counterpart preprocessor.InstRef
}

// Origin is one originating call selected by the driver: the call site, the
// set of call sites closing its asynchronous scope (empty when the scope is
// closed at the call itself), and the polarity of the run.
type Origin struct {
	Call         preprocessor.InstRef
	ScopeEndings []preprocessor.InstRef
	Sending      bool
}

// ConflictPass carries the per-module state shared by all origin runs. All of
// it is read-only during exploration; the worklist and result sets are owned
// by each Run call.
type ConflictPass struct {
	index    *preprocessor.Index
	table    *mpi.FuncTable
	metadata FunctionMetadata
	log      *logrus.Logger
}

func NewConflictPass(index *preprocessor.Index, table *mpi.FuncTable, metadata FunctionMetadata, logger *logrus.Logger) *ConflictPass {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ConflictPass{
		index:    index,
		table:    table,
		metadata: metadata,
		log:      logger,
	}
}

// frontier is one pending continuation: the next instruction to visit and the
// path state carried to it. The trailing-barrier scope-end set belongs to the
// path state too; slices cannot be map keys, so it travels as the worklist
// map value instead of a frontier field.
type frontier struct {
	ref        preprocessor.InstRef
	scopeEnded bool
	inIbarrier bool
}

// Run explores every feasible continuation of origin and returns the
// conflict pairs that survive the disjointness proof, joined with the direct
// conflicts recorded against non-library calls.
//
// The worklist key is (instruction, scopeEnded, inIbarrier) while the visited
// set is keyed on the basic block alone. Revisiting a block under a different
// state could in principle uncover more conflicts; block-level dedup is kept
// for termination. The cost is a possible false negative at a join point
// whose predecessors disagree on scopeEnded, which is rare in practice.
func (p *ConflictPass) Run(origin Origin) ([]ConflictPair, error) {
	var conflicts []ConflictPair
	potential := make(map[preprocessor.InstRef]bool)
	entered := make(map[*ir.Block]bool)
	worklist := make(map[frontier][]preprocessor.InstRef)

	originCall := origin.Call.Call()
	scopeEnded := len(origin.ScopeEndings) == 0
	inIbarrier := false
	var ibarrierEnds []preprocessor.InstRef

	// The origin's own block is not marked: a loop that leads back to it must
	// re-walk it so that the self-conflict rule can fire.
	cur, ok := origin.Call.Next()
	for ok {
		stopped := false

		if call := cur.Call(); call != nil {
			switch p.table.Classify(call) {
			case mpi.ClassSync:
				// A sync point met before the scope has ended cannot stop
				// overtaking of the origin, so it is ignored until then.
				if scopeEnded {
					switch mpi.Callee(call) {
					case p.table.Ibarrier, p.table.Iallreduce:
						if inIbarrier {
							p.log.Warnf("%s: interleaved non-blocking barriers; the result stays sound but false positives are more likely", cur)
							break
						}
						same, err := p.sameCommunicator(originCall, call)
						if err != nil {
							return nil, err
						}
						if !same {
							// Not provably the origin's communicator: the
							// barrier is treated as absent.
							break
						}
						if len(ibarrierEnds) != 0 {
							p.log.Warnf("%s: too many non-blocking barrier scope ends; the result stays sound but false positives are more likely", cur)
							break
						}
						ends, err := p.CorrespondingWait(cur)
						if err != nil {
							return nil, err
						}
						inIbarrier = true
						ibarrierEnds = ends
					case p.table.Barrier, p.table.Allreduce:
						same, err := p.sameCommunicator(originCall, call)
						if err != nil {
							return nil, err
						}
						if same {
							p.log.Debugf("%s: sync point, no overtaking possible beyond it", cur)
							stopped = true
						}
					case p.table.Finalize:
						p.log.Debugf("%s: no messaging beyond finalize", cur)
						stopped = true
					}
				}
			case mpi.ClassConflicting:
				potential[cur] = true
			case mpi.ClassScopeEnder, mpi.ClassIrrelevant:
				if inIbarrier && containsRef(ibarrierEnds, cur) {
					p.log.Debugf("%s: non-blocking barrier completed, no overtaking possible beyond it", cur)
					stopped = true
				}
				if !scopeEnded && containsRef(origin.ScopeEndings, cur) {
					scopeEnded = true
				}
			case mpi.ClassNonLibrary:
				callee := mpi.Callee(call)
				if callee == nil {
					p.log.Warnf("%s: indirect call, assuming it may conflict", cur)
					conflicts = append(conflicts, ConflictPair{Origin: origin.Call, Counterpart: cur})
					break
				}
				switch {
				case p.metadata.MayConflict(callee):
					p.log.Debugf("call to %s may conflict", callee.Name())
					conflicts = append(conflicts, ConflictPair{Origin: origin.Call, Counterpart: cur})
				case p.metadata.WillSync(callee):
					p.log.Debugf("call to %s will sync, no overtaking possible beyond it", callee.Name())
					stopped = true
				case p.metadata.IsUnknown(callee):
					p.log.Warnf("could not determine whether a call to %s results in a conflict, assuming it does", callee.Name())
					conflicts = append(conflicts, ConflictPair{Origin: origin.Call, Counterpart: cur})
				}
				if err := checkVerdicts(p.metadata, callee); err != nil {
					return nil, err
				}
			}
		}

		if !stopped {
			if term := cur.Term(); term != nil {
				for _, succ := range term.Succs() {
					if entered[succ] {
						continue
					}
					entered[succ] = true
					worklist[frontier{
						ref:        preprocessor.FirstNonPhi(cur.Fn, succ),
						scopeEnded: scopeEnded,
						inIbarrier: inIbarrier,
					}] = ibarrierEnds
				}
				if _, isRet := term.(*ir.TermRet); isRet {
					// Interprocedural return: the continuation after every
					// direct call site of the returning function is feasible.
					for _, site := range p.index.CallerSitesOf(cur.Fn) {
						after, ok := site.Next()
						if !ok || entered[after.Block] {
							continue
						}
						entered[after.Block] = true
						worklist[frontier{
							ref:        after,
							scopeEnded: scopeEnded,
							inIbarrier: inIbarrier,
						}] = ibarrierEnds
					}
				}
			}
		}

		if stopped {
			ok = false
		} else {
			cur, ok = cur.Next()
		}
		if !ok {
			for f, ends := range worklist {
				delete(worklist, f)
				cur, ok = f.ref, true
				scopeEnded, inIbarrier = f.scopeEnded, f.inIbarrier
				ibarrierEnds = ends
				break
			}
		}
	}

	for ref := range potential {
		conflicting, err := p.AreCallsConflicting(origin.Call, ref, origin.Sending)
		if err != nil {
			return nil, err
		}
		if conflicting {
			conflicts = append(conflicts, ConflictPair{Origin: origin.Call, Counterpart: ref})
		}
	}
	return conflicts, nil
}

func (p *ConflictPass) sameCommunicator(a, b *ir.InstCall) (bool, error) {
	comm1, err := p.table.Communicator(a)
	if err != nil {
		return false, err
	}
	comm2, err := p.table.Communicator(b)
	if err != nil {
		return false, err
	}
	return sameValue(comm1, comm2), nil
}

// checkVerdicts guards the oracle contract: at most one verdict per function.
func checkVerdicts(md FunctionMetadata, f *ir.Func) error {
	n := 0
	if md.MayConflict(f) {
		n++
	}
	if md.WillSync(f) {
		n++
	}
	if md.IsUnknown(f) {
		n++
	}
	if n > 1 {
		return &AssumptionError{Reason: "metadata verdicts for " + f.Name() + " are not disjoint"}
	}
	return nil
}

func containsRef(refs []preprocessor.InstRef, ref preprocessor.InstRef) bool {
	for _, r := range refs {
		if r == ref {
			return true
		}
	}
	return false
}
