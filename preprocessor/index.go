package preprocessor

import (
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/value"
)

// InstRef pins an instruction to its position inside a function body.
// Index == len(Block.Insts) addresses the block terminator, so a linear walk
// over a block visits every ordinary instruction and then its terminator,
// the same order LLVM lays them out.
type InstRef struct {
	Fn    *ir.Func
	Block *ir.Block
	Index int
}

// IsTerm reports whether the reference addresses the block terminator.
func (r InstRef) IsTerm() bool {
	return r.Index == len(r.Block.Insts)
}

// Inst returns the ordinary instruction at this position, or nil when the
// reference addresses the terminator.
func (r InstRef) Inst() ir.Instruction {
	if r.IsTerm() {
		return nil
	}
	return r.Block.Insts[r.Index]
}

// Term returns the terminator addressed by this reference, or nil.
func (r InstRef) Term() ir.Terminator {
	if !r.IsTerm() {
		return nil
	}
	return r.Block.Term
}

// Call returns the call instruction at this position, or nil if the position
// holds anything else.
func (r InstRef) Call() *ir.InstCall {
	call, _ := r.Inst().(*ir.InstCall)
	return call
}

// Next returns the linear successor within the block. The terminator has no
// linear successor; control continues only through its successor blocks.
func (r InstRef) Next() (InstRef, bool) {
	if r.IsTerm() {
		return InstRef{}, false
	}
	return InstRef{Fn: r.Fn, Block: r.Block, Index: r.Index + 1}, true
}

func (r InstRef) String() string {
	if r.IsTerm() {
		return fmt.Sprintf("%s %s: %s", r.Fn.Ident(), r.Block.Ident(), r.Block.Term.LLString())
	}
	return fmt.Sprintf("%s %s: %s", r.Fn.Ident(), r.Block.Ident(), r.Block.Insts[r.Index].LLString())
}

// Index is the per-module lookup structure the passes run against. llir keeps
// neither use-lists nor parent/next links, so the index restores both: call
// sites grouped by direct callee, and call sites grouped by argument operand.
type Index struct {
	Mod       *ir.Module
	callSites map[*ir.Func][]InstRef
	argUsers  map[value.Value][]InstRef
}

// NewIndex scans every function body of mod once.
func NewIndex(mod *ir.Module) *Index {
	idx := &Index{
		Mod:       mod,
		callSites: make(map[*ir.Func][]InstRef),
		argUsers:  make(map[value.Value][]InstRef),
	}
	for _, fn := range mod.Funcs {
		for _, block := range fn.Blocks {
			for i, inst := range block.Insts {
				call, ok := inst.(*ir.InstCall)
				if !ok {
					continue
				}
				ref := InstRef{Fn: fn, Block: block, Index: i}
				if callee, ok := call.Callee.(*ir.Func); ok {
					idx.callSites[callee] = append(idx.callSites[callee], ref)
				}
				for _, arg := range call.Args {
					idx.argUsers[arg] = append(idx.argUsers[arg], ref)
				}
			}
		}
	}
	return idx
}

// CallSitesOf returns every direct call site of f in the module. A nil f
// (an unresolved library entry) has no call sites.
func (idx *Index) CallSitesOf(f *ir.Func) []InstRef {
	if f == nil {
		return nil
	}
	return idx.callSites[f]
}

// CallerSitesOf returns the call sites a return from f resumes after: every
// direct call site of f. It is CallSitesOf seen from the callee's side and
// shares its index.
func (idx *Index) CallerSitesOf(f *ir.Func) []InstRef {
	return idx.CallSitesOf(f)
}

// UsersOf returns the call sites that take v as an argument operand.
func (idx *Index) UsersOf(v value.Value) []InstRef {
	return idx.argUsers[v]
}

// FirstNonPhi returns the first instruction of b past its phi nodes. A block
// holding only phis resolves to its terminator.
func FirstNonPhi(fn *ir.Func, b *ir.Block) InstRef {
	for i, inst := range b.Insts {
		if _, ok := inst.(*ir.InstPhi); ok {
			continue
		}
		return InstRef{Fn: fn, Block: b, Index: i}
	}
	return InstRef{Fn: fn, Block: b, Index: len(b.Insts)}
}
