// Package mpi locates the MPI entry points of a module and classifies calls
// to them for the message-order relaxation analysis.
package mpi

import (
	"strings"

	"github.com/llir/llvm/ir"
)

// DefaultPrefix marks a callee as belonging to the messaging library even
// when it is not one of the entry points the table knows.
const DefaultPrefix = "MPI"

// FuncTable binds the MPI entry points present in one module. An entry is nil
// when the module never declares it. The table is built once per module and
// never mutated afterwards.
type FuncTable struct {
	Init     *ir.Func
	Finalize *ir.Func

	Send  *ir.Func
	Bsend *ir.Func
	Ssend *ir.Func
	Rsend *ir.Func

	Isend  *ir.Func
	Ibsend *ir.Func
	Issend *ir.Func
	Irsend *ir.Func

	Recv     *ir.Func
	Irecv    *ir.Func
	Sendrecv *ir.Func

	Barrier    *ir.Func
	Ibarrier   *ir.Func
	Allreduce  *ir.Func
	Iallreduce *ir.Func

	Wait         *ir.Func
	BufferDetach *ir.Func

	prefix string

	syncFns        map[*ir.Func]bool
	conflictingFns map[*ir.Func]bool
	scopeEnderFns  map[*ir.Func]bool
}

// Class is the verdict of Classify for one call site.
type Class int

const (
	// ClassNonLibrary marks a call outside the messaging library; the
	// explorer resolves it through the function metadata oracle.
	ClassNonLibrary Class = iota
	// ClassSync marks a synchronizing call (barrier, non-blocking barrier,
	// all-reduce, non-blocking all-reduce, finalize).
	ClassSync
	// ClassConflicting marks a send or receive of any flavor.
	ClassConflicting
	// ClassScopeEnder marks wait and buffer-detach.
	ClassScopeEnder
	// ClassIrrelevant marks any other library call.
	ClassIrrelevant
)

// BuildFuncTable scans the functions of mod and binds the entry points by
// exact symbol name. Substring matching is deliberately avoided: it would
// bind MPI_Initialized where MPI_Init is wanted.
func BuildFuncTable(mod *ir.Module) *FuncTable {
	t := &FuncTable{prefix: DefaultPrefix}
	for _, f := range mod.Funcs {
		switch f.Name() {
		case "MPI_Init":
			t.Init = f
		case "MPI_Finalize":
			t.Finalize = f
		case "MPI_Send":
			t.Send = f
		case "MPI_Bsend":
			t.Bsend = f
		case "MPI_Ssend":
			t.Ssend = f
		case "MPI_Rsend":
			t.Rsend = f
		case "MPI_Isend":
			t.Isend = f
		case "MPI_Ibsend":
			t.Ibsend = f
		case "MPI_Issend":
			t.Issend = f
		case "MPI_Irsend":
			t.Irsend = f
		case "MPI_Recv":
			t.Recv = f
		case "MPI_Irecv":
			t.Irecv = f
		case "MPI_Sendrecv":
			t.Sendrecv = f
		case "MPI_Barrier":
			t.Barrier = f
		case "MPI_Ibarrier":
			t.Ibarrier = f
		case "MPI_Allreduce":
			t.Allreduce = f
		case "MPI_Iallreduce":
			t.Iallreduce = f
		case "MPI_Wait":
			t.Wait = f
		case "MPI_Buffer_detach":
			t.BufferDetach = f
		}
	}

	t.syncFns = memberSet(t.Barrier, t.Ibarrier, t.Allreduce, t.Iallreduce, t.Finalize)
	t.conflictingFns = memberSet(
		t.Send, t.Bsend, t.Ssend, t.Rsend,
		t.Isend, t.Ibsend, t.Issend, t.Irsend,
		t.Recv, t.Irecv, t.Sendrecv)
	t.scopeEnderFns = memberSet(t.Wait, t.BufferDetach)
	return t
}

func memberSet(fns ...*ir.Func) map[*ir.Func]bool {
	set := make(map[*ir.Func]bool)
	for _, f := range fns {
		if f != nil {
			set[f] = true
		}
	}
	return set
}

// Used reports whether the module declares any of the entry points the table
// binds. Other library functions alone do not count.
func (t *FuncTable) Used() bool {
	return t.Init != nil || t.Finalize != nil ||
		len(t.conflictingFns) > 0 || len(t.syncFns) > 0 || len(t.scopeEnderFns) > 0
}

// Callee resolves the direct callee of call, nil for indirect call sites.
func Callee(call *ir.InstCall) *ir.Func {
	f, _ := call.Callee.(*ir.Func)
	return f
}

// IsMPICall reports whether the call site targets the messaging library,
// known entry point or not.
func (t *FuncTable) IsMPICall(call *ir.InstCall) bool {
	f := Callee(call)
	return f != nil && strings.Contains(f.Name(), t.prefix)
}

// Classify places a call site into one of the disjoint call classes. Calls
// that fail IsMPICall come back as ClassNonLibrary; unknown library functions
// come back as ClassIrrelevant, which is the conservative answer (neither a
// sync nor a conflict).
func (t *FuncTable) Classify(call *ir.InstCall) Class {
	if !t.IsMPICall(call) {
		return ClassNonLibrary
	}
	f := Callee(call)
	switch {
	case t.syncFns[f]:
		return ClassSync
	case t.conflictingFns[f]:
		return ClassConflicting
	case t.scopeEnderFns[f]:
		return ClassScopeEnder
	default:
		return ClassIrrelevant
	}
}

// IsSendFunction reports whether f carries a send half.
func (t *FuncTable) IsSendFunction(f *ir.Func) bool {
	if f == nil {
		return false
	}
	switch f {
	case t.Send, t.Bsend, t.Ssend, t.Rsend, t.Isend, t.Ibsend, t.Issend, t.Irsend, t.Sendrecv:
		return true
	}
	return false
}

// IsRecvFunction reports whether f carries a receive half.
func (t *FuncTable) IsRecvFunction(f *ir.Func) bool {
	if f == nil {
		return false
	}
	switch f {
	case t.Recv, t.Irecv, t.Sendrecv:
		return true
	}
	return false
}
