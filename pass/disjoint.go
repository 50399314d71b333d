package pass

import (
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
	"github.com/o2lab/mpirace/mpi"
	"github.com/o2lab/mpirace/preprocessor"
)

// AreCallsConflicting decides whether origin and other must be assumed to
// race on the same (communicator, peer, tag) triple. The rules are applied
// in order, any single one suffices:
//
//  1. a send against a pure receive is a match, not a conflict
//  2. the same call site conflicts with itself (a loop)
//  3. provably different communicators are disjoint
//  4. provably different peer ranks are disjoint
//  5. provably different tags are disjoint
//
// Anything that survives all five is assumed to rely on message ordering.
func (p *ConflictPass) AreCallsConflicting(origin, other preprocessor.InstRef, sending bool) (bool, error) {
	origCall := origin.Call()
	otherCall := other.Call()
	otherFn := mpi.Callee(otherCall)

	p.log.Debugf("potential conflict: %s <> %s", origin, other)

	// The combined send-receive counts as both polarities, so it falls
	// through to the operand proof, compared on the origin's side.
	if sending && p.table.IsRecvFunction(otherFn) && !p.table.IsSendFunction(otherFn) {
		return false, nil
	}
	if !sending && p.table.IsSendFunction(otherFn) && !p.table.IsRecvFunction(otherFn) {
		return false, nil
	}

	if origin == other {
		p.log.Warnf("%s: conflicting with itself, probably in a loop; using a different message tag on each iteration makes this safe nonetheless", origin)
		return true, nil
	}

	comm1, err := p.table.Communicator(origCall)
	if err != nil {
		return false, err
	}
	comm2, err := p.table.Communicator(otherCall)
	if err != nil {
		return false, err
	}
	diff, err := provablyDifferent(comm1, comm2)
	if err != nil || diff {
		return false, err
	}

	peer1, err := p.table.Peer(origCall, sending)
	if err != nil {
		return false, err
	}
	peer2, err := p.table.Peer(otherCall, sending)
	if err != nil {
		return false, err
	}
	diff, err = provablyDifferent(peer1, peer2)
	if err != nil || diff {
		return false, err
	}

	tag1, err := p.table.Tag(origCall, sending)
	if err != nil {
		return false, err
	}
	tag2, err := p.table.Tag(otherCall, sending)
	if err != nil {
		return false, err
	}
	diff, err = provablyDifferent(tag1, tag2)
	if err != nil || diff {
		return false, err
	}

	// Cannot disprove the conflict; it has to be assumed to rely on ordering.
	return true, nil
}

// provablyDifferent reports whether the two operands are certainly distinct:
// both constants and not the same constant. Non-constant operands may always
// be equal at run time.
func provablyDifferent(a, b value.Value) (bool, error) {
	if !types.Equal(a.Type(), b.Type()) {
		// Comparing a communicator to a tag (or similar) is a caller bug.
		return false, &AssumptionError{Reason: "comparing values of different types"}
	}
	ca, ok1 := a.(constant.Constant)
	cb, ok2 := b.(constant.Constant)
	if ok1 && ok2 && !sameValue(ca, cb) {
		return true, nil
	}
	return false, nil
}

// sameValue is the identity LLVM gives interned constants: pointer identity,
// or two spellings of one constant.
func sameValue(a, b value.Value) bool {
	if a == b {
		return true
	}
	ca, ok1 := a.(constant.Constant)
	cb, ok2 := b.(constant.Constant)
	return ok1 && ok2 && types.Equal(a.Type(), b.Type()) && ca.Ident() == cb.Ident()
}
