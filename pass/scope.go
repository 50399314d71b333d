package pass

import (
	"github.com/llir/llvm/ir"
	"github.com/o2lab/mpirace/mpi"
	"github.com/o2lab/mpirace/preprocessor"
)

// ScopeEndings enumerates the call sites that close the asynchronous scope of
// call: the matching waits of a non-blocking call, every buffer detach for a
// buffered send, and nothing for calls whose scope is already closed when
// they return.
func (p *ConflictPass) ScopeEndings(call preprocessor.InstRef) ([]preprocessor.InstRef, error) {
	switch mpi.Callee(call.Call()) {
	case nil:
		return nil, nil
	case p.table.Irecv, p.table.Isend, p.table.Iallreduce, p.table.Ibarrier, p.table.Issend, p.table.Irsend:
		return p.CorrespondingWait(call)
	case p.table.Bsend, p.table.Ibsend:
		return p.index.CallSitesOf(p.table.BufferDetach), nil
	default:
		return nil, nil
	}
}

// CorrespondingWait resolves the request operand of a non-blocking call to
// the wait calls that complete it. A request that is not a direct stack
// allocation (an element of a request array, or anything reached through
// pointer arithmetic) cannot be followed; the scope is then conservatively
// extended to every finalize call site.
func (p *ConflictPass) CorrespondingWait(call preprocessor.InstRef) ([]preprocessor.InstRef, error) {
	req, err := p.table.Request(call.Call())
	if err != nil {
		return nil, err
	}
	if _, ok := req.(*ir.InstAlloca); ok {
		var result []preprocessor.InstRef
		if p.table.Wait != nil {
			for _, user := range p.index.UsersOf(req) {
				if mpi.Callee(user.Call()) != p.table.Wait {
					continue
				}
				if len(user.Call().Args) != 2 || user.Call().Args[0] != req {
					return nil, &AssumptionError{Reason: "first operand of MPI_Wait is not the request"}
				}
				result = append(result, user)
			}
		}
		return result, nil
	}
	p.log.Warnf("could not determine the scope of %s, assuming it ends at finalize; the result stays valid but false positives are more likely", call)
	return p.index.CallSitesOf(p.table.Finalize), nil
}
