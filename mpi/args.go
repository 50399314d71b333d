package mpi

import (
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/value"
)

// UnsupportedCallError is returned when a library call site does not match
// any signature known to the extractor. The IR is malformed relative to the
// table, so callers treat this as fatal.
type UnsupportedCallError struct {
	Name    string
	NumArgs int
}

func (e *UnsupportedCallError) Error() string {
	return fmt.Sprintf("%s with %d operands: this MPI function is currently not supported", e.Name, e.NumArgs)
}

// Operand positions per entry-point class, fixed by the MPI signatures.
const (
	sendArity     = 6 // buf, count, datatype, dest, tag, comm
	isendArity    = 7 // buf, count, datatype, dest, tag, comm, request
	recvArity     = 7 // buf, count, datatype, source, tag, comm, status
	irecvArity    = 7 // buf, count, datatype, source, tag, comm, request
	sendrecvArity = 12

	barrierArity    = 1
	ibarrierArity   = 2
	allreduceArity  = 6 // sendbuf, recvbuf, count, datatype, op, comm
	iallreduceArity = 7
)

func (t *FuncTable) checkArity(call *ir.InstCall, want int) error {
	if len(call.Args) != want {
		return &UnsupportedCallError{Name: calleeName(call), NumArgs: len(call.Args)}
	}
	return nil
}

// Communicator extracts the communicator operand of a classified library
// call. Blocking sends and receives, MPI_Isend, MPI_Irecv, the combined
// send-receive and all barrier/reduce flavors are supported; the non-blocking
// buffered, synchronous and ready sends are not.
func (t *FuncTable) Communicator(call *ir.InstCall) (value.Value, error) {
	if Callee(call) == nil {
		return nil, &UnsupportedCallError{Name: calleeName(call), NumArgs: len(call.Args)}
	}
	var arity, pos int
	switch Callee(call) {
	case t.Send, t.Bsend, t.Ssend, t.Rsend:
		arity, pos = sendArity, 5
	case t.Isend:
		arity, pos = isendArity, 5
	case t.Recv:
		arity, pos = recvArity, 5
	case t.Irecv:
		arity, pos = irecvArity, 5
	case t.Sendrecv:
		arity, pos = sendrecvArity, 10
	case t.Barrier:
		arity, pos = barrierArity, 0
	case t.Ibarrier:
		arity, pos = ibarrierArity, 0
	case t.Allreduce:
		arity, pos = allreduceArity, 5
	case t.Iallreduce:
		arity, pos = iallreduceArity, 5
	default:
		return nil, &UnsupportedCallError{Name: calleeName(call), NumArgs: len(call.Args)}
	}
	if err := t.checkArity(call, arity); err != nil {
		return nil, err
	}
	return call.Args[pos], nil
}

// Peer extracts the peer-rank operand (destination of a send, source of a
// receive). The combined send-receive has distinct positions per side, so the
// caller states which half it is asking about.
func (t *FuncTable) Peer(call *ir.InstCall, sending bool) (value.Value, error) {
	if Callee(call) == nil {
		return nil, &UnsupportedCallError{Name: calleeName(call), NumArgs: len(call.Args)}
	}
	var arity, pos int
	switch Callee(call) {
	case t.Send, t.Bsend, t.Ssend, t.Rsend:
		if err := t.wantPolarity(call, sending, true); err != nil {
			return nil, err
		}
		arity, pos = sendArity, 3
	case t.Isend:
		if err := t.wantPolarity(call, sending, true); err != nil {
			return nil, err
		}
		arity, pos = isendArity, 3
	case t.Recv, t.Irecv:
		if err := t.wantPolarity(call, sending, false); err != nil {
			return nil, err
		}
		arity, pos = recvArity, 3
	case t.Sendrecv:
		arity = sendrecvArity
		if sending {
			pos = 3
		} else {
			pos = 8
		}
	default:
		return nil, &UnsupportedCallError{Name: calleeName(call), NumArgs: len(call.Args)}
	}
	if err := t.checkArity(call, arity); err != nil {
		return nil, err
	}
	return call.Args[pos], nil
}

// Tag extracts the message-tag operand, polarity-aware for the combined
// send-receive (send tag at 4, receive tag at 9).
func (t *FuncTable) Tag(call *ir.InstCall, sending bool) (value.Value, error) {
	if Callee(call) == nil {
		return nil, &UnsupportedCallError{Name: calleeName(call), NumArgs: len(call.Args)}
	}
	var arity, pos int
	switch Callee(call) {
	case t.Send, t.Bsend, t.Ssend, t.Rsend:
		if err := t.wantPolarity(call, sending, true); err != nil {
			return nil, err
		}
		arity, pos = sendArity, 4
	case t.Isend:
		if err := t.wantPolarity(call, sending, true); err != nil {
			return nil, err
		}
		arity, pos = isendArity, 4
	case t.Recv, t.Irecv:
		if err := t.wantPolarity(call, sending, false); err != nil {
			return nil, err
		}
		arity, pos = recvArity, 4
	case t.Sendrecv:
		arity = sendrecvArity
		if sending {
			pos = 4
		} else {
			pos = 9
		}
	default:
		return nil, &UnsupportedCallError{Name: calleeName(call), NumArgs: len(call.Args)}
	}
	if err := t.checkArity(call, arity); err != nil {
		return nil, err
	}
	return call.Args[pos], nil
}

// Request extracts the request operand of a non-blocking call: the last
// operand, except for the non-blocking barrier where it is the second.
func (t *FuncTable) Request(call *ir.InstCall) (value.Value, error) {
	if Callee(call) == nil {
		return nil, &UnsupportedCallError{Name: calleeName(call), NumArgs: len(call.Args)}
	}
	var arity, pos int
	switch Callee(call) {
	case t.Isend, t.Ibsend, t.Issend, t.Irsend:
		arity, pos = isendArity, 6
	case t.Irecv:
		arity, pos = irecvArity, 6
	case t.Iallreduce:
		arity, pos = iallreduceArity, 6
	case t.Ibarrier:
		arity, pos = ibarrierArity, 1
	default:
		return nil, &UnsupportedCallError{Name: calleeName(call), NumArgs: len(call.Args)}
	}
	if err := t.checkArity(call, arity); err != nil {
		return nil, err
	}
	return call.Args[pos], nil
}

func (t *FuncTable) wantPolarity(call *ir.InstCall, got, want bool) error {
	if got != want {
		return fmt.Errorf("%s asked with the wrong polarity", calleeName(call))
	}
	return nil
}

func calleeName(call *ir.InstCall) string {
	if f := Callee(call); f != nil {
		return f.Name()
	}
	return call.Callee.Ident()
}
