package pass

import (
	"testing"

	"github.com/llir/llvm/asm"
	"github.com/llir/llvm/ir"
	"github.com/o2lab/mpirace/mpi"
	"github.com/o2lab/mpirace/preprocessor"
	"github.com/o2lab/mpirace/summary"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

const declares = `
declare i32 @MPI_Init(i8*, i8*)
declare i32 @MPI_Finalize()
declare i32 @MPI_Send(i8*, i32, i32, i32, i32, i32)
declare i32 @MPI_Bsend(i8*, i32, i32, i32, i32, i32)
declare i32 @MPI_Isend(i8*, i32, i32, i32, i32, i32, i8*)
declare i32 @MPI_Recv(i8*, i32, i32, i32, i32, i32, i8*)
declare i32 @MPI_Irecv(i8*, i32, i32, i32, i32, i32, i8*)
declare i32 @MPI_Sendrecv(i8*, i32, i32, i32, i32, i8*, i32, i32, i32, i32, i32, i8*)
declare i32 @MPI_Barrier(i32)
declare i32 @MPI_Ibarrier(i32, i8*)
declare i32 @MPI_Wait(i8*, i8*)
declare i32 @MPI_Buffer_detach(i8*, i32*)
`

type passFixture struct {
	mod   *ir.Module
	table *mpi.FuncTable
	index *preprocessor.Index
	pass  *ConflictPass
	hook  *test.Hook
}

func newPassFixture(t *testing.T, src string) *passFixture {
	t.Helper()
	mod, err := asm.ParseString("test.ll", declares+src)
	if err != nil {
		t.Fatalf("parsing test module: %s", err)
	}
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	table := mpi.BuildFuncTable(mod)
	index := preprocessor.NewIndex(mod)
	md := summary.Build(mod, table, nil, logger)
	return &passFixture{
		mod:   mod,
		table: table,
		index: index,
		pass:  NewConflictPass(index, table, md, logger),
		hook:  hook,
	}
}

func (f *passFixture) site(t *testing.T, fn *ir.Func, n int) preprocessor.InstRef {
	t.Helper()
	sites := f.index.CallSitesOf(fn)
	if n >= len(sites) {
		t.Fatalf("want call site %d of %s, module has %d", n, fn.Name(), len(sites))
	}
	return sites[n]
}

func (f *passFixture) warned(substr string) bool {
	for _, e := range f.hook.AllEntries() {
		if e.Level <= logrus.WarnLevel && contains(e.Message, substr) {
			return true
		}
	}
	return false
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
