// Package analyzer drives the message-order relaxation analysis over one
// module: it selects every originating call, resolves its asynchronous
// scope, runs the conflict pass and aggregates the reported pairs.
package analyzer

import (
	"github.com/llir/llvm/ir"
	"github.com/o2lab/mpirace/mpi"
	"github.com/o2lab/mpirace/pass"
	"github.com/o2lab/mpirace/preprocessor"
	"github.com/o2lab/mpirace/summary"
	"github.com/sirupsen/logrus"
)

// Config collects the collaborators of one analysis run. Zero fields are
// filled with defaults by NewAnalyzer: a table discovered from the module, a
// metadata oracle built by the summary package, the standard logger.
type Config struct {
	Table    *mpi.FuncTable
	Metadata pass.FunctionMetadata
	Log      *logrus.Logger
}

// Analyzer owns the per-module state: the read-only IR, its index and the
// conflict pass. One Analyzer analyzes one module.
type Analyzer struct {
	mod   *ir.Module
	index *preprocessor.Index
	cfg   Config
	pass  *pass.ConflictPass
}

func NewAnalyzer(mod *ir.Module, cfg Config) *Analyzer {
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}
	if cfg.Table == nil {
		cfg.Table = mpi.BuildFuncTable(mod)
	}
	if cfg.Metadata == nil {
		cfg.Metadata = summary.Build(mod, cfg.Table, nil, cfg.Log)
	}
	index := preprocessor.NewIndex(mod)
	return &Analyzer{
		mod:   mod,
		index: index,
		cfg:   cfg,
		pass:  pass.NewConflictPass(index, cfg.Table, cfg.Metadata, cfg.Log),
	}
}

// Run walks every kind of originating call and returns the accumulated
// conflict pairs. Duplicates across originating calls are possible and kept;
// an empty result means no relaxed-order hazard was detected under the
// analyzer's assumptions.
func (a *Analyzer) Run() ([]pass.ConflictPair, error) {
	t := a.cfg.Table
	if !t.Used() {
		a.cfg.Log.Debug("module does not use the messaging library, nothing to do")
		return nil, nil
	}

	for _, f := range []*ir.Func{t.Ibsend, t.Issend, t.Irsend} {
		if len(a.index.CallSitesOf(f)) > 0 {
			a.cfg.Log.Errorf("the analysis does not cover %s; replace it with another send mode such as MPI_Isend", f.Name())
			return nil, nil
		}
	}

	sweeps := []struct {
		fn      *ir.Func
		sending bool
	}{
		{t.Send, true},
		{t.Bsend, true},
		{t.Isend, true},
		// The combined send-receive is analyzed twice, once per polarity.
		{t.Sendrecv, true},
		{t.Sendrecv, false},
		{t.Recv, false},
		{t.Irecv, false},
		// MPI_Ssend and MPI_Rsend are never origins: once they return, the
		// matching receive has started, so no later send can overtake them.
		// A synchronous send overtaking another send is caught when the
		// overtaking send is itself the origin.
	}

	// Results from the originating calls are independent: a fatal error on
	// one leaves the pairs already reported by the others valid.
	var result []pass.ConflictPair
	for _, sweep := range sweeps {
		pairs, err := a.checkConflicts(sweep.fn, sweep.sending)
		result = append(result, pairs...)
		if err != nil {
			return result, err
		}
	}
	return result, nil
}

// checkConflicts runs the conflict pass once per call site of f. A nil f
// (the entry point is absent from the module) means no messages of that
// kind, hence no conflicts.
func (a *Analyzer) checkConflicts(f *ir.Func, sending bool) ([]pass.ConflictPair, error) {
	if f == nil {
		return nil, nil
	}
	var result []pass.ConflictPair
	for _, call := range a.index.CallSitesOf(f) {
		endings, err := a.pass.ScopeEndings(call)
		if err != nil {
			return result, err
		}
		pairs, err := a.pass.Run(pass.Origin{Call: call, ScopeEndings: endings, Sending: sending})
		result = append(result, pairs...)
		if err != nil {
			return result, err
		}
	}
	return result, nil
}
