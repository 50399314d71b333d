package analyzer

import (
	"bytes"
	"fmt"
	"io/ioutil"

	"github.com/logrusorgru/aurora"
	"github.com/o2lab/mpirace/mpi"
	"github.com/o2lab/mpirace/pass"
	"github.com/o2lab/mpirace/preprocessor"
	"github.com/yuin/goldmark"
)

// ReportConflicts prints every conflict pair to the diagnostic sink. With no
// pairs it prints the hint that the relaxed ordering mode is safe to enable.
func (a *Analyzer) ReportConflicts(pairs []pass.ConflictPair) {
	if len(pairs) == 0 {
		a.cfg.Log.Info("No conflicts detected, try to use mpi_assert_allow_overtaking for better performance")
		return
	}
	a.cfg.Log.Error("Message race conflicts detected")
	for _, pair := range pairs {
		a.cfg.Log.Println("========== MESSAGE RACE ==========")
		a.cfg.Log.Printf("  %s", a.describe(pair.Origin))
		a.cfg.Log.Printf("  may be overtaken by")
		a.cfg.Log.Printf("  %s", a.describe(pair.Counterpart))
		a.cfg.Log.Println("==================================")
	}
	a.cfg.Log.Errorf("Found %d conflict pair(s)", len(pairs))
}

func (a *Analyzer) describe(ref preprocessor.InstRef) string {
	name := "call"
	if call := ref.Call(); call != nil {
		if f := mpi.Callee(call); f != nil {
			name = f.Name()
		}
	}
	return fmt.Sprint(aurora.Magenta(name), " in function ", aurora.BrightGreen(ref.Fn.Name()), " at block ", ref.Block.Ident())
}

// WriteReport renders the conflict pairs as a markdown document, or as HTML
// when html is set, and writes it to path.
func (a *Analyzer) WriteReport(pairs []pass.ConflictPair, path string, html bool) error {
	var md bytes.Buffer
	name := a.mod.SourceFilename
	if name == "" {
		name = "module"
	}
	fmt.Fprintf(&md, "# Message order relaxation report for %s\n\n", name)
	if len(pairs) == 0 {
		fmt.Fprintf(&md, "No conflicts detected. The module is safe under relaxed message ordering.\n")
	} else {
		fmt.Fprintf(&md, "Found %d conflict pair(s). Message ordering must not be relaxed.\n\n", len(pairs))
		for i, pair := range pairs {
			fmt.Fprintf(&md, "%d. `%s` may be overtaken by `%s`\n", i+1, pair.Origin, pair.Counterpart)
		}
	}

	out := md.Bytes()
	if html {
		var buf bytes.Buffer
		if err := goldmark.Convert(md.Bytes(), &buf); err != nil {
			return err
		}
		out = buf.Bytes()
	}
	return ioutil.WriteFile(path, out, 0644)
}
