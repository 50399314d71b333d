package main

import (
	"flag"

	"github.com/llir/llvm/asm"
	"github.com/o2lab/mpirace/analyzer"
	"github.com/o2lab/mpirace/config"
	"github.com/o2lab/mpirace/mpi"
	"github.com/o2lab/mpirace/summary"
	log "github.com/sirupsen/logrus"
)

func main() {
	debug := flag.Bool("debug", false, "Prints debug messages.")
	help := flag.Bool("help", false, "Show all command-line options.")
	cfgPath := flag.String("config", "", "Path to a mpirace.yml configuration file.")
	report := flag.String("report", "", "Write a markdown report to this file.")
	html := flag.Bool("html", false, "Render the report as HTML instead of markdown.")
	flag.Parse()
	if *help {
		log.Println("Usage: mpirace [options] module.ll ...")
		flag.PrintDefaults()
		return
	}
	if *debug {
		log.SetLevel(log.DebugLevel)
	}
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05",
	})

	cfg := config.Default()
	if *cfgPath != "" {
		var err error
		cfg, err = config.Load(*cfgPath)
		if err != nil {
			log.Fatalf("ERROR in loading configuration: %s", err)
		}
	}
	if *report != "" {
		cfg.ReportFile = *report
	}
	if *html {
		cfg.HTMLReport = true
	}
	if flag.NArg() == 0 {
		log.Fatal("no input modules; pass one or more .ll files")
	}

	for _, path := range flag.Args() {
		log.Infof("Loading module %s...", path)
		mod, err := asm.ParseFile(path)
		if err != nil {
			log.Fatalf("ERROR in loading %s: %s", path, err)
		}
		table := mpi.BuildFuncTable(mod)
		if !table.Used() {
			log.Infof("%s is not an MPI application, nothing to do", path)
			continue
		}
		metadata := summary.Build(mod, table, cfg.SafeExternals, log.StandardLogger())
		a := analyzer.NewAnalyzer(mod, analyzer.Config{
			Table:    table,
			Metadata: metadata,
			Log:      log.StandardLogger(),
		})
		pairs, err := a.Run()
		if err != nil {
			log.Fatalf("%s: %s", path, err)
		}
		a.ReportConflicts(pairs)
		if cfg.ReportFile != "" {
			if err := a.WriteReport(pairs, cfg.ReportFile, cfg.HTMLReport); err != nil {
				log.Fatalf("ERROR in writing report: %s", err)
			}
		}
	}
}
