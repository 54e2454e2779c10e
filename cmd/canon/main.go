// Command canon extracts queried landmark columns from raw CSV exports and
// maps paired input / ground-truth tracks into a shared canonical space.
//
// Usage:
//
//	canon -d raw/ -q queries.txt -o extracted/
//	canon -c -ci extracted/input -cg extracted/gt [-ledger runs.db] [-plot_dir plots/]
//	canon -m extracted/input
//
// The process always exits 0; problems are reported in the log.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/smilelab/canon/internal/canonical"
	"github.com/smilelab/canon/internal/config"
	"github.com/smilelab/canon/internal/features"
	"github.com/smilelab/canon/internal/fsutil"
	"github.com/smilelab/canon/internal/ledger"
	"github.com/smilelab/canon/internal/monitoring"
	"github.com/smilelab/canon/internal/query"
	"github.com/smilelab/canon/internal/report"
	"github.com/smilelab/canon/internal/version"
)

// Environment variables consulted when the matching flag is not given.
const (
	envConfig   = "CANON_CONFIG"
	envLedger   = "CANON_LEDGER"
	envLogLevel = "CANON_LOG_LEVEL"
)

// configureLogging applies the log level and file; replaced in tests.
var configureLogging = monitoring.Configure

type options struct {
	file      string
	dir       string
	queryFile string
	outDir    string
	canonical bool
	canonIn   string
	canonGT   string
	mouth     string
	help      bool

	configPath string
	ledgerPath string
	plotDir    string
	html       bool
	logLevel   string
	version    bool
}

func newFlagSet(o *options, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("canon", flag.ContinueOnError)
	fs.SetOutput(out)

	str := func(p *string, short, long, usage string) {
		fs.StringVar(p, short, "", usage)
		fs.StringVar(p, long, "", usage+" (alias of -"+short+")")
	}
	boolean := func(p *bool, short, long, usage string) {
		fs.BoolVar(p, short, false, usage)
		fs.BoolVar(p, long, false, usage+" (alias of -"+short+")")
	}

	boolean(&o.help, "h", "help", "Help message")
	str(&o.file, "f", "file", "File to convert")
	str(&o.dir, "d", "dir", "Directory of files to convert")
	str(&o.queryFile, "q", "query", "Query file listing the columns to extract")
	str(&o.outDir, "o", "out_dir", "Output directory")
	boolean(&o.canonical, "c", "canonical", "Create canonical data")
	str(&o.canonIn, "ci", "canon_in", "Location of canonical input files")
	str(&o.canonGT, "cg", "canon_gt", "Location of canonical ground-truth files")
	str(&o.mouth, "m", "mouth", "Canonical file or directory to convert to mouth measurements")

	fs.StringVar(&o.configPath, "config", "", "JSON config file (env "+envConfig+")")
	fs.StringVar(&o.ledgerPath, "ledger", "", "sqlite run ledger path (env "+envLedger+")")
	fs.StringVar(&o.plotDir, "plot_dir", "", "Directory for canonical preview plots")
	fs.BoolVar(&o.html, "html", false, "Also write HTML previews")
	fs.StringVar(&o.logLevel, "log_level", "", "Log level (env "+envLogLevel+")")
	fs.BoolVar(&o.version, "version", false, "Print version and exit")
	return fs
}

func parseArgs(args []string, out io.Writer) (*options, *flag.FlagSet, error) {
	o := &options{}
	fs := newFlagSet(o, out)
	if err := fs.Parse(args); err != nil {
		return nil, fs, err
	}
	return o, fs, nil
}

// applyEnv fills options left unset on the command line from getenv.
func (o *options) applyEnv(getenv func(string) string) {
	if o.configPath == "" {
		o.configPath = getenv(envConfig)
	}
	if o.ledgerPath == "" {
		o.ledgerPath = getenv(envLedger)
	}
	if o.logLevel == "" {
		o.logLevel = getenv(envLogLevel)
	}
}

// queryOutDir is the extraction output directory: -o, else the input
// directory, else the directory of the input file.
func (o *options) queryOutDir() string {
	switch {
	case o.outDir != "":
		return o.outDir
	case o.dir != "":
		return o.dir
	case o.file != "":
		return filepath.Dir(o.file)
	}
	return "."
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "canon: .env: %v\n", err)
	}
	run(os.Args[1:], os.Getenv, fsutil.OSFileSystem{}, os.Stdout)
}

// run executes one invocation. It never fails: every problem is logged and
// the affected phase is skipped.
func run(args []string, getenv func(string) string, fsys fsutil.FileSystem, stdout io.Writer) {
	o, fs, err := parseArgs(args, stdout)
	if err != nil {
		// flag already printed the problem and usage.
		return
	}
	if o.help {
		fs.Usage()
		return
	}
	if o.version {
		fmt.Fprintln(stdout, version.String())
		return
	}
	o.applyEnv(getenv)

	cfg := config.EmptyConfig()
	if o.configPath != "" {
		loaded, err := config.LoadConfig(fsys, o.configPath)
		if err != nil {
			monitoring.Warnf("config %s: %v; run skipped", o.configPath, err)
			return
		}
		cfg = loaded
	}

	level := o.logLevel
	if level == "" {
		level = cfg.GetLogLevel()
	}
	if err := configureLogging(level, cfg.GetLogFile()); err != nil {
		monitoring.Warnf("logging: %v", err)
	}

	runQueries(o, fsys)
	runCanonical(o, cfg, fsys)
	runMouth(o, cfg, fsys)
}

func runQueries(o *options, fsys fsutil.FileSystem) {
	if o.queryFile == "" {
		monitoring.Logf("No queries provided to parse files. Skipping.")
		return
	}
	queries, err := query.ReadQueries(fsys, o.queryFile)
	if err != nil {
		monitoring.Warnf("%v", err)
		return
	}
	if len(queries) == 0 {
		monitoring.Logf("No queries provided to parse files. Skipping.")
		return
	}

	outDir := o.queryOutDir()
	switch {
	case o.dir != "":
		results, err := query.ExportDir(fsys, o.dir, outDir, queries)
		if err != nil {
			monitoring.Warnf("%v", err)
			return
		}
		monitoring.Logf("Extracted %d file(s) from %s", len(results), o.dir)
	case o.file != "":
		res := query.ExportFile(fsys, o.file, outDir, queries)
		if res.Err != nil {
			monitoring.Warnf("extract %s failed: %v", o.file, res.Err)
		}
	default:
		monitoring.Logf("No input file or directory provided to parse. Skipping.")
	}
}

func runCanonical(o *options, cfg *config.Config, fsys fsutil.FileSystem) {
	if !o.canonical {
		return
	}
	if o.canonIn == "" || o.canonGT == "" {
		monitoring.Warnf("Canonical export needs both -ci and -cg. Skipping.")
		return
	}

	opts := cfg.Options()
	var observers []canonical.Observer

	ledgerPath := o.ledgerPath
	if ledgerPath == "" {
		ledgerPath = cfg.GetLedgerPath()
	}
	var lg *ledger.Ledger
	if ledgerPath != "" {
		var err error
		lg, err = ledger.Open(ledgerPath, nil)
		if err != nil {
			monitoring.Warnf("ledger disabled: %v", err)
		} else {
			defer lg.Close()
			if _, err := lg.BeginRun(o.canonIn, o.canonGT, opts); err != nil {
				monitoring.Warnf("ledger disabled: %v", err)
				lg = nil
			} else {
				observers = append(observers, lg)
			}
		}
	}

	plotDir := o.plotDir
	if plotDir == "" {
		plotDir = cfg.GetPlotDir()
	}
	var pv *report.Previewer
	if plotDir != "" {
		pv = report.NewPreviewer(fsys, plotDir, o.html || cfg.GetPlotHTML(), opts.PrefixLength)
		observers = append(observers, pv)
	}

	summary := canonical.NewExporter(fsys, opts, observers...).Export(o.canonIn, o.canonGT)

	if lg != nil {
		if err := lg.FinishRun(summary); err != nil {
			monitoring.Warnf("ledger: %v", err)
		}
	}
	if pv != nil && pv.Err() != nil {
		monitoring.Warnf("previews incomplete: %v", pv.Err())
	}
}

func runMouth(o *options, cfg *config.Config, fsys fsutil.FileSystem) {
	if o.mouth == "" {
		return
	}
	results, err := features.Format(fsys, o.mouth, cfg.GetOutputSuffix())
	if err != nil {
		monitoring.Warnf("%v", err)
		return
	}
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	monitoring.Logf("Mouth measurements: %d converted, %d failed", len(results)-failed, failed)
}
