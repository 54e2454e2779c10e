package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/smilelab/canon/internal/fsutil"
	"github.com/smilelab/canon/internal/ledger"
	"github.com/smilelab/canon/internal/monitoring"
	"github.com/smilelab/canon/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rawExport = "frame,time,Lateral canthus (R) x,Lateral canthus (R) y,Lateral canthus (L) x,Lateral canthus (L) y,Nose tip x,Nose tip y,confidence\n" +
	"0,0.000,2,3,4,3,3,5,0.98\n" +
	"1,0.033,2,3,6,4,3,5,0.97\n"

type logCall struct{ level, file string }

// quiet mutes logging and records what run asked the logger to become.
func quiet(t *testing.T) *[]logCall {
	t.Helper()
	logf, warnf, debugf := monitoring.Logf, monitoring.Warnf, monitoring.Debugf
	configure := configureLogging
	monitoring.SetLogger(nil)

	var calls []logCall
	configureLogging = func(level, file string) error {
		calls = append(calls, logCall{level, file})
		return nil
	}
	t.Cleanup(func() {
		monitoring.Logf, monitoring.Warnf, monitoring.Debugf = logf, warnf, debugf
		configureLogging = configure
	})
	return &calls
}

func noEnv(string) string { return "" }

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestFlagDefaults(t *testing.T) {
	o, _, err := parseArgs(nil, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, options{}, *o)
}

func TestShortAndLongFlagsShareValues(t *testing.T) {
	short, _, err := parseArgs([]string{"-f", "a.csv", "-q", "q.txt", "-o", "out", "-c", "-ci", "in", "-cg", "gt", "-m", "in"}, &bytes.Buffer{})
	require.NoError(t, err)
	long, _, err := parseArgs([]string{"--file", "a.csv", "--query", "q.txt", "--out_dir", "out", "--canonical", "--canon_in", "in", "--canon_gt", "gt", "--mouth", "in"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, short, long)
	assert.True(t, short.canonical)
	assert.Equal(t, "gt", short.canonGT)
}

func TestApplyEnv(t *testing.T) {
	o := &options{ledgerPath: "flag.db"}
	o.applyEnv(envMap(map[string]string{
		envConfig:   "env.json",
		envLedger:   "env.db",
		envLogLevel: "debug",
	}))
	assert.Equal(t, "env.json", o.configPath)
	assert.Equal(t, "flag.db", o.ledgerPath, "flag wins over environment")
	assert.Equal(t, "debug", o.logLevel)
}

func TestQueryOutDir(t *testing.T) {
	assert.Equal(t, "out", (&options{outDir: "out", dir: "raw"}).queryOutDir())
	assert.Equal(t, "raw", (&options{dir: "raw", file: "x/a.csv"}).queryOutDir())
	assert.Equal(t, "x", (&options{file: "x/a.csv"}).queryOutDir())
	assert.Equal(t, ".", (&options{}).queryOutDir())
}

func TestRun_Help(t *testing.T) {
	calls := quiet(t)
	var out bytes.Buffer
	mfs := fsutil.NewMemoryFileSystem()
	testutil.WriteFixture(t, mfs, "/q.txt", "time\n")
	testutil.WriteFixture(t, mfs, "/raw/a_s.csv", rawExport)

	run([]string{"-h", "-f", "/raw/a_s.csv", "-q", "/q.txt"}, noEnv, mfs, &out)

	assert.Contains(t, out.String(), "canon_gt")
	assert.False(t, mfs.Exists("/raw/a_s_out.csv"), "help must stop before any work")
	assert.Empty(t, *calls)
}

func TestRun_Version(t *testing.T) {
	quiet(t)
	var out bytes.Buffer
	run([]string{"-version"}, noEnv, fsutil.NewMemoryFileSystem(), &out)
	assert.Contains(t, out.String(), "canon ")
}

func TestRun_BadFlagDoesNothing(t *testing.T) {
	calls := quiet(t)
	var out bytes.Buffer
	run([]string{"-nope"}, noEnv, fsutil.NewMemoryFileSystem(), &out)
	assert.Contains(t, out.String(), "nope")
	assert.Empty(t, *calls)
}

func TestRun_LogLevelPrecedence(t *testing.T) {
	calls := quiet(t)
	const cfg = "/etc/canon.json"
	mfs := fsutil.NewMemoryFileSystem()
	testutil.WriteFixture(t, mfs, cfg, `{"log_level": "warn", "log_file": "canon.log"}`)

	run([]string{"-config", cfg}, noEnv, mfs, &bytes.Buffer{})
	run([]string{"-config", cfg}, envMap(map[string]string{envLogLevel: "debug"}), mfs, &bytes.Buffer{})
	run([]string{"-config", cfg, "-log_level", "error"}, envMap(map[string]string{envLogLevel: "debug"}), mfs, &bytes.Buffer{})

	assert.Equal(t, []logCall{{"warn", "canon.log"}, {"debug", "canon.log"}, {"error", "canon.log"}}, *calls)
}

func TestRun_InvalidConfigSkipsRun(t *testing.T) {
	calls := quiet(t)
	const cfg = "/etc/canon.json"
	mfs := fsutil.NewMemoryFileSystem()
	testutil.WriteFixture(t, mfs, cfg, `{"canonical_iris_distance": 0}`)
	testutil.WriteFixture(t, mfs, "/q.txt", "time\n")
	testutil.WriteFixture(t, mfs, "/raw/a_s.csv", rawExport)

	run([]string{"-config", cfg, "-f", "/raw/a_s.csv", "-q", "/q.txt"}, noEnv, mfs, &bytes.Buffer{})
	assert.False(t, mfs.Exists("/raw/a_s_out.csv"))
	assert.Empty(t, *calls)
}

func TestRun_QuerySingleFile(t *testing.T) {
	quiet(t)
	mfs := fsutil.NewMemoryFileSystem()
	testutil.WriteFixture(t, mfs, "/q.txt", "time\nNose\n")
	testutil.WriteFixture(t, mfs, "/raw/a_s.csv", rawExport)

	run([]string{"-f", "/raw/a_s.csv", "-q", "/q.txt"}, noEnv, mfs, &bytes.Buffer{})

	data, err := mfs.ReadFile("/raw/a_s_out.csv")
	require.NoError(t, err)
	assert.Equal(t, []string{"time,Nose tip x,Nose tip y", "0.000 3 5", "0.033 3 5"}, testutil.Lines(data))
}

func TestRun_QueryWithoutQueriesSkips(t *testing.T) {
	quiet(t)
	mfs := fsutil.NewMemoryFileSystem()
	testutil.WriteFixture(t, mfs, "/q.txt", "\n\n")
	testutil.WriteFixture(t, mfs, "/raw/a_s.csv", rawExport)

	run([]string{"-d", "/raw", "-q", "/q.txt"}, noEnv, mfs, &bytes.Buffer{})
	assert.False(t, mfs.Exists("/raw/a_s_out.csv"))
}

func TestRun_CanonicalNeedsBothDirs(t *testing.T) {
	quiet(t)
	mfs := fsutil.NewMemoryFileSystem()
	header := testutil.Header(true, testutil.EyeLabels...)
	testutil.WriteFixture(t, mfs, "/in/sample_s_out.csv", testutil.TrackCSV(header, testutil.Row(0, 2, 3, 4, 3, 3, 5)))

	run([]string{"-c", "-ci", "/in"}, noEnv, mfs, &bytes.Buffer{})
	assert.False(t, mfs.Exists("/in/sample__canon.csv"))
}

// Extraction feeds the canonical phase in one invocation, with the ledger
// and previews attached.
func TestRun_EndToEnd(t *testing.T) {
	quiet(t)
	mfs := fsutil.NewMemoryFileSystem()
	testutil.WriteFixture(t, mfs, "/q.txt", "time\ncanthus\nNose\n")
	testutil.WriteFixture(t, mfs, "/raw/in/sample_s.csv", rawExport)
	testutil.WriteFixture(t, mfs, "/raw/gt/sample_s.csv", rawExport)

	run([]string{"-d", "/raw/in", "-q", "/q.txt", "-o", "/work/in"}, noEnv, mfs, &bytes.Buffer{})
	run([]string{"-d", "/raw/gt", "-q", "/q.txt", "-o", "/work/gt"}, noEnv, mfs, &bytes.Buffer{})

	dbPath := filepath.Join(t.TempDir(), "runs.db")
	run([]string{"-c", "-ci", "/work/in", "-cg", "/work/gt", "-plot_dir", "/plots", "-html"},
		envMap(map[string]string{envLedger: dbPath}), mfs, &bytes.Buffer{})

	in, err := mfs.ReadFile("/work/in/sample__canon.csv")
	require.NoError(t, err)
	assert.Len(t, testutil.Lines(in), 2)
	assert.True(t, mfs.Exists("/work/gt/sample__canon.csv"))
	assert.True(t, mfs.Exists("/plots/sample__canon.png"))
	assert.True(t, mfs.Exists("/plots/sample__canon.html"))

	lg, err := ledger.Open(dbPath, nil)
	require.NoError(t, err)
	defer lg.Close()
	runs, err := lg.Runs()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "/work/in", runs[0].InputDir)
	assert.True(t, runs[0].FinishedNs.Valid)
}

func TestRun_UnopenableLedgerStillExports(t *testing.T) {
	quiet(t)
	mfs := fsutil.NewMemoryFileSystem()
	header := testutil.Header(true, testutil.EyeLabels...)
	rows := testutil.TrackCSV(header, testutil.Row(0, 2, 3, 4, 3, 3, 5))
	testutil.WriteFixture(t, mfs, "/in/sample_s_out.csv", rows)
	testutil.WriteFixture(t, mfs, "/gt/sample_s_gt.csv", rows)

	bad := filepath.Join(t.TempDir(), "missing-dir", "sub", "runs.db")
	run([]string{"-c", "-ci", "/in", "-cg", "/gt", "-ledger", bad}, noEnv, mfs, &bytes.Buffer{})
	assert.True(t, mfs.Exists("/in/sample__canon.csv"))
}

func TestRun_MouthAfterCanonical(t *testing.T) {
	quiet(t)
	mfs := fsutil.NewMemoryFileSystem()
	labels := []string{"Lateral canthus (R)", "Lateral canthus (L)"}
	header := testutil.Header(true, labels...)
	rows := testutil.TrackCSV(header, testutil.Row(0, 2, 3, 4, 3), testutil.Row(0.033, 2, 3, 6, 3))
	testutil.WriteFixture(t, mfs, "/in/sample_s_out.csv", rows)
	testutil.WriteFixture(t, mfs, "/gt/sample_s_gt.csv", rows)

	run([]string{"-c", "-ci", "/in", "-cg", "/gt", "-m", "/in"}, noEnv, mfs, &bytes.Buffer{})

	// Two canonical points per frame do not form a mouth row: reported, not written.
	assert.True(t, mfs.Exists("/in/sample__canon.csv"))
	assert.False(t, mfs.Exists("/in/sample__mouth.csv"))

	testutil.WriteFixture(t, mfs, "/m/P01S002_canon.csv", "0.5 3 2 -1 2 1 1.5 1 0.5\n")
	run([]string{"--mouth", "/m/P01S002_canon.csv"}, noEnv, mfs, &bytes.Buffer{})

	data, err := mfs.ReadFile("/m/P01S002_mouth.csv")
	require.NoError(t, err)
	assert.Equal(t, "0.500000 4.000000 1.000000 0.643501\n", string(data))
}
