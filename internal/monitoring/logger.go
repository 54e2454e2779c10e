package monitoring

import (
	"fmt"
	"io"
	"os"
	"path"
	"runtime"
	"strings"

	formatter "github.com/antonfisher/nested-logrus-formatter"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the process-wide logrus instance behind Logf, Warnf and Debugf.
var Logger = newLogger()

// Logf is the package-level diagnostic logger. It defaults to Logger.Infof but
// may be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = Logger.Infof

// Warnf reports recoverable problems: skipped files, mismatched pairs.
var Warnf func(format string, v ...interface{}) = Logger.Warnf

// Debugf reports per-frame detail.
var Debugf func(format string, v ...interface{}) = Logger.Debugf

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	l.SetReportCaller(true)
	l.SetFormatter(&formatter.Formatter{
		NoColors:        true,
		TimestampFormat: "2006-01-02 15:04:05",
		HideKeys:        false,
		CallerFirst:     true,
		CustomCallerFormatter: func(f *runtime.Frame) string {
			s := strings.Split(f.Function, ".")
			return fmt.Sprintf(" [%s:%d][%s()]", path.Base(f.File), f.Line, s[len(s)-1])
		},
	})
	return l
}

// SetLogger replaces all package loggers with f. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		f = func(string, ...interface{}) {}
	}
	Logf = f
	Warnf = f
	Debugf = f
}

// Configure sets the log level and, when file is non-empty, tees output into
// a size-rotated log file.
func Configure(level, file string) error {
	if level != "" {
		lvl, err := logrus.ParseLevel(level)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", level, err)
		}
		Logger.SetLevel(lvl)
	}

	writers := []io.Writer{os.Stderr}
	if file != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   file,
			LocalTime:  true,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
		})
	}
	Logger.SetOutput(io.MultiWriter(writers...))

	Logf = Logger.Infof
	Warnf = Logger.Warnf
	Debugf = Logger.Debugf
	return nil
}
