package main

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/ini.v1"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Component loggers; they write through the standard logger until
// initLogging runs.
var (
	coreLog = logrus.WithField("name", "core")
	sipLog  = logrus.WithField("name", "sip")
	callLog = logrus.WithField("name", "call")
	logFile *lumberjack.Logger
)

// sipMessages controls whether full SIP messages are logged.
var sipMessages bool

// Prefixes of the SIP message dumps written by the transport.
const (
	sipDumpIn  = "received SIP message:"
	sipDumpOut = "sending SIP message:"
)

// initLogging configures the per component loggers from [logging].
func initLogging(cfg *ini.File) error {
	sec := cfg.Section("logging")

	consoleMin := toLogrusLevel(sec.Key("console_min_level").MustInt(0))
	fileMin := toLogrusLevel(sec.Key("file_min_level").MustInt(0))

	logFile = &lumberjack.Logger{
		Filename:   sec.Key("file").MustString("mcpttd.log"),
		MaxSize:    sec.Key("max_size").MustInt(100), // megabytes
		MaxBackups: sec.Key("max_backups").MustInt(1),
	}

	sipMessages = sec.Key("sip_messages").MustBool(false)
	var sipFilter func(*logrus.Entry) bool
	if !sipMessages {
		sipFilter = isSIPMessageDump
	}

	coreLog = newLogger("core", toLogrusLevel(sec.Key("core").MustInt(2)), consoleMin, fileMin, logFile, nil)
	sipLog = newLogger("sip", toLogrusLevel(sec.Key("sip").MustInt(3)), consoleMin, fileMin, logFile, sipFilter)
	callLog = newLogger("call", toLogrusLevel(sec.Key("call").MustInt(2)), consoleMin, fileMin, logFile, nil)
	return nil
}

// closeLogging flushes and closes log files.
func closeLogging() {
	if logFile != nil {
		_ = logFile.Close()
	}
}

// writerHook writes logs to the specified writer for provided levels.
type writerHook struct {
	Writer    io.Writer
	LogLevels []logrus.Level
	// Skip drops matching entries when set.
	Skip func(*logrus.Entry) bool
}

func (h *writerHook) Fire(e *logrus.Entry) error {
	if h.Skip != nil && h.Skip(e) {
		return nil
	}
	line, err := e.String()
	if err != nil {
		return err
	}
	_, err = h.Writer.Write([]byte(line))
	return err
}

func (h *writerHook) Levels() []logrus.Level {
	return h.LogLevels
}

func newLogger(name string, level, consoleMin, fileMin logrus.Level, file io.Writer, skip func(*logrus.Entry) bool) *logrus.Entry {
	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetOutput(io.Discard)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	logger.AddHook(&writerHook{Writer: os.Stdout, LogLevels: availableLevels(consoleMin), Skip: skip})
	logger.AddHook(&writerHook{Writer: file, LogLevels: availableLevels(fileMin), Skip: skip})
	return logger.WithField("name", name)
}

func availableLevels(min logrus.Level) []logrus.Level {
	levels := []logrus.Level{}
	for _, l := range logrus.AllLevels {
		if l <= min {
			levels = append(levels, l)
		}
	}
	return levels
}

func toLogrusLevel(v int) logrus.Level {
	switch {
	case v <= 0:
		return logrus.TraceLevel
	case v == 1:
		return logrus.DebugLevel
	case v == 2:
		return logrus.InfoLevel
	case v == 3:
		return logrus.WarnLevel
	case v == 4:
		return logrus.ErrorLevel
	case v == 5:
		return logrus.FatalLevel
	default:
		return logrus.PanicLevel // off
	}
}

// isSIPMessageDump matches full SIP message dumps so they can be
// suppressed when disabled via configuration.
func isSIPMessageDump(e *logrus.Entry) bool {
	return strings.HasPrefix(e.Message, sipDumpIn) || strings.HasPrefix(e.Message, sipDumpOut)
}
