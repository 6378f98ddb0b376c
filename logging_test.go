package main

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestToLogrusLevel(t *testing.T) {
	assert.Equal(t, logrus.TraceLevel, toLogrusLevel(-1))
	assert.Equal(t, logrus.DebugLevel, toLogrusLevel(1))
	assert.Equal(t, logrus.WarnLevel, toLogrusLevel(3))
	assert.Equal(t, logrus.PanicLevel, toLogrusLevel(6))
}

func TestAvailableLevels(t *testing.T) {
	assert.Equal(t, []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel}, availableLevels(logrus.ErrorLevel))
	assert.Len(t, availableLevels(logrus.TraceLevel), len(logrus.AllLevels))
}

func TestNewLoggerSinks(t *testing.T) {
	var file bytes.Buffer
	log := newLogger("sip", logrus.DebugLevel, logrus.PanicLevel, logrus.InfoLevel, &file, isSIPMessageDump)

	log.Debug("too verbose for the file")
	log.Info(sipDumpIn + " INVITE sip:100@10.0.0.5 SIP/2.0")
	log.Warn("transaction timed out")

	out := file.String()
	assert.NotContains(t, out, "too verbose")
	assert.NotContains(t, out, "INVITE")
	assert.Contains(t, out, "transaction timed out")
	assert.Contains(t, out, "name=sip")
}
