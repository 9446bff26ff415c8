package logging

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestSetLevel(t *testing.T) {
	assert := assert.New(t)
	defer logrus.SetLevel(logrus.InfoLevel)

	assert.NoError(SetLevel("debug"))
	assert.Equal(logrus.DebugLevel, logrus.GetLevel())

	assert.NoError(SetLevel(""))
	assert.Equal(logrus.InfoLevel, logrus.GetLevel())

	assert.Error(SetLevel("chatty"))
	assert.Equal(logrus.InfoLevel, logrus.GetLevel(), "an invalid level must not change the current level")
}

func TestSetupLoggingRejectsUnknownFormat(t *testing.T) {
	defer logrus.SetFormatter(&logrus.TextFormatter{})
	assert.Error(t, SetupLogging("info", "xml"))
	assert.NoError(t, SetupLogging("info", "text"))
}

func TestForPackage(t *testing.T) {
	entry := ForPackage("hub")
	assert.Equal(t, "hub", entry.Data["package"])
	assert.Equal(t, ServiceName, entry.Data["service"])
}
