package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoggerVerbosity(t *testing.T) {
	var buf bytes.Buffer
	logger, setVerbosity := newLogger(&buf, 0)
	named := logger.WithName("netm").WithValues("backend", "kernel")

	named.V(1).Info("hidden")
	assert.NotContains(t, buf.String(), "hidden")

	setVerbosity(1)
	named.V(1).Info("shown")
	assert.Contains(t, buf.String(), "shown")
	assert.Contains(t, buf.String(), "netm")
	assert.Contains(t, buf.String(), `"backend"="kernel"`)

	setVerbosity(0)
	named.V(1).Info("quiet again")
	assert.NotContains(t, buf.String(), "quiet again")
}
