package utils

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShowError(t *testing.T) {
	var buf bytes.Buffer
	old := ErrorOutput
	ErrorOutput = &buf
	defer func() { ErrorOutput = old }()

	cmd := NewSafeCommand(context.Background(), "ffmpeg", "-version")
	cmd.Stderr.WriteString("  /dev/video0: No such file or directory \n")

	ShowError("Camera unavailable", errors.New("exit status 1"), cmd)

	out := buf.String()
	assert.Contains(t, out, "MOODSCAN ERROR: Camera unavailable")
	assert.Contains(t, out, "DETAILS: exit status 1")
	assert.Contains(t, out, "PROCESS LOGS:\n/dev/video0: No such file or directory")
}

func TestShowErrorWithoutCommand(t *testing.T) {
	var buf bytes.Buffer
	old := ErrorOutput
	ErrorOutput = &buf
	defer func() { ErrorOutput = old }()

	ShowError("Model assets missing", nil, nil)

	assert.Contains(t, buf.String(), "Model assets missing")
	assert.NotContains(t, buf.String(), "DETAILS")
	assert.NotContains(t, buf.String(), "PROCESS LOGS")
}

func TestSafeCommandLogsNil(t *testing.T) {
	var s *SafeCommand
	assert.Empty(t, s.Logs())
}
