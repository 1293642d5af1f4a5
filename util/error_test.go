package util

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

type testHook struct {
	entries []*logrus.Entry
}

func (h *testHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *testHook) Fire(e *logrus.Entry) error {
	h.entries = append(h.entries, e)
	return nil
}

func TestContextualErrorError(t *testing.T) {
	inner := errors.New("device gone")

	ce := NewContextualError("failed to start", nil, inner)
	assert.Equal(t, "failed to start (map[]): device gone", ce.Error())
	assert.ErrorIs(t, ce, inner)

	ce = NewContextualError("failed to start", nil, nil)
	assert.Equal(t, "failed to start", ce.Error())
}

func TestLogWithContextIfNeeded(t *testing.T) {
	l := logrus.New()
	h := &testHook{}
	l.AddHook(h)
	l.SetOutput(&nopWriter{})

	LogWithContextIfNeeded("fallback message", errors.New("plain"), l)
	assert.Len(t, h.entries, 1)
	assert.Equal(t, "fallback message", h.entries[0].Message)

	LogWithContextIfNeeded("unused", NewContextualError("with context", map[string]any{"slot": 1}, errors.New("inner")), l)
	assert.Len(t, h.entries, 2)
	assert.Equal(t, "with context", h.entries[1].Message)
	assert.Equal(t, 1, h.entries[1].Data["slot"])
}

type nopWriter struct{}

func (*nopWriter) Write(p []byte) (int, error) { return len(p), nil }
