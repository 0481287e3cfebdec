package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetLevelFiltersOutput(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetLevel("info")
		SetOutput(nil)
	})

	SetLevel("warn")
	assert.Equal(t, "warn", Level())
	Infof("hidden %d", 1)
	Warnf("shown %d", 2)
	assert.NotContains(t, buf.String(), "hidden 1")
	assert.Contains(t, buf.String(), "shown 2")

	SetLevel("bogus")
	assert.Equal(t, "info", Level())
}

func TestTaggedPrefix(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(nil) })

	Tagged("live").Infof("bar %s", "ok")
	assert.Contains(t, buf.String(), "[live] bar ok")
}
