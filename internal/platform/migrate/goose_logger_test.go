package migrate

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGooseSlogLoggerPrintf(t *testing.T) {
	var buf bytes.Buffer
	l := gooseSlogLogger{logger: slog.New(slog.NewTextHandler(&buf, nil))}

	l.Printf("OK   %s (%s)\n", "00001_init.sql", "12ms")

	out := buf.String()
	assert.Contains(t, out, "00001_init.sql")
	assert.Contains(t, out, "component=goose")
}

func TestGooseSlogLoggerNilLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		gooseSlogLogger{}.Printf("no logger %d", 1)
	})
}
