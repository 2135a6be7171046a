package logging

import (
	"bytes"
	"context"
	"io"
	"os"
	"testing"

	"github.com/fyrsmithlabs/kgraph/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(NewDefaultConfig(), nil)
	require.NoError(t, err)
	require.NotNil(t, logger.Underlying())
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"

	_, err := NewLogger(cfg, nil)
	assert.Error(t, err)
}

func TestLogger_ContextFields(t *testing.T) {
	tl := NewTestLogger()

	ctx := WithProjectID(context.Background(), "p1")
	ctx = WithRequestID(ctx, "req-7")
	ctx = WithOperation(ctx, "entity.create")

	tl.Info(ctx, "entity created", zap.String("entity.id", "e1"))

	tl.AssertLogged(t, zapcore.InfoLevel, "entity created")
	tl.AssertField(t, "entity created", "project.id", "p1")
	tl.AssertField(t, "entity created", "request.id", "req-7")
	tl.AssertField(t, "entity created", "operation", "entity.create")
	tl.AssertField(t, "entity created", "entity.id", "e1")
}

func TestLogger_TraceCorrelation(t *testing.T) {
	tl := NewTestLogger()

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3},
		SpanID:     trace.SpanID{4, 5, 6},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	tl.Debug(ctx, "searching")

	tl.AssertField(t, "searching", "trace_id", sc.TraceID().String())
}

func TestLogger_LevelsAndReset(t *testing.T) {
	tl := NewTestLogger()
	ctx := context.Background()

	tl.Trace(ctx, "t")
	tl.Debug(ctx, "d")
	tl.Warn(ctx, "w")
	tl.Error(ctx, "e")
	assert.Len(t, tl.All(), 4)

	tl.Reset()
	assert.Empty(t, tl.All())
	tl.AssertNotLogged(t, zapcore.ErrorLevel, "e")
}

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	assert.Same(t, tl.Logger, FromContext(ctx))
}

func TestLevelFromString(t *testing.T) {
	lvl, err := LevelFromString("trace")
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, lvl)

	lvl, err = LevelFromString("warn")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, lvl)

	_, err = LevelFromString("loud")
	assert.Error(t, err)
}

func TestFromAppConfig(t *testing.T) {
	cfg, err := FromAppConfig(config.LoggingConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, cfg.Level)
	assert.Equal(t, "console", cfg.Format)

	_, err = FromAppConfig(config.LoggingConfig{Level: "chatty"})
	assert.Error(t, err)
}

func newRedactingCore(t *testing.T, buf *bytes.Buffer) zapcore.Core {
	t.Helper()
	enc, err := NewRedactingEncoder(newEncoder("json"), NewDefaultConfig().Redaction)
	require.NoError(t, err)
	return zapcore.NewCore(enc, zapcore.AddSync(buf), zapcore.DebugLevel)
}

func TestRedactingEncoder_CallFields(t *testing.T) {
	var buf bytes.Buffer
	logger := zap.New(newRedactingCore(t, &buf))

	logger.Info("calling provider",
		zap.String("api_key", "sk-abcdefghijklmnopqrstuvwx"),
		zap.String("header", "Bearer abc.def.ghi"),
		zap.String("model", "text-embedding-3-small"),
	)

	out := buf.String()
	assert.NotContains(t, out, "sk-abcdefghijklmnopqrstuvwx")
	assert.NotContains(t, out, "abc.def.ghi")
	assert.Contains(t, out, "text-embedding-3-small")
}

func TestRedactingEncoder_ContextFields(t *testing.T) {
	var buf bytes.Buffer
	logger := zap.New(newRedactingCore(t, &buf)).With(zap.String("token", "hunter2"))

	logger.Info("ready")

	assert.NotContains(t, buf.String(), "hunter2")
	assert.Contains(t, buf.String(), redacted)
}

func TestRedactingEncoder_Message(t *testing.T) {
	var buf bytes.Buffer
	logger := zap.New(newRedactingCore(t, &buf))

	logger.Info("using api_key=abc123 for request")

	assert.NotContains(t, buf.String(), "abc123")
}

func TestSecretField(t *testing.T) {
	tl := NewTestLogger()
	tl.Info(context.Background(), "configured", Secret("qdrant_key", config.Secret("abc")))

	entries := tl.FilterMessage("configured").All()
	require.Len(t, entries, 1)
	obj, ok := entries[0].ContextMap()["qdrant_key"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, obj["set"])
	assert.EqualValues(t, 3, obj["len"])
}

func TestNewRedactingEncoder_BadPattern(t *testing.T) {
	_, err := NewRedactingEncoder(newEncoder("json"), RedactionConfig{
		Enabled:  true,
		Patterns: []string{"("},
	})
	assert.Error(t, err)
}

func TestNewLogger_StderrOutput(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	orig := os.Stderr
	os.Stderr = w
	t.Cleanup(func() { os.Stderr = orig })

	cfg := NewDefaultConfig()
	cfg.Output.Stderr = true
	logger, err := NewLogger(cfg, nil)
	os.Stderr = orig
	require.NoError(t, err)

	logger.Info(context.Background(), "to stderr")
	require.NoError(t, w.Close())

	out, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Contains(t, string(out), "to stderr")
}
