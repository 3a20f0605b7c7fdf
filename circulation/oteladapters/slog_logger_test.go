package oteladapters_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openshelf/circulation-go/circulation/oteladapters"
)

func Test_SlogLogger_ForwardsAllLevels(t *testing.T) {
	// arrange
	var buf bytes.Buffer
	logger := oteladapters.NewSlogLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	// act
	logger.Debug("debug message", "key", "d")
	logger.Info("info message", "key", "i")
	logger.Warn("warn message", "key", "w")
	logger.Error("error message", "key", "e")

	// assert
	output := buf.String()
	assert.Contains(t, output, "level=DEBUG")
	assert.Contains(t, output, "debug message")
	assert.Contains(t, output, "level=INFO")
	assert.Contains(t, output, "info message")
	assert.Contains(t, output, "level=WARN")
	assert.Contains(t, output, "warn message")
	assert.Contains(t, output, "level=ERROR")
	assert.Contains(t, output, "error message")
}

func Test_SlogBridgeLogger_ForwardsMessageContextAndAttrs(t *testing.T) {
	// arrange
	handler := &recordingHandler{}
	logger := oteladapters.NewSlogBridgeLoggerWithHandler(handler)

	type ctxKey struct{}
	ctx := context.WithValue(context.Background(), ctxKey{}, "request-7")

	// act
	logger.InfoContext(ctx, "loan opened", "loan_id", int64(42))
	logger.ErrorContext(ctx, "inventory corruption detected during return", "item_code", "978-0134190440")

	// assert
	require.Len(t, handler.records, 2)

	info := handler.records[0]
	assert.Equal(t, slog.LevelInfo, info.record.Level)
	assert.Equal(t, "loan opened", info.record.Message)
	assert.Equal(t, "request-7", info.ctx.Value(ctxKey{}))
	assert.Equal(t, int64(42), attrValue(t, info.record, "loan_id"))

	errRec := handler.records[1]
	assert.Equal(t, slog.LevelError, errRec.record.Level)
	assert.Equal(t, "inventory corruption detected during return", errRec.record.Message)
	assert.Equal(t, "978-0134190440", attrValue(t, errRec.record, "item_code"))
}

func Test_SlogBridgeLogger_RespectsHandlerLevel(t *testing.T) {
	// arrange: a handler that drops debug records
	handler := &recordingHandler{minLevel: slog.LevelInfo}
	logger := oteladapters.NewSlogBridgeLoggerWithHandler(handler)

	// act
	logger.DebugContext(context.Background(), "dropped")
	logger.WarnContext(context.Background(), "kept")

	// assert
	require.Len(t, handler.records, 1)
	assert.Equal(t, "kept", handler.records[0].record.Message)
}

/***** helpers *****/

type capturedRecord struct {
	ctx    context.Context
	record slog.Record
}

// recordingHandler captures every record it is handed, together with the
// context it arrived with.
type recordingHandler struct {
	minLevel slog.Level
	records  []capturedRecord
}

func (h *recordingHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.minLevel
}

func (h *recordingHandler) Handle(ctx context.Context, record slog.Record) error {
	h.records = append(h.records, capturedRecord{ctx: ctx, record: record})
	return nil
}

func (h *recordingHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }

func (h *recordingHandler) WithGroup(_ string) slog.Handler { return h }

func attrValue(t *testing.T, record slog.Record, key string) any {
	t.Helper()

	var value any
	record.Attrs(func(attr slog.Attr) bool {
		if attr.Key == key {
			value = attr.Value.Any()
			return false
		}

		return true
	})

	require.NotNil(t, value, "attribute %s not found", key)

	return value
}
