package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// installRecorder swaps the global tracer provider for one backed by a span recorder.
func installRecorder(t *testing.T) (*sdktrace.TracerProvider, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return tp, recorder
}

func attrValue(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestStartServiceSpan(t *testing.T) {
	_, recorder := installRecorder(t)
	productID := uuid.New()

	_, span := StartServiceSpan(context.Background(), "costing", "consume",
		SpanAttrProductID, productID,
		SpanAttrQuantity, int64(15),
		SpanAttrBackdated, true,
		"dangling",
	)
	SetAttributes(span, SpanAttrCostMethod, "fifo")
	RecordError(span, errors.New("insufficient stock"))
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	s := spans[0]
	assert.Equal(t, "costing.consume", s.Name())
	assert.Equal(t, codes.Error, s.Status().Code)
	assert.Equal(t, "insufficient stock", s.Status().Description)

	v, ok := attrValue(s.Attributes(), SpanAttrProductID)
	require.True(t, ok)
	assert.Equal(t, productID.String(), v.AsString())

	v, ok = attrValue(s.Attributes(), SpanAttrQuantity)
	require.True(t, ok)
	assert.Equal(t, int64(15), v.AsInt64())

	v, ok = attrValue(s.Attributes(), SpanAttrCostMethod)
	require.True(t, ok)
	assert.Equal(t, "fifo", v.AsString())

	_, ok = attrValue(s.Attributes(), "dangling")
	assert.False(t, ok)
}

func TestRecordError_NilSafe(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordError(nil, errors.New("boom"))
		SetAttributes(nil, "k", "v")
	})
}

type tracedRow struct {
	ID   uint   `gorm:"primaryKey"`
	Name string `gorm:"size:100"`
}

func openTracedDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&tracedRow{}))
	return db
}

func TestRegisterDBTracing(t *testing.T) {
	t.Run("disabled leaves db untouched", func(t *testing.T) {
		db := openTracedDB(t)
		require.NoError(t, RegisterDBTracing(db, DBTracingConfig{}, nil))
		assert.Nil(t, db.Callback().Create().Get("costing:after_create"))
	})

	t.Run("enabled produces spans for queries", func(t *testing.T) {
		tp, recorder := installRecorder(t)
		db := openTracedDB(t)
		require.NoError(t, RegisterDBTracing(db, DBTracingConfig{Enabled: true, DBSystem: "sqlite"}, zap.NewNop()))
		assert.NotNil(t, db.Callback().Create().Get("costing:after_create"))

		ctx, parent := tp.Tracer("test").Start(context.Background(), "parent")
		require.NoError(t, db.WithContext(ctx).Create(&tracedRow{Name: "a"}).Error)
		var rows []tracedRow
		require.NoError(t, db.WithContext(ctx).Find(&rows).Error)
		parent.End()

		assert.GreaterOrEqual(t, len(recorder.Ended()), 3)
	})
}

func TestAnnotateSpan(t *testing.T) {
	tp, recorder := installRecorder(t)
	db := openTracedDB(t)

	ctx, span := tp.Tracer("test").Start(context.Background(), "query")
	ctx = context.WithValue(ctx, queryStartKey{}, time.Now().Add(-time.Second))

	tx := db.WithContext(ctx).Session(&gorm.Session{})
	tx.Statement.Table = "cost_movements"
	tx.Statement.RowsAffected = 7
	tx.Error = errors.New("connection reset")

	annotateSpan(tx, 100*time.Millisecond)
	span.End()

	s := recorder.Ended()[0]
	assert.Equal(t, codes.Error, s.Status().Code)

	v, ok := attrValue(s.Attributes(), "db.rows_affected")
	require.True(t, ok)
	assert.Equal(t, int64(7), v.AsInt64())

	v, ok = attrValue(s.Attributes(), "db.slow_query")
	require.True(t, ok)
	assert.True(t, v.AsBool())

	v, ok = attrValue(s.Attributes(), "db.sql.table")
	require.True(t, ok)
	assert.Equal(t, "cost_movements", v.AsString())
}
