// Package arrowpipeline converts bar feeds and trade lists to and from Apache Arrow IPC streams
package arrowpipeline

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"go.uber.org/zap"

	"fade-backtest/services/engine"
)

var ErrEmpty = errors.New("no rows to convert")

// Config holds Arrow pipeline configuration
type Config struct {
	BatchSize int `yaml:"batch_size" default:"65536" validate:"gt=0"`
}

// Pipeline handles Arrow IPC encoding
type Pipeline struct {
	config     Config
	memoryPool memory.Allocator
	logger     *zap.Logger
}

var barSchema = arrow.NewSchema([]arrow.Field{
	{Name: "timestamp_ms", Type: arrow.PrimitiveTypes.Int64},
	{Name: "open", Type: arrow.PrimitiveTypes.Float64},
	{Name: "high", Type: arrow.PrimitiveTypes.Float64},
	{Name: "low", Type: arrow.PrimitiveTypes.Float64},
	{Name: "close", Type: arrow.PrimitiveTypes.Float64},
	{Name: "vwap", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
}, nil)

var tradeSchema = arrow.NewSchema([]arrow.Field{
	{Name: "id", Type: arrow.PrimitiveTypes.Int64},
	{Name: "date", Type: arrow.BinaryTypes.String},
	{Name: "entry_time_ms", Type: arrow.PrimitiveTypes.Int64},
	{Name: "exit_time_ms", Type: arrow.PrimitiveTypes.Int64},
	{Name: "direction", Type: arrow.BinaryTypes.String},
	{Name: "level", Type: arrow.BinaryTypes.String},
	{Name: "level_price", Type: arrow.PrimitiveTypes.Float64},
	{Name: "entry_price", Type: arrow.PrimitiveTypes.Float64},
	{Name: "exit_price", Type: arrow.PrimitiveTypes.Float64},
	{Name: "pnl_points", Type: arrow.PrimitiveTypes.Float64},
	{Name: "pnl", Type: arrow.PrimitiveTypes.Float64},
	{Name: "mfe", Type: arrow.PrimitiveTypes.Float64},
	{Name: "status", Type: arrow.BinaryTypes.String},
}, nil)

// NewPipeline creates a new Arrow pipeline
func NewPipeline(config Config, logger *zap.Logger) *Pipeline {
	if config.BatchSize <= 0 {
		config.BatchSize = 65536
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		config:     config,
		memoryPool: memory.NewGoAllocator(),
		logger:     logger,
	}
}

// ConvertBars encodes bars as an IPC stream, BatchSize rows per record
func (p *Pipeline) ConvertBars(bars []engine.Bar) ([]byte, error) {
	if len(bars) == 0 {
		return nil, ErrEmpty
	}
	var buf bytes.Buffer
	if err := p.WriteBars(&buf, bars); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (p *Pipeline) WriteBars(w io.Writer, bars []engine.Bar) error {
	writer := ipc.NewWriter(w, ipc.WithSchema(barSchema), ipc.WithAllocator(p.memoryPool))

	builder := array.NewRecordBuilder(p.memoryPool, barSchema)
	defer builder.Release()

	for start := 0; start < len(bars); start += p.config.BatchSize {
		end := min(start+p.config.BatchSize, len(bars))
		for _, b := range bars[start:end] {
			builder.Field(0).(*array.Int64Builder).Append(b.Time.UnixMilli())
			builder.Field(1).(*array.Float64Builder).Append(b.Open)
			builder.Field(2).(*array.Float64Builder).Append(b.High)
			builder.Field(3).(*array.Float64Builder).Append(b.Low)
			builder.Field(4).(*array.Float64Builder).Append(b.Close)
			vwap := builder.Field(5).(*array.Float64Builder)
			if b.HasVWAP {
				vwap.Append(b.VWAP)
			} else {
				vwap.AppendNull()
			}
		}
		record := builder.NewRecord()
		err := writer.Write(record)
		record.Release()
		if err != nil {
			writer.Close()
			return fmt.Errorf("failed to write Arrow record: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close Arrow writer: %w", err)
	}
	p.logger.Debug("Encoded bars", zap.Int("rows", len(bars)))
	return nil
}

// ConvertFromArrow decodes an IPC stream written by ConvertBars
func (p *Pipeline) ConvertFromArrow(data []byte) ([]engine.Bar, error) {
	reader, err := ipc.NewReader(bytes.NewReader(data), ipc.WithAllocator(p.memoryPool))
	if err != nil {
		return nil, fmt.Errorf("failed to open Arrow stream: %w", err)
	}
	defer reader.Release()

	if !reader.Schema().Equal(barSchema) {
		return nil, fmt.Errorf("unexpected schema: %s", reader.Schema())
	}

	var bars []engine.Bar
	for reader.Next() {
		rec := reader.Record()
		ts := rec.Column(0).(*array.Int64)
		open := rec.Column(1).(*array.Float64)
		high := rec.Column(2).(*array.Float64)
		low := rec.Column(3).(*array.Float64)
		closes := rec.Column(4).(*array.Float64)
		vwap := rec.Column(5).(*array.Float64)
		for i := 0; i < int(rec.NumRows()); i++ {
			b := engine.Bar{
				Time:  time.UnixMilli(ts.Value(i)).UTC(),
				Open:  open.Value(i),
				High:  high.Value(i),
				Low:   low.Value(i),
				Close: closes.Value(i),
			}
			if vwap.IsValid(i) {
				b.VWAP, b.HasVWAP = vwap.Value(i), true
			}
			bars = append(bars, b)
		}
	}
	if err := reader.Err(); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read Arrow record: %w", err)
	}
	return bars, nil
}

// WriteTrades encodes a trade list as a single-record IPC stream
func (p *Pipeline) WriteTrades(w io.Writer, trades []engine.Trade) error {
	builder := array.NewRecordBuilder(p.memoryPool, tradeSchema)
	defer builder.Release()

	for _, t := range trades {
		builder.Field(0).(*array.Int64Builder).Append(int64(t.ID))
		builder.Field(1).(*array.StringBuilder).Append(t.Date)
		builder.Field(2).(*array.Int64Builder).Append(t.EntryTime.UnixMilli())
		builder.Field(3).(*array.Int64Builder).Append(t.ExitTime.UnixMilli())
		builder.Field(4).(*array.StringBuilder).Append(t.Direction.String())
		builder.Field(5).(*array.StringBuilder).Append(string(t.LevelTag))
		builder.Field(6).(*array.Float64Builder).Append(t.LevelPrice)
		builder.Field(7).(*array.Float64Builder).Append(t.EntryPrice)
		builder.Field(8).(*array.Float64Builder).Append(t.ExitPrice)
		builder.Field(9).(*array.Float64Builder).Append(t.PnLPoints)
		builder.Field(10).(*array.Float64Builder).Append(t.PnL.InexactFloat64())
		builder.Field(11).(*array.Float64Builder).Append(t.MaxFavorable)
		builder.Field(12).(*array.StringBuilder).Append(t.Status.String())
	}

	record := builder.NewRecord()
	defer record.Release()

	writer := ipc.NewWriter(w, ipc.WithSchema(tradeSchema), ipc.WithAllocator(p.memoryPool))
	if err := writer.Write(record); err != nil {
		writer.Close()
		return fmt.Errorf("failed to write Arrow record: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close Arrow writer: %w", err)
	}
	p.logger.Debug("Encoded trades", zap.Int("rows", len(trades)))
	return nil
}

func (p *Pipeline) ConvertTrades(trades []engine.Trade) ([]byte, error) {
	var buf bytes.Buffer
	if err := p.WriteTrades(&buf, trades); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
