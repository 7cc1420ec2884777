package jsonl

import (
	"context"

	"market-depth-engine/internal/core/model"
)

// PriceSink 把每轮 USD 定价结果逐条写入 JSONL
type PriceSink struct {
	w *Writer
}

// NewPriceSink 创建价格输出端
func NewPriceSink(w *Writer) *PriceSink {
	return &PriceSink{w: w}
}

// WritePrices 写入一轮定价结果
func (s *PriceSink) WritePrices(ctx context.Context, ticks []model.PriceTick) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return WriteAll(s.w, ticks)
}

// SampleSink 把订单簿采样逐条写入 JSONL
type SampleSink struct {
	w *Writer
}

// NewSampleSink 创建采样输出端
func NewSampleSink(w *Writer) *SampleSink {
	return &SampleSink{w: w}
}

// WriteSamples 写入一轮采样
func (s *SampleSink) WriteSamples(ctx context.Context, samples []model.DepthSample) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return WriteAll(s.w, samples)
}
