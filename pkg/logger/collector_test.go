package logger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	mu      sync.Mutex
	batches [][]AggregatedLogEntry
}

func (p *capturePublisher) PublishMessage(_ context.Context, _ string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, payload.([]AggregatedLogEntry))
	return nil
}

func (p *capturePublisher) total() (batches, count int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, b := range p.batches {
		for _, e := range b {
			count += e.Count
		}
	}
	return len(p.batches), count
}

func TestCollectorDeduplicatesAndFlushesOnClose(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 100, Topic: "alerts", Publisher: pub})

	for i := 0; i < 3; i++ {
		c.AddLog("error", "confirm failed", map[string]interface{}{"account": "a1"}, "x.go:1")
	}
	c.AddLog("error", "confirm failed", map[string]interface{}{"account": "a2"}, "x.go:1")
	assert.Equal(t, 2, c.Pending())

	c.Close()
	batches, count := pub.total()
	require.Equal(t, 1, batches)
	assert.Equal(t, 4, count)
	assert.Equal(t, 0, c.Pending())
}

func TestLoggerErrorFeedsCollector(t *testing.T) {
	pub := &capturePublisher{}
	l := Nop()
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 10, Publisher: pub})

	l.Error("send failed", String("account", "a1"), Error(errors.New("boom")))
	l.Warn("ignored by collector")
	require.Equal(t, 1, l.collector.Pending())

	l.RemoveCollector()
	_, count := pub.total()
	assert.Equal(t, 1, count)
}
