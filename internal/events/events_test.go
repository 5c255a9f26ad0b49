// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/OnlyFart/ElsParsers/pkg/types"
)

func TestNewLinkEvent(t *testing.T) {
	src := &types.CatalogRecord{ID: "a", SourceName: "lan", ExternalID: "1"}
	dst := &types.CatalogRecord{ID: "b", SourceName: "znanium", ExternalID: "7"}

	ev := NewLinkEvent("run-1", src, dst, 0.25)
	assert.Equal(t, LinkEvent{
		EventType:        EventLinkCreated,
		RunID:            "run-1",
		SourceID:         "a",
		SourceName:       "lan",
		SourceExternalID: "1",
		TargetID:         "b",
		TargetName:       "znanium",
		TargetExternalID: "7",
		Coefficient:      0.25,
	}, ev)
}

func TestMessages(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	stamped := now.Add(-time.Hour)
	evs := []LinkEvent{
		{EventType: EventLinkCreated, SourceID: "a", SourceName: "lan", TargetID: "b"},
		{EventType: EventLinkCreated, SourceID: "b", SourceName: "znanium", TargetID: "a", Timestamp: stamped},
	}

	msgs, err := messages("els.similarity-links", now, evs)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.Equal(t, "els.similarity-links", msgs[0].Topic)
	assert.Equal(t, []byte("a"), msgs[0].Key)
	assert.Equal(t, "source_name", msgs[1].Headers[1].Key)
	assert.Equal(t, []byte("znanium"), msgs[1].Headers[1].Value)

	var decoded LinkEvent
	require.NoError(t, json.Unmarshal(msgs[0].Value, &decoded))
	assert.True(t, decoded.Timestamp.Equal(now), "missing timestamps are stamped")
	require.NoError(t, json.Unmarshal(msgs[1].Value, &decoded))
	assert.True(t, decoded.Timestamp.Equal(stamped))
}

func TestNew_DisabledIsNop(t *testing.T) {
	p := New(types.EventsConfig{Enabled: false}, nil)
	assert.IsType(t, Nop{}, p)
	assert.NoError(t, p.Publish(context.Background(), LinkEvent{}))
	assert.NoError(t, p.Close())
}

func TestKafkaPublisher_EmptyBatch(t *testing.T) {
	p := NewKafkaPublisher(types.EventsConfig{Brokers: []string{"127.0.0.1:1"}, Topic: "t"}, nil)
	assert.NoError(t, p.Publish(context.Background()), "nothing is sent for an empty batch")
	assert.NoError(t, p.Close())
}

func TestKafkaPublisher_WritesAsync(t *testing.T) {
	p := NewKafkaPublisher(types.EventsConfig{Brokers: []string{"127.0.0.1:1"}, Topic: "t", BatchTimeout: time.Second}, nil)
	defer p.Close()

	assert.True(t, p.writer.Async, "a publish must not wait for the batch timeout")
	require.NotNil(t, p.writer.Completion)

	start := time.Now()
	require.NoError(t, p.Publish(context.Background(), LinkEvent{EventType: EventLinkCreated, SourceID: "a"}))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestKafkaPublisher_CompletionLogsFailures(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	p := NewKafkaPublisher(types.EventsConfig{Brokers: []string{"127.0.0.1:1"}, Topic: "t"}, zap.New(core))
	defer p.Close()

	p.writer.Completion([]kafka.Message{{}, {}}, errors.New("broker unreachable"))
	p.writer.Completion([]kafka.Message{{}}, nil)

	failed := logs.FilterMessage("delivering link events").All()
	require.Len(t, failed, 1)
	assert.Equal(t, zap.ErrorLevel, failed[0].Level)
	assert.Equal(t, int64(2), failed[0].ContextMap()["count"])
	assert.Equal(t, 1, logs.FilterMessage("delivered link events").Len())
}
