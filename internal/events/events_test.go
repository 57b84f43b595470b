package events_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/readlater/readlater/internal/events"
)

func TestNewEvent_Envelope(t *testing.T) {
	ev, err := events.NewEvent("export-part-complete", "readlater.export", map[string]string{
		"encodedId": "abc",
		"service":   "list",
	})
	require.NoError(t, err)

	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var envelope map[string]any
	require.NoError(t, json.Unmarshal(data, &envelope))
	assert.Equal(t, "export-part-complete", envelope["detail-type"])
	assert.Equal(t, "readlater.export", envelope["source"])
	assert.NotEmpty(t, envelope["time"])
	assert.Equal(t, map[string]any{"encodedId": "abc", "service": "list"}, envelope["detail"])

	var detail struct {
		EncodedID string `json:"encodedId"`
	}
	require.NoError(t, ev.DecodeDetail(&detail))
	assert.Equal(t, "abc", detail.EncodedID)
}

func TestMemoryPublisher(t *testing.T) {
	p := events.NewMemoryPublisher()
	ev, err := events.NewEvent("export-part-complete", "test", struct{}{})
	require.NoError(t, err)

	require.NoError(t, p.SendEvent(context.Background(), ev))
	require.NoError(t, p.SendEvent(context.Background(), ev))
	assert.Len(t, p.Events(), 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, p.SendEvent(ctx, ev))
}
