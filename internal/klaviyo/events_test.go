package klaviyo

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func toMap(t *testing.T, v interface{}) map[string]interface{} {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &m))
	return m
}

func TestBuildEventPayload(t *testing.T) {
	value := 9.99
	payload := toMap(t, BuildEventPayload(NewEvent{
		MetricName:    "Viewed Product",
		Profile:       map[string]interface{}{"email": "a@b.com"},
		Properties:    map[string]interface{}{"sku": "X"},
		Value:         &value,
		ValueCurrency: "USD",
		UniqueID:      "u-1",
	}))

	data := payload["data"].(map[string]interface{})
	assert.Equal(t, "event", data["type"])
	attrs := data["attributes"].(map[string]interface{})
	assert.Equal(t, "Viewed Product", attrs["metric"].(map[string]interface{})["name"])
	assert.Equal(t, "a@b.com", attrs["profile"].(map[string]interface{})["email"])
	assert.Equal(t, "X", attrs["properties"].(map[string]interface{})["sku"])
	assert.Equal(t, 9.99, attrs["value"])
	assert.Equal(t, "USD", attrs["value_currency"])
	assert.Equal(t, "u-1", attrs["unique_id"])
	assert.NotContains(t, attrs, "time")
}

func TestBuildEventPayload_EmptyMaps(t *testing.T) {
	attrs := toMap(t, BuildEventPayload(NewEvent{MetricName: "X"}))["data"].(map[string]interface{})["attributes"].(map[string]interface{})
	assert.Equal(t, map[string]interface{}{}, attrs["properties"])
	assert.Equal(t, map[string]interface{}{}, attrs["profile"])
}

func TestBuildBulkJobPayload(t *testing.T) {
	payload := toMap(t, BuildBulkJobPayload([]NewEvent{
		{MetricName: "A", Profile: map[string]interface{}{"email": "a@b.com"}},
		{MetricName: "B", Profile: map[string]interface{}{"email": "c@d.com"}, Time: "2025-01-01T00:00:00Z"},
	}))

	data := payload["data"].(map[string]interface{})
	assert.Equal(t, "event-bulk-create-job", data["type"])
	entries := data["attributes"].(map[string]interface{})["events-bulk-create"].(map[string]interface{})["data"].([]interface{})
	require.Len(t, entries, 2)

	second := entries[1].(map[string]interface{})["attributes"].(map[string]interface{})
	profile := second["profile"].(map[string]interface{})["data"].(map[string]interface{})
	assert.Equal(t, "c@d.com", profile["attributes"].(map[string]interface{})["email"])
	events := second["events"].(map[string]interface{})["data"].([]interface{})
	require.Len(t, events, 1)
	ev := events[0].(map[string]interface{})["attributes"].(map[string]interface{})
	metric := ev["metric"].(map[string]interface{})["data"].(map[string]interface{})
	assert.Equal(t, "B", metric["attributes"].(map[string]interface{})["name"])
	assert.Equal(t, "2025-01-01T00:00:00Z", ev["time"])
}

func TestLinearBackOff(t *testing.T) {
	b := NewLinearBackOff(time.Second, 3)
	assert.Equal(t, time.Second, b.NextBackOff())
	assert.Equal(t, 2*time.Second, b.NextBackOff())
	assert.Equal(t, 3*time.Second, b.NextBackOff())
	assert.Equal(t, time.Duration(-1), b.NextBackOff())
	b.Reset()
	assert.Equal(t, time.Second, b.NextBackOff())
}

func TestDay(t *testing.T) {
	w := Day(time.Date(2025, 1, 1, 23, 30, 0, 0, time.FixedZone("EST", -5*3600)))
	assert.Equal(t, time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), *w.Start)
	assert.Equal(t, time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC), *w.End)
}
