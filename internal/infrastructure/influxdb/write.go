package influxdb

import (
	"sort"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementDeviceState is the measurement holding device state readings.
const MeasurementDeviceState = "device_state"

// WriteDeviceState writes the numeric and boolean fields of a device state
// as one point tagged with device_id. Other values (strings, nested maps,
// records) are not time-series data and are skipped. Nothing is written
// when no field qualifies.
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Example:
//
//	client.WriteDeviceState("amp-1", map[string]any{"level": 42.0, "muted": false})
func (c *Client) WriteDeviceState(deviceID string, state map[string]any) {
	if !c.IsConnected() {
		return
	}

	point, ok := statePoint(deviceID, state, time.Now())
	if !ok {
		return
	}
	c.writeAPI.WritePoint(point)
}

// statePoint builds the device_state point for state.
func statePoint(deviceID string, state map[string]any, ts time.Time) (*write.Point, bool) {
	keys := make([]string, 0, len(state))
	for k := range state {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make(map[string]any)
	for _, k := range keys {
		if v, ok := fieldValue(state[k]); ok {
			fields[k] = v
		}
	}
	if len(fields) == 0 {
		return nil, false
	}

	return write.NewPoint(
		MeasurementDeviceState,
		map[string]string{"device_id": deviceID},
		fields,
		ts,
	), true
}

// fieldValue converts a state value to an InfluxDB field value.
func fieldValue(v any) (any, bool) {
	switch n := v.(type) {
	case bool:
		return n, true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return nil, false
	}
}
