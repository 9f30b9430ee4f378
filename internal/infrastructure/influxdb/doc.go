// Package influxdb writes device state to InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. Every real state
// change becomes one point in the device_state measurement, tagged with
// device_id, carrying the numeric and boolean state fields.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteDeviceState("amp-1", map[string]any{"level": 42.0})
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are delivered to the
// SetOnError callback. Connection and health check errors are returned directly.
package influxdb
