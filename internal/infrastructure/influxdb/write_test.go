package influxdb

import (
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

type fakeWriter struct {
	mu      sync.Mutex
	points  []*write.Point
	flushes int
}

func (w *fakeWriter) WritePoint(p *write.Point) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.points = append(w.points, p)
}

func (w *fakeWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flushes++
}

func (w *fakeWriter) counts() (points, flushes int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.points), w.flushes
}

func lineProtocol(p *write.Point) string {
	return write.PointToLineProtocol(p, time.Nanosecond)
}

// TestStatePoint verifies only numeric and boolean state fields become point fields.
func TestStatePoint(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	state := map[string]any{
		"id":           "amp-1",
		"name":         "Amplifier",
		"level":        42.5,
		"muted":        true,
		"channel":      3,
		"input":        "hdmi1",
		"last_command": map[string]any{"action": "set_volume"},
		"error":        nil,
	}

	point, ok := statePoint("amp-1", state, ts)
	if !ok {
		t.Fatal("statePoint() ok = false, want true")
	}

	line := lineProtocol(point)
	for _, want := range []string{"device_state,device_id=amp-1 ", "level=42.5", "muted=true"} {
		if !strings.Contains(line, want) {
			t.Errorf("line = %q, want it to contain %q", line, want)
		}
	}
	if !regexp.MustCompile(`channel=3(\.0)?[ ,]`).MatchString(line) {
		t.Errorf("line = %q, want channel=3", line)
	}
	for _, unwanted := range []string{"input", "last_command", "Amplifier"} {
		if strings.Contains(line, unwanted) {
			t.Errorf("line = %q, should not contain %q", line, unwanted)
		}
	}
}

// TestStatePointWithoutFields verifies states without numeric fields produce no point.
func TestStatePointWithoutFields(t *testing.T) {
	if _, ok := statePoint("amp-1", map[string]any{"power": "on"}, time.Now()); ok {
		t.Error("statePoint() ok = true for a state without numeric fields")
	}
	if _, ok := statePoint("amp-1", nil, time.Now()); ok {
		t.Error("statePoint() ok = true for a nil state")
	}
}

// TestWriteDeviceState verifies writes, flushes and the closed-client behaviour.
func TestWriteDeviceState(t *testing.T) {
	w := &fakeWriter{}
	c := newClient(w)

	c.WriteDeviceState("amp-1", map[string]any{"level": 10.0})
	c.WriteDeviceState("amp-1", map[string]any{"power": "on"})
	if points, _ := w.counts(); points != 1 {
		t.Fatalf("points = %d, want 1", points)
	}

	c.Flush()
	if _, flushes := w.counts(); flushes != 1 {
		t.Errorf("flushes = %d, want 1", flushes)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after Close")
	}
	if _, flushes := w.counts(); flushes != 2 {
		t.Errorf("flushes = %d, want 2 after Close", flushes)
	}

	// Writes after Close are dropped.
	c.WriteDeviceState("amp-1", map[string]any{"level": 11.0})
	c.Flush()
	if points, flushes := w.counts(); points != 1 || flushes != 2 {
		t.Errorf("after Close points = %d flushes = %d, want 1 and 2", points, flushes)
	}
}

// TestHealthCheckWithoutServer verifies a client without a server is not healthy.
func TestHealthCheckWithoutServer(t *testing.T) {
	c := newClient(&fakeWriter{})
	if err := c.HealthCheck(t.Context()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

// TestCloseNilClient verifies Close on a nil client is safe.
func TestCloseNilClient(t *testing.T) {
	var c *Client
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

// TestWriteErrorsReachCallback verifies asynchronous write errors reach the callback.
func TestWriteErrorsReachCallback(t *testing.T) {
	c := newClient(&fakeWriter{})

	got := make(chan error, 1)
	c.SetOnError(func(err error) { got <- err })

	errs := make(chan error, 1)
	go c.handleWriteErrors(errs)
	errs <- ErrWriteFailed
	close(errs)

	select {
	case err := <-got:
		if !errors.Is(err, ErrWriteFailed) {
			t.Errorf("callback error = %v, want ErrWriteFailed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("callback not called")
	}
}
