package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/soyunomas/pycast/internal/session"
)

func collectOne(t *testing.T, c *SessionCollector, name string) float64 {
	t.Helper()

	descs := make(chan *prometheus.Desc, 16)
	c.Describe(descs)
	close(descs)
	if count := len(descs); count == 0 {
		t.Fatal("Describe sent no descriptors")
	}

	ch := make(chan prometheus.Metric, 16)
	c.Collect(ch)
	close(ch)

	for m := range ch {
		var pb dto.Metric
		if err := m.Write(&pb); err != nil {
			t.Fatalf("Write: %v", err)
		}
		desc := m.Desc().String()
		if containsSubstring(desc, name) {
			if pb.Counter != nil {
				return pb.Counter.GetValue()
			}
			if pb.Gauge != nil {
				return pb.Gauge.GetValue()
			}
		}
	}
	t.Fatalf("metric %q not found", name)
	return 0
}

func containsSubstring(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}

func TestSessionCollectorRecordsCounters(t *testing.T) {
	sid, err := session.NewID()
	if err != nil {
		t.Fatalf("session.NewID: %v", err)
	}
	c := NewSessionCollector(sid)

	c.SetBlocksTotal(10)
	c.RecordBlockConfirmed()
	c.RecordBlockConfirmed()
	c.RecordRepairRounds(3)
	c.RecordNack(2)
	c.AddBytesTransferred(4096)

	if got := collectOne(t, c, "pycast_blocks_total"); got != 10 {
		t.Errorf("blocks_total = %v, want 10", got)
	}
	if got := collectOne(t, c, "pycast_blocks_confirmed_total"); got != 2 {
		t.Errorf("blocks_confirmed_total = %v, want 2", got)
	}
	if got := collectOne(t, c, "pycast_repair_rounds_spent_total"); got != 3 {
		t.Errorf("repair_rounds_spent_total = %v, want 3", got)
	}
	if got := collectOne(t, c, "pycast_nacks_received_total"); got != 2 {
		t.Errorf("nacks_received_total = %v, want 2", got)
	}
	if got := collectOne(t, c, "pycast_bytes_transferred_total"); got != 4096 {
		t.Errorf("bytes_transferred_total = %v, want 4096", got)
	}
}
