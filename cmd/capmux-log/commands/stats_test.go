package commands

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/capmux/capmux-go/pkg/log"
	"github.com/capmux/capmux-go/pkg/wire"
)

func runStats(t *testing.T, events []log.Event) string {
	t.Helper()
	path := createTestLogFile(t, events)
	var buf bytes.Buffer
	if err := RunStats(path, &buf); err != nil {
		t.Fatalf("RunStats failed: %v", err)
	}
	return buf.String()
}

func TestStatsCountsByLayer(t *testing.T) {
	ts := time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC)
	output := runStats(t, []log.Event{
		{Timestamp: ts, ConnectionID: "c1", Layer: log.LayerTransport},
		{Timestamp: ts, ConnectionID: "c1", Layer: log.LayerTransport},
		{Timestamp: ts, ConnectionID: "c1", Layer: log.LayerSession},
		{Timestamp: ts, ConnectionID: "c1", Layer: log.LayerHost},
	})

	if !strings.Contains(output, "TRANSPORT:   2") {
		t.Errorf("expected 2 transport events, got:\n%s", output)
	}
	if !strings.Contains(output, "SESSION:     1") {
		t.Errorf("expected 1 session event, got:\n%s", output)
	}
	if !strings.Contains(output, "HOST:        1") {
		t.Errorf("expected 1 host event, got:\n%s", output)
	}
}

func TestStatsCountsConnections(t *testing.T) {
	ts := time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC)
	output := runStats(t, []log.Event{
		{Timestamp: ts, ConnectionID: "conn-aaaa-1", NodeID: "0011223344556677", LocalRole: log.RoleInitiator},
		{Timestamp: ts.Add(time.Second), ConnectionID: "conn-bbbb-2"},
		{Timestamp: ts.Add(2 * time.Second), ConnectionID: "conn-aaaa-1"},
	})

	if !strings.Contains(output, "Connections: 2") {
		t.Errorf("expected 2 connections, got:\n%s", output)
	}
	if !strings.Contains(output, "[conn-aaa] INITIATOR 2 events") {
		t.Errorf("expected initiator connection summary, got:\n%s", output)
	}
	if !strings.Contains(output, "Node: 00112233") {
		t.Errorf("expected shortened node ID, got:\n%s", output)
	}
}

func TestStatsTimeRange(t *testing.T) {
	start := time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC)
	output := runStats(t, []log.Event{
		{Timestamp: start.Add(time.Minute), ConnectionID: "c1"},
		{Timestamp: start, ConnectionID: "c1"},
		{Timestamp: start.Add(5 * time.Minute), ConnectionID: "c1"},
	})

	if !strings.Contains(output, "Time Range: 2026-01-28T10:00:00Z to 2026-01-28T10:05:00Z") {
		t.Errorf("unexpected time range, got:\n%s", output)
	}
	if !strings.Contains(output, "Duration:   5m0s") {
		t.Errorf("unexpected duration, got:\n%s", output)
	}
}

func TestStatsTrafficAndDisconnects(t *testing.T) {
	ts := time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC)
	reason := uint8(wire.DisconnectPingTimeout)
	rtt := 3 * time.Millisecond
	output := runStats(t, []log.Event{
		{Timestamp: ts, ConnectionID: "c1", Direction: log.DirectionIn, Frame: &log.FrameEvent{Size: 100}},
		{Timestamp: ts, ConnectionID: "c1", Direction: log.DirectionOut, Frame: &log.FrameEvent{Size: 40}},
		{Timestamp: ts, ConnectionID: "c1", Packet: &log.PacketEvent{ProtocolID: 0x10, Dropped: true}},
		{Timestamp: ts, ConnectionID: "c1", Packet: &log.PacketEvent{ProtocolID: 0x10}},
		{Timestamp: ts, ConnectionID: "c1", Category: log.CategoryControl,
			ControlMsg: &log.ControlMsgEvent{Type: log.ControlMsgPong, RTT: &rtt}},
		{Timestamp: ts, ConnectionID: "c1", Category: log.CategoryControl,
			ControlMsg: &log.ControlMsgEvent{Type: log.ControlMsgDisconnect, Reason: &reason}},
	})

	checks := []string{
		"Bytes: in=100 out=40",
		"Dropped packets: 1",
		"0x0010:      2",
		"ping timeout: 1",
		"Max RTT: 3.000ms",
	}
	for _, want := range checks {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output:\n%s", want, output)
		}
	}
}

func TestStatsErrorCount(t *testing.T) {
	ts := time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC)
	output := runStats(t, []log.Event{
		{Timestamp: ts, ConnectionID: "c1", Category: log.CategoryError,
			Error: &log.ErrorEventData{Layer: log.LayerSession, Message: "boom"}},
		{Timestamp: ts, ConnectionID: "c1", Category: log.CategoryError,
			Error: &log.ErrorEventData{Layer: log.LayerTransport, Message: "eof"}},
	})

	if !strings.Contains(output, "Errors: 2") {
		t.Errorf("expected 2 errors, got:\n%s", output)
	}
}

func TestStatsEmptyLog(t *testing.T) {
	output := runStats(t, nil)
	if !strings.Contains(output, "Total Events: 0") {
		t.Errorf("expected zero events, got:\n%s", output)
	}
	if strings.Contains(output, "Time Range") {
		t.Errorf("empty log should not print a time range:\n%s", output)
	}
}
