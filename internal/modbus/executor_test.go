package modbus

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/nodelink/gateway/internal/tracing"
)

func TestExecutorRunDecodesHappyPath(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		req := make([]byte, 12)
		if _, err := server.Read(req); err != nil {
			return
		}
		txID := uint16(req[0])<<8 | uint16(req[1])
		// two holding registers: 0x0001, 0x0002
		payload := append([]byte{4}, 0x00, 0x01, 0x00, 0x02)
		resp := EncodeTCPRequest(txID, req[6], req[7], payload)
		_, _ = server.Write(resp)
	}()

	conn := &Connection{}
	conn.conn = client

	points := []Point{
		{SlaveID: 1, Area: AreaHoldingRegister, StartAddress: 0, DataType: TypeUint16, Name: "a"},
		{SlaveID: 1, Area: AreaHoldingRegister, StartAddress: 1, DataType: TypeUint16, Name: "b"},
	}
	cmds := SortTags(points, maxRegistersPerCommand)
	if len(cmds) != 1 {
		t.Fatalf("expected 1 command, got %d", len(cmds))
	}

	exec := NewExecutor(conn, RetryPolicy{MaxRetries: 1, IntervalMs: 1}, NewDegradeTracker(3, time.Minute), 2*time.Second, nil)
	result := exec.Run(context.Background(), cmds[0], "")

	if result.Command != StateDecoded {
		t.Fatalf("expected DECODED, got %s (err=%v)", result.Command, result.Err)
	}
	if len(result.Samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(result.Samples))
	}
	if result.Samples[0].Value.Scalar.(uint64) != 1 || result.Samples[1].Value.Scalar.(uint64) != 2 {
		t.Fatalf("unexpected decoded values: %+v", result.Samples)
	}
}

func TestExecutorWriteTagSingleRegister(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		req := make([]byte, 12)
		if _, err := server.Read(req); err != nil {
			return
		}
		txID := uint16(req[0])<<8 | uint16(req[1])
		resp := EncodeTCPRequest(txID, req[6], req[7], req[8:12])
		_, _ = server.Write(resp)
	}()

	conn := &Connection{}
	conn.conn = client

	p := Point{SlaveID: 1, Area: AreaHoldingRegister, StartAddress: 5, DataType: TypeUint16, Name: "setpoint"}
	exec := NewExecutor(conn, RetryPolicy{MaxRetries: 1, IntervalMs: 1}, NewDegradeTracker(3, time.Minute), 2*time.Second, nil)

	if err := exec.WriteTag(context.Background(), p, uint64(7), ""); err != nil {
		t.Fatalf("WriteTag: %v", err)
	}
}

func TestExecutorWriteTagEmitsTracingSpans(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		req := make([]byte, 12)
		if _, err := server.Read(req); err != nil {
			return
		}
		txID := uint16(req[0])<<8 | uint16(req[1])
		resp := EncodeTCPRequest(txID, req[6], req[7], req[8:12])
		_, _ = server.Write(resp)
	}()

	conn := &Connection{}
	conn.conn = client

	side := tracing.NewSidecar(true, "test")
	handle := strings.Repeat("a", 32) + strings.Repeat("b", 16) // trace_id + parent span_id
	side.StartRootSpan(handle, "app recv")

	p := Point{SlaveID: 1, Area: AreaHoldingRegister, StartAddress: 5, DataType: TypeUint16, Name: "setpoint"}
	exec := NewExecutor(conn, RetryPolicy{MaxRetries: 1, IntervalMs: 1}, NewDegradeTracker(3, time.Minute), 2*time.Second, side)

	if err := exec.WriteTag(context.Background(), p, uint64(7), handle); err != nil {
		t.Fatalf("WriteTag: %v", err)
	}
	if !side.Find(handle) {
		t.Fatal("expected the trace context to remain live until its root span is itself finalized")
	}
}

func TestExecutorRunSkipsWhenDegraded(t *testing.T) {
	conn := &Connection{}
	degrade := NewDegradeTracker(1, time.Hour)
	degrade.RecordFailure(1)

	exec := NewExecutor(conn, RetryPolicy{MaxRetries: 0, IntervalMs: 1}, degrade, time.Second, nil)
	result := exec.Run(context.Background(), ReadCommand{SlaveID: 1}, "")

	if result.Command != StateSkipped {
		t.Fatalf("expected SKIPPED when degraded, got %s", result.Command)
	}
	if result.Err != nil {
		t.Fatalf("a skipped cycle must not carry an error (tags stay stale, not errored), got %v", result.Err)
	}
}
