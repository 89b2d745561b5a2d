package modbus

import (
	"context"
	"io"
	"net"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/nodelink/gateway/internal/core"
	"github.com/nodelink/gateway/internal/gatewayerr"
	"github.com/nodelink/gateway/internal/tracing"
)

// CommandState is a ReadCommand's execution state, spec §4.8's
// IDLE->SENT->WAIT_HEADER/WAIT_FRAME->DECODED/DEVICE_ERR/TIMEOUT/DECODE_ERR
// machine.
type CommandState string

const (
	StateIdle       CommandState = "IDLE"
	StateSent       CommandState = "SENT"
	StateWaitHeader CommandState = "WAIT_HEADER"
	StateWaitFrame  CommandState = "WAIT_FRAME"
	StateDecoded    CommandState = "DECODED"
	StateDeviceErr  CommandState = "DEVICE_ERR"
	StateTimeout    CommandState = "TIMEOUT"
	StateDecodeErr  CommandState = "DECODE_ERR"

	// StateSkipped marks a command dropped at the scheduler level because
	// its slave is currently degraded (spec §4.8: skipped, not errored —
	// tag values stay stale rather than getting an error sample).
	StateSkipped CommandState = "SKIPPED"
)

// Executor runs ReadCommands over a Connection, applying RetryPolicy and
// DegradeTracker, and decodes responses into TagSamples.
type Executor struct {
	conn    *Connection
	retry   RetryPolicy
	degrade *DegradeTracker
	timeout time.Duration
	side    *tracing.Sidecar

	nextTxID uint16
}

// NewExecutor builds an Executor bound to conn, retry, and degrade. side may
// be nil, in which case the executor never emits spans (equivalent to a
// disabled Sidecar).
func NewExecutor(conn *Connection, retry RetryPolicy, degrade *DegradeTracker, timeout time.Duration, side *tracing.Sidecar) *Executor {
	if side == nil {
		side = tracing.NewSidecar(false, "")
	}
	return &Executor{conn: conn, retry: retry, degrade: degrade, timeout: timeout, side: side}
}

// startSpan records a new span against traceHandle named name, parented at
// the handle's own external parent span ID, and returns its span ID (empty
// if tracing is off or traceHandle is unset).
func (e *Executor) startSpan(traceHandle, name string) string {
	if traceHandle == "" || !e.side.Enabled() {
		return ""
	}
	_, parentSpanID := tracing.SplitHandle(traceHandle)
	return e.side.AddSpan(traceHandle, name, parentSpanID)
}

// finishSpan records err's outcome on spanID and marks it final.
func (e *Executor) finishSpan(traceHandle, spanID string, err error) {
	if spanID == "" {
		return
	}
	if err != nil {
		e.side.SetStatus(traceHandle, spanID, codes.Error, err.Error())
	} else {
		e.side.SetStatus(traceHandle, spanID, codes.Ok, "")
	}
	e.side.SetFinal(traceHandle, spanID)
}

// CommandResult is one executed ReadCommand's outcome.
type CommandResult struct {
	Command CommandState
	Samples []core.TagSample
	Err     error
}

// Run executes cmd against the slave over TCP, retrying per Executor.retry
// and consulting the DegradeTracker before attempting. State transitions
// follow spec §4.8: IDLE -> SENT -> WAIT_HEADER -> WAIT_FRAME -> DECODED
// on success, or DEVICE_ERR / TIMEOUT / DECODE_ERR on failure.
func (e *Executor) Run(ctx context.Context, cmd ReadCommand, traceHandle string) CommandResult {
	if e.degrade.Skipped(cmd.SlaveID) {
		return CommandResult{Command: StateSkipped}
	}

	var lastErr error
	var state CommandState
	var payload []byte
	for attempt := 0; ; attempt++ {
		state, payload, lastErr = e.attempt(ctx, cmd, traceHandle)
		if state == StateDecoded {
			e.degrade.RecordSuccess(cmd.SlaveID)
			break
		}
		e.degrade.RecordFailure(cmd.SlaveID)
		// Only a sent request whose response was missing or malformed is
		// retried; a failed dial/write or an exception response is not.
		if state == StateSent || state == StateDeviceErr || !e.retry.ShouldRetry(attempt) {
			break
		}
		if err := e.retry.Wait(ctx); err != nil {
			lastErr = err
			break
		}
	}

	if state != StateDecoded {
		return CommandResult{Command: state, Err: lastErr}
	}

	samples, err := e.decodeSamples(cmd, payload)
	if err != nil {
		return CommandResult{Command: StateDecodeErr, Err: err}
	}
	return CommandResult{Command: StateDecoded, Samples: samples}
}

func (e *Executor) attempt(ctx context.Context, cmd ReadCommand, traceHandle string) (CommandState, []byte, error) {
	if err := e.conn.Ensure(ctx); err != nil {
		return StateDeviceErr, nil, err
	}

	funcCode := FuncReadHoldingRegisters
	if cmd.Area == AreaInputRegister {
		funcCode = FuncReadInputRegisters
	}
	payload := []byte{byte(cmd.StartAddress >> 8), byte(cmd.StartAddress), byte(cmd.Count >> 8), byte(cmd.Count)}
	txID := e.nextTxID
	e.nextTxID++
	req := EncodeTCPRequest(txID, byte(cmd.SlaveID), funcCode, payload)

	conn := e.conn.Conn()
	_ = conn.SetDeadline(time.Now().Add(e.timeout))

	sendSpan := e.startSpan(traceHandle, "driver cmd send")
	if _, err := conn.Write(req); err != nil {
		e.conn.Fail()
		e.finishSpan(traceHandle, sendSpan, err)
		return StateSent, nil, err
	}
	e.finishSpan(traceHandle, sendSpan, nil)

	recvSpan := e.startSpan(traceHandle, "driver cmd recv")
	header := make([]byte, 6)
	if err := readFull(conn, header); err != nil {
		e.conn.Fail()
		e.finishSpan(traceHandle, recvSpan, err)
		if isTimeout(err) {
			return StateTimeout, nil, err
		}
		return StateWaitHeader, nil, err
	}
	length := int(header[4])<<8 | int(header[5])
	if length < 2 || length > maxTCPFrameLen {
		e.conn.Fail()
		err := gatewayerr.New(gatewayerr.CodePluginProtocolDecodeFailure, "oversized tcp length header")
		e.finishSpan(traceHandle, recvSpan, err)
		return StateDecodeErr, nil, err
	}

	body := make([]byte, length)
	if err := readFull(conn, body); err != nil {
		e.conn.Fail()
		e.finishSpan(traceHandle, recvSpan, err)
		if isTimeout(err) {
			return StateTimeout, nil, err
		}
		return StateWaitFrame, nil, err
	}

	frame := append(header, body...)
	_, _, funcResp, respPayload, err := DecodeTCPResponse(frame)
	if err != nil {
		e.finishSpan(traceHandle, recvSpan, err)
		return StateDecodeErr, nil, err
	}
	if IsExceptionResponse(funcResp) {
		err := gatewayerr.New(gatewayerr.CodePluginDeviceNotResponse, "device returned exception response")
		e.finishSpan(traceHandle, recvSpan, err)
		return StateDeviceErr, nil, err
	}

	e.finishSpan(traceHandle, recvSpan, nil)
	return StateDecoded, respPayload, nil
}

func (e *Executor) decodeSamples(cmd ReadCommand, payload []byte) ([]core.TagSample, error) {
	if len(payload) < 1 {
		return nil, gatewayerr.New(gatewayerr.CodePluginProtocolDecodeFailure, "empty response payload")
	}
	raw := payload[1:] // skip byte-count prefix

	samples := make([]core.TagSample, 0, len(cmd.Points))
	for _, p := range cmd.Points {
		offset := (p.StartAddress - cmd.StartAddress) * 2
		span := p.registerSpan() * 2
		if offset+span > len(raw) {
			return nil, gatewayerr.New(gatewayerr.CodePluginProtocolDecodeFailure, "response too short for point "+p.Name)
		}
		val, err := DecodeValue(p, raw[offset:offset+span])
		if err != nil {
			return nil, err
		}
		samples = append(samples, core.TagSample{
			Name:  p.Name,
			Value: core.TagValue{Scalar: val},
		})
	}
	return samples, nil
}

// WriteTag encodes v for point p and writes it to the slave, using
// FC06 for a single register and FC16 for a point spanning more than one
// (spec §4.8: writes go through the same connection/retry machinery as
// reads, but are not subject to the DegradeTracker's read-cycle skip).
func (e *Executor) WriteTag(ctx context.Context, p Point, v any, traceHandle string) error {
	encoded, err := EncodeValue(p, v)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = e.writeAttempt(ctx, p, encoded, traceHandle)
		if lastErr == nil {
			return nil
		}
		if !e.retry.ShouldRetry(attempt) {
			return lastErr
		}
		if err := e.retry.Wait(ctx); err != nil {
			return err
		}
	}
}

func (e *Executor) writeAttempt(ctx context.Context, p Point, encoded []byte, traceHandle string) error {
	if err := e.conn.Ensure(ctx); err != nil {
		return err
	}

	regCount := p.registerSpan()
	var payload []byte
	funcCode := FuncWriteSingleRegister
	if regCount > 1 {
		funcCode = FuncWriteMultiRegisters
		payload = []byte{
			byte(p.StartAddress >> 8), byte(p.StartAddress),
			byte(regCount >> 8), byte(regCount),
			byte(len(encoded)),
		}
		payload = append(payload, encoded...)
	} else {
		payload = []byte{byte(p.StartAddress >> 8), byte(p.StartAddress)}
		payload = append(payload, encoded...)
	}

	txID := e.nextTxID
	e.nextTxID++
	req := EncodeTCPRequest(txID, byte(p.SlaveID), funcCode, payload)

	conn := e.conn.Conn()
	_ = conn.SetDeadline(time.Now().Add(e.timeout))

	sendSpan := e.startSpan(traceHandle, "driver cmd send")
	if _, err := conn.Write(req); err != nil {
		e.conn.Fail()
		e.finishSpan(traceHandle, sendSpan, err)
		return err
	}
	e.finishSpan(traceHandle, sendSpan, nil)

	recvSpan := e.startSpan(traceHandle, "driver cmd recv")
	header := make([]byte, 6)
	if err := readFull(conn, header); err != nil {
		e.conn.Fail()
		e.finishSpan(traceHandle, recvSpan, err)
		return err
	}
	length := int(header[4])<<8 | int(header[5])
	if length < 2 || length > maxTCPFrameLen {
		e.conn.Fail()
		err := gatewayerr.New(gatewayerr.CodePluginProtocolDecodeFailure, "oversized tcp length header")
		e.finishSpan(traceHandle, recvSpan, err)
		return err
	}
	body := make([]byte, length)
	if err := readFull(conn, body); err != nil {
		e.conn.Fail()
		e.finishSpan(traceHandle, recvSpan, err)
		return err
	}

	_, _, funcResp, _, err := DecodeTCPResponse(append(header, body...))
	if err != nil {
		e.finishSpan(traceHandle, recvSpan, err)
		return err
	}
	if IsExceptionResponse(funcResp) {
		e.conn.Fail()
		err := gatewayerr.New(gatewayerr.CodePluginDeviceNotResponse, "device returned exception response to write")
		e.finishSpan(traceHandle, recvSpan, err)
		return err
	}
	e.finishSpan(traceHandle, recvSpan, nil)
	return nil
}

func readFull(conn net.Conn, buf []byte) error {
	_, err := io.ReadFull(conn, buf)
	return err
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
