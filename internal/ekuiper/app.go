// Package ekuiper is the eKuiper-style app core (C9): a length-framed
// JSON pair-socket listener that ships TRANS_DATA out to a north-bound
// consumer and decodes inbound write requests back into WRITE_TAG(S)
// envelopes for the manager.
package ekuiper

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/codes"

	"github.com/nodelink/gateway/internal/core"
	"github.com/nodelink/gateway/internal/gatewaymetrics"
	"github.com/nodelink/gateway/internal/tracing"
)

// traceMagic marks the 2-byte prefix of the optional 26-byte trace header
// (spec §4.9: "0x0A 0xCE | trace_id[16] | span_id[8]").
var traceMagic = [2]byte{0x0A, 0xCE}

// disconnectWindows are the counters spec §4.9 names (60s/600s/1800s).
var disconnectWindows = []string{"60s", "600s", "1800s"}

// App is one eKuiper node's runtime state.
type App struct {
	name string
	bus  *core.Bus
	side *tracing.Sidecar
	log  *logrus.Entry

	mu        sync.Mutex
	connected bool
	conn      net.Conn
}

// New builds an App for node name.
func New(name string, bus *core.Bus, side *tracing.Sidecar, log *logrus.Entry) *App {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &App{name: name, bus: bus, side: side, log: log}
}

// Serve accepts exactly one peer connection at a time on lis, handling
// inbound write requests and exiting when ctx is cancelled.
func (a *App) Serve(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = lis.Close()
	}()

	for {
		conn, err := lis.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		a.setConnected(conn)
		a.readLoop(ctx, conn)
	}
}

func (a *App) setConnected(conn net.Conn) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.conn = conn
	a.connected = true
}

func (a *App) setDisconnected() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.conn = nil
	a.connected = false
	for _, w := range disconnectWindows {
		gatewaymetrics.RecordAppDisconnect(a.name, w)
	}
}

func (a *App) isConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

// readLoop reads length-prefixed frames from conn until it errors or ctx
// is cancelled, decoding each as a write request.
func (a *App) readLoop(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	defer a.setDisconnected()

	r := bufio.NewReader(conn)
	lenBuf := make([]byte, 4)
	for {
		if ctx.Err() != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		if _, err := readFull(r, lenBuf); err != nil {
			return
		}
		n := binary.BigEndian.Uint32(lenBuf)
		frame := make([]byte, n)
		if _, err := readFull(r, frame); err != nil {
			return
		}
		a.handleFrame(ctx, frame)
	}
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// handleFrame detects an optional 26-byte trace header, parses the JSON
// write request body, and dispatches WRITE_TAG or WRITE_TAGS to the
// driver named in the request.
func (a *App) handleFrame(ctx context.Context, frame []byte) {
	traceCtx := ""
	body := frame
	if len(frame) >= 26 && frame[0] == traceMagic[0] && frame[1] == traceMagic[1] {
		traceID := frame[2:18]
		spanID := frame[18:26]
		traceCtx = hex.EncodeToString(traceID) + hex.EncodeToString(spanID)
		body = frame[26:]
		if a.side.Enabled() {
			a.side.StartRootSpan(traceCtx, "app recv")
		}
	}

	var multi multiWriteRequest
	if err := json.Unmarshal(body, &multi); err == nil && len(multi.Tags) > 0 {
		a.dispatchMulti(ctx, multi, traceCtx)
		return
	}

	var single singleWriteRequest
	if err := json.Unmarshal(body, &single); err != nil {
		a.log.WithError(err).Warn("failed to decode write request")
		return
	}
	a.dispatchSingle(ctx, single, traceCtx)
}

type singleWriteRequest struct {
	NodeName  string  `json:"node_name"`
	GroupName string  `json:"group_name"`
	TagName   string  `json:"tag_name"`
	Value     any     `json:"value"`
	Precision int     `json:"precision"`
}

type multiWriteRequest struct {
	NodeName  string       `json:"node_name"`
	GroupName string       `json:"group_name"`
	Tags      []tagWriteOp `json:"tags"`
}

type tagWriteOp struct {
	TagName   string `json:"tag_name"`
	Value     any    `json:"value"`
	Precision int    `json:"precision"`
}

// coerce applies spec §4.9's precision rule: an integer value with
// precision > 0 is treated as a double.
func coerce(v any, precision int) any {
	if precision <= 0 {
		return v
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return v
	}
}

// dispatchSingle and dispatchMulti address every write to the manager, not
// the driver directly: the manager resolves core.TransData.DriverNode and
// re-addresses the envelope (spec §4.5's "app sends WRITE_TAG(S) to
// manager addressed to the driver").
func (a *App) dispatchSingle(ctx context.Context, req singleWriteRequest, traceCtx string) {
	sample := core.TagSample{Name: req.TagName, Value: core.TagValue{Scalar: coerce(req.Value, req.Precision)}}
	env := core.Envelope{
		Type:     core.MsgWriteTag,
		Sender:   a.name,
		Receiver: core.ManagerAddress,
		Ctx:      traceCtx,
		Body:     core.TransData{DriverNode: req.NodeName, Group: req.GroupName, Samples: []core.TagSample{sample}},
	}
	a.send(ctx, env)
}

func (a *App) dispatchMulti(ctx context.Context, req multiWriteRequest, traceCtx string) {
	samples := make([]core.TagSample, 0, len(req.Tags))
	for _, t := range req.Tags {
		samples = append(samples, core.TagSample{Name: t.TagName, Value: core.TagValue{Scalar: coerce(t.Value, t.Precision)}})
	}
	env := core.Envelope{
		Type:     core.MsgWriteTags,
		Sender:   a.name,
		Receiver: core.ManagerAddress,
		Ctx:      traceCtx,
		Body:     core.TransData{DriverNode: req.NodeName, Group: req.GroupName, Samples: samples},
	}
	a.send(ctx, env)
}

func (a *App) send(ctx context.Context, env core.Envelope) {
	sendCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := a.bus.SendTo(sendCtx, env); err != nil {
		a.log.WithError(err).Warn("failed to forward write request")
	}
}

// transDataPayload is the outbound wire shape (spec §4.9).
type transDataPayload struct {
	NodeName  string            `json:"node_name"`
	GroupName string            `json:"group_name"`
	Timestamp int64             `json:"timestamp"`
	Values    map[string]any    `json:"values"`
	Errors    map[string]string `json:"errors"`
	Metas     map[string]any    `json:"metas"`
}

// HandleTransData encodes and ships one TRANS_DATA envelope to the
// connected peer, or drops it silently if disconnected (spec §4.9).
func (a *App) HandleTransData(ctx context.Context, td core.TransData, traceHandle string) {
	if !a.isConnected() {
		if traceHandle != "" && a.side.Enabled() {
			spanID := a.side.AddSpan(traceHandle, "app send", "")
			a.side.SetStatus(traceHandle, spanID, codes.Error, "DISCONNECTED")
			a.side.SetFinal(traceHandle, spanID)
		}
		return
	}

	payload := transDataPayload{
		NodeName:  td.DriverNode,
		GroupName: td.Group,
		Timestamp: td.TimestampMs,
		Values:    make(map[string]any),
		Errors:    make(map[string]string),
		Metas:     make(map[string]any),
	}
	for _, s := range td.Samples {
		if s.Error != nil {
			payload.Errors[s.Name] = s.Error.Error()
			continue
		}
		if s.Value.Array != nil {
			payload.Values[s.Name] = s.Value.Array
		} else {
			payload.Values[s.Name] = s.Value.Scalar
		}
		if len(s.Metas) > 0 {
			payload.Metas[s.Name] = s.Metas
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		a.log.WithError(err).Warn("failed to encode trans data")
		return
	}

	frame := body
	if traceHandle != "" && a.side.Enabled() {
		frame = prependTraceHeader(traceHandle, body)
	}

	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return
	}

	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(frame)))
	_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	n, werr := conn.Write(append(lenBuf, frame...))
	gatewaymetrics.RecordAppSend(a.name, n, werr)
	if werr != nil {
		a.log.WithError(werr).Warn("send failed")
	}
}

func prependTraceHeader(handle string, body []byte) []byte {
	header := make([]byte, 26)
	header[0], header[1] = traceMagic[0], traceMagic[1]
	// A handle decoded from an inbound header (hex trace_id + span_id) is
	// written back as those 24 raw bytes; any other handle fills trace_id
	// with its leading bytes and leaves span_id zero.
	if raw, err := hex.DecodeString(handle); err == nil && len(raw) == 24 {
		copy(header[2:26], raw)
	} else {
		copy(header[2:18], []byte(handle))
	}
	out := make([]byte, 0, len(header)+len(body))
	out = append(out, header...)
	out = append(out, body...)
	return out
}
