package xelis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xelminer/xelminer/pkg/errors"
	"github.com/xelminer/xelminer/pkg/log"
)

// subscribeParams names the contract event stream to subscribe to.
type subscribeParams struct {
	Notify struct {
		ContractEvent contractEventFilter `json:"contract_event"`
	} `json:"notify"`
}

type contractEventFilter struct {
	Contract string `json:"contract"`
	ID       uint64 `json:"id"`
}

// notification is a pushed message from the node. The result is either a
// boolean subscription acknowledgment or an event envelope.
type notification struct {
	Result json.RawMessage `json:"result"`
}

// eventEnvelope is the shape of a pushed contract event.
type eventEnvelope struct {
	Event struct {
		ContractEvent *contractEventFilter `json:"contract_event"`
	} `json:"event"`
}

// EventListener maintains a persistent WebSocket subscription to one
// contract's event stream. Each matching event invokes the registered
// handler. Transport failures are absorbed with a fixed backoff and an
// unconditional reconnect; the listener only stops when its context is
// cancelled. This is the miner's sole resilience mechanism for missed
// confirmations, so it must never give up.
type EventListener struct {
	endpoint string
	contract string
	eventID  uint64
	backoff  time.Duration
	logger   *log.Logger

	handler     func()
	onReconnect func(attempt uint64)

	dialer *websocket.Dialer
}

// NewEventListener creates a listener for the given endpoint and contract
// event filter. backoff is the fixed delay between reconnect attempts.
func NewEventListener(endpoint, contract string, eventID uint64, backoff time.Duration, logger *log.Logger) *EventListener {
	if backoff <= 0 {
		backoff = 5 * time.Second
	}

	return &EventListener{
		endpoint: endpoint,
		contract: contract,
		eventID:  eventID,
		backoff:  backoff,
		logger:   logger.WithComponent("events").WithContract(contract, eventID),
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// SetEventHandler registers the callback invoked for each matching contract
// event. Must be called before Run.
func (l *EventListener) SetEventHandler(handler func()) {
	l.handler = handler
}

// SetReconnectHook registers an optional callback invoked before each
// reconnect wait, for metrics.
func (l *EventListener) SetReconnectHook(hook func(attempt uint64)) {
	l.onReconnect = hook
}

// Run drives the subscribe/receive/reconnect cycle until ctx is cancelled.
// It always returns ctx.Err() on shutdown and never returns on transport
// failure alone.
func (l *EventListener) Run(ctx context.Context) error {
	var attempt uint64

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := l.runSession(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		attempt++
		l.logger.WithError(err).LogReconnect(l.endpoint, l.backoff.String(), attempt)
		if l.onReconnect != nil {
			l.onReconnect(attempt)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.backoff):
		}
	}
}

// runSession opens one connection, subscribes, and receives until the
// connection breaks or ctx is cancelled.
func (l *EventListener) runSession(ctx context.Context) error {
	conn, _, err := l.dialer.DialContext(ctx, l.endpoint, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeTransport, "ws_dial",
			"failed to connect to event endpoint").
			WithContext("endpoint", l.endpoint)
	}
	defer conn.Close()

	// Unblock the read loop when the context is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	if err := l.subscribe(conn); err != nil {
		return err
	}

	l.logger.Info("subscribed to contract events", "endpoint", l.endpoint)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeTransport, "ws_receive",
				"event connection closed")
		}

		l.dispatch(data)
	}
}

// subscribe sends the one-shot subscription request for this connection.
func (l *EventListener) subscribe(conn *websocket.Conn) error {
	var params subscribeParams
	params.Notify.ContractEvent = contractEventFilter{
		Contract: l.contract,
		ID:       l.eventID,
	}

	req := rpcRequest{
		JSONRPC: "2.0",
		Method:  "subscribe",
		ID:      1,
		Params:  params,
	}

	if err := conn.WriteJSON(req); err != nil {
		return errors.Wrap(err, errors.ErrorTypeTransport, "ws_subscribe",
			"failed to send subscription request")
	}

	return nil
}

// dispatch filters one pushed message. Subscription acknowledgments (a bare
// boolean result), duplicate acks, and foreign events are discarded.
func (l *EventListener) dispatch(data []byte) {
	var note notification
	if err := json.Unmarshal(data, &note); err != nil || len(note.Result) == 0 {
		return
	}

	var ack bool
	if err := json.Unmarshal(note.Result, &ack); err == nil {
		l.logger.Debug("subscription acknowledged", "ok", ack)
		return
	}

	var envelope eventEnvelope
	if err := json.Unmarshal(note.Result, &envelope); err != nil {
		return
	}

	ev := envelope.Event.ContractEvent
	if ev == nil || ev.Contract != l.contract || ev.ID != l.eventID {
		return
	}

	l.logger.Info("contract event received")
	if l.handler != nil {
		l.handler()
	}
}
