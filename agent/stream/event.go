// Package stream drives a streaming chat request and encodes its events as
// newline-delimited JSON.
package stream

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	contractx "github.com/tanpawarit/relay-support-router/agent/contract"
)

type EventType string

const (
	TypeStatus  EventType = "status"
	TypeRouting EventType = "routing"
	TypeChunk   EventType = "chunk"
	TypeDone    EventType = "done"
)

const (
	StatusTyping     = "typing"
	StatusResponding = "responding"
)

// Event is one line of the stream. Only the fields of its Type are set.
type Event struct {
	Type EventType `json:"type"`

	Status string `json:"status,omitempty"`
	Agent  string `json:"agent,omitempty"`

	AgentType  string   `json:"agentType,omitempty"`
	Reasoning  string   `json:"reasoning,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`

	Content   string `json:"content,omitempty"`
	MessageID string `json:"messageId,omitempty"`
}

func StatusEvent(status string, agent contractx.HandlerType) Event {
	return Event{Type: TypeStatus, Status: status, Agent: string(agent)}
}

func RoutingEvent(d contractx.RoutingDecision) Event {
	confidence := d.Confidence
	return Event{
		Type:       TypeRouting,
		AgentType:  string(d.HandlerType),
		Reasoning:  d.Reasoning,
		Confidence: &confidence,
	}
}

func ChunkEvent(content string) Event {
	return Event{Type: TypeChunk, Content: content}
}

func DoneEvent(messageID string) Event {
	return Event{Type: TypeDone, MessageID: messageID}
}

// Sink receives events in emission order. A returned error means the
// consumer is gone.
type Sink interface {
	Send(Event) error
}

// Encoder writes one JSON object per line and flushes after each event when
// the underlying writer supports it.
type Encoder struct {
	mu sync.Mutex
	w  *bufio.Writer
	fl http.Flusher
}

var _ Sink = (*Encoder)(nil)

func NewEncoder(w io.Writer) *Encoder {
	e := &Encoder{w: bufio.NewWriter(w)}
	if fl, ok := w.(http.Flusher); ok {
		e.fl = fl
	}
	return e
}

func (e *Encoder) Send(ev Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Type, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.w.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("write %s event: %w", ev.Type, err)
	}
	if err := e.w.Flush(); err != nil {
		return fmt.Errorf("flush %s event: %w", ev.Type, err)
	}
	if e.fl != nil {
		e.fl.Flush()
	}
	return nil
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event) error

func (f SinkFunc) Send(ev Event) error { return f(ev) }
