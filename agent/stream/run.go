package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"

	orchestratorx "github.com/tanpawarit/relay-support-router/agent/agents/orchestrator"
	contractx "github.com/tanpawarit/relay-support-router/agent/contract"
	observex "github.com/tanpawarit/relay-support-router/agent/observability"
)

type Processor interface {
	Process(ctx context.Context, req orchestratorx.Request) orchestratorx.Result
}

// Completion is the assembled answer handed to the completion callback.
type Completion struct {
	Routing   contractx.RoutingDecision
	Content   string
	Reasoning string
	Metadata  orchestratorx.Metadata
}

// CompleteFunc persists the completed answer and returns the id reported in
// the done event.
type CompleteFunc func(ctx context.Context, c Completion) (messageID string, err error)

var ErrConsumerGone = errors.New("stream consumer stopped reading")

// Run emits status(typing, router), routing, status(responding, handler),
// zero or more chunks and done, in that order. When the consumer stops (sink
// error or ctx cancellation) the upstream text stream is closed, which
// cancels the engine call, and ErrConsumerGone is returned without calling
// complete.
func Run(ctx context.Context, p Processor, req orchestratorx.Request, sink Sink, complete CompleteFunc) error {
	observex.ActiveStreams.Inc()
	defer observex.ActiveStreams.Dec()

	if err := send(ctx, sink, StatusEvent(StatusTyping, contractx.HandlerRouter)); err != nil {
		return err
	}

	req.Streaming = true
	res := p.Process(ctx, req)
	if res.Stream != nil {
		defer res.Stream.Close()
	}

	if err := send(ctx, sink, RoutingEvent(res.Routing)); err != nil {
		return err
	}
	if err := send(ctx, sink, StatusEvent(StatusResponding, res.Routing.HandlerType)); err != nil {
		return err
	}

	content, err := relay(ctx, res, sink)
	if err != nil {
		return err
	}

	messageID := ""
	if complete != nil {
		messageID, err = complete(ctx, Completion{
			Routing:   res.Routing,
			Content:   content,
			Reasoning: res.Response.Reasoning,
			Metadata:  res.Metadata,
		})
		if err != nil {
			log.Error().Err(err).Str("conversation_id", req.ConversationID).Msg("failed to persist streamed answer")
		}
	}

	return send(ctx, sink, DoneEvent(messageID))
}

// relay forwards text fragments and returns the concatenated answer. A
// fallback result has no stream; its apology goes out as one chunk. An
// engine failure mid-stream ends the answer early; if nothing was sent yet
// the apology is sent instead.
func relay(ctx context.Context, res orchestratorx.Result, sink Sink) (string, error) {
	if res.Stream == nil {
		if err := send(ctx, sink, ChunkEvent(res.Response.Content)); err != nil {
			return "", err
		}
		return res.Response.Content, nil
	}

	var full strings.Builder
	for {
		chunk, err := res.Stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Error().Err(err).Str("handler", string(res.Routing.HandlerType)).Msg("stream interrupted")
			if full.Len() == 0 {
				if err := send(ctx, sink, ChunkEvent(orchestratorx.FallbackResponse)); err != nil {
					return "", err
				}
				full.WriteString(orchestratorx.FallbackResponse)
			}
			break
		}

		full.WriteString(chunk)
		if err := send(ctx, sink, ChunkEvent(chunk)); err != nil {
			return "", err
		}
	}
	return full.String(), nil
}

func send(ctx context.Context, sink Sink, ev Event) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrConsumerGone, err)
	}
	if err := sink.Send(ev); err != nil {
		return fmt.Errorf("%w: %v", ErrConsumerGone, err)
	}
	return nil
}
