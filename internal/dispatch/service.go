// Package dispatch owns the daemon's two message workers: a serialized
// inbound worker that drains the transport and replays approved quarantined
// envelopes, and a send worker that drains the outgoing queue.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pushbridge/pushbridge/internal/bus"
	"github.com/pushbridge/pushbridge/internal/outqueue"
	"github.com/pushbridge/pushbridge/internal/pending"
	"github.com/pushbridge/pushbridge/internal/receiver"
	"github.com/pushbridge/pushbridge/internal/sender"
	"go.uber.org/zap"
)

// ErrStopped is returned when work is submitted after Stop.
var ErrStopped = errors.New("dispatch: service stopped")

// inboundWork is one unit for the inbound worker. An empty replayID means
// "poll the transport"; otherwise it names a quarantined envelope to replay.
type inboundWork struct {
	replayID string
}

// Service runs the workers. Inbound processing is strictly one envelope at
// a time, so session state never sees concurrent mutation.
type Service struct {
	receiver *receiver.Receiver
	sender   *sender.Sender
	queue    *outqueue.Queue
	pending  *pending.Queue
	bus      *bus.Bus
	logger   *zap.Logger

	inbound chan inboundWork
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates the dispatch service.
func New(
	r *receiver.Receiver,
	s *sender.Sender,
	q *outqueue.Queue,
	p *pending.Queue,
	b *bus.Bus,
	logger *zap.Logger,
) *Service {
	return &Service{
		receiver: r,
		sender:   s,
		queue:    q,
		pending:  p,
		bus:      b,
		logger:   logger,
		inbound:  make(chan inboundWork, 64),
	}
}

// Start launches both workers.
func (s *Service) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(2)
	go s.inboundLoop()
	go s.sendLoop()
}

// Stop cancels the workers and waits for them to drain their current item.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// NotifyInbound signals that the transport has envelopes waiting. Triggers
// coalesce: when the queue is full a pending trigger already covers this one.
func (s *Service) NotifyInbound() {
	select {
	case s.inbound <- inboundWork{}:
	default:
	}
}

// SubmitSend enqueues a captured outgoing message for the send worker.
func (s *Service) SubmitSend(msg *sender.OutgoingMessage) {
	s.queue.Put(msg)
}

// Replay schedules a quarantined envelope for reprocessing after the user
// approved the new identity. Unlike notification triggers a replay is never
// dropped; Replay blocks until the worker accepts it or the service stops.
func (s *Service) Replay(id string) error {
	if s.ctx == nil {
		return ErrStopped
	}
	select {
	case s.inbound <- inboundWork{replayID: id}:
		return nil
	case <-s.ctx.Done():
		return ErrStopped
	}
}

// Discard removes a quarantined envelope without processing it.
func (s *Service) Discard(id string) error {
	if err := s.pending.Delete(id); err != nil {
		return err
	}
	s.bus.Emit(bus.KindApprovalResolved, bus.Approval{ID: id})
	return nil
}

func (s *Service) inboundLoop() {
	defer s.wg.Done()
	for {
		select {
		case work := <-s.inbound:
			if work.replayID == "" {
				_ = s.receiver.HandleNotification(s.ctx)
				continue
			}
			if err := s.replay(work.replayID); err != nil {
				s.logger.Error("replay failed", zap.String("approval_id", work.replayID), zap.Error(err))
			}
		case <-s.ctx.Done():
			return
		}
	}
}

// replay removes the envelope from quarantine before reprocessing. A second
// identity mismatch re-queues it under a fresh id, so the user is asked
// again rather than the envelope looping.
func (s *Service) replay(id string) error {
	env, err := s.pending.Get(id)
	if err != nil {
		return fmt.Errorf("load quarantined envelope: %w", err)
	}
	if err := s.pending.Delete(id); err != nil {
		return fmt.Errorf("dequeue quarantined envelope: %w", err)
	}
	s.bus.Emit(bus.KindApprovalResolved, bus.Approval{ID: id, Address: env.Source})
	return s.receiver.HandleEnvelope(s.ctx, env)
}

func (s *Service) sendLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.queue.Ready():
			s.drainSends()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Service) drainSends() {
	for {
		msg := s.queue.Get()
		if msg == nil {
			return
		}
		if err := s.sender.SendText(s.ctx, msg); err != nil {
			s.logger.Warn("outgoing message failed", zap.Error(err))
		}
		select {
		case <-s.ctx.Done():
			return
		default:
		}
	}
}
