// Package sender resolves outbound messages against the directory and
// drives transport sends, including group create-and-announce ordering.
package sender

import (
	"context"
	"errors"
	"fmt"

	"github.com/pushbridge/pushbridge/internal/address"
	"github.com/pushbridge/pushbridge/internal/bus"
	"github.com/pushbridge/pushbridge/internal/directory"
	"github.com/pushbridge/pushbridge/internal/groups"
	"github.com/pushbridge/pushbridge/internal/mailbox"
	"github.com/pushbridge/pushbridge/internal/transport"
	"go.uber.org/zap"
)

// ErrNoDestinations is returned for a message without any destination.
var ErrNoDestinations = errors.New("sender: outgoing message has no destinations")

// ErrMultipleDestinations is returned for fan-out attempts. Multi-recipient
// delivery goes through group semantics, not destination lists.
var ErrMultipleDestinations = errors.New("sender: multiple destinations are not supported")

// UnregisteredUserError reports a destination that does not support the
// encrypted transport. This core performs no fallback; the host decides
// what to do with the message.
type UnregisteredUserError struct {
	Address string
}

func (e *UnregisteredUserError) Error() string {
	return fmt.Sprintf("%s is not a registered secure-messaging user", e.Address)
}

// Sender performs outbound delivery. All its entry points block on remote
// lookups and transport I/O, so they run on background workers only.
type Sender struct {
	directory *directory.Directory
	registry  *groups.Registry
	sink      mailbox.Sink
	transport transport.Transport
	bus       *bus.Bus
	logger    *zap.Logger
	local     string
	prefix    string
}

// New creates a sender. local is the canonical address of the local
// account; prefix is the default country prefix for canonicalization.
func New(
	d *directory.Directory,
	r *groups.Registry,
	sink mailbox.Sink,
	t transport.Transport,
	b *bus.Bus,
	local, prefix string,
	logger *zap.Logger,
) *Sender {
	return &Sender{
		directory: d,
		registry:  r,
		sink:      sink,
		transport: t,
		bus:       b,
		logger:    logger,
		local:     local,
		prefix:    prefix,
	}
}

// SendText delivers a single-destination text message. The message's
// continuation fires exactly once: Complete on success, Abort with the
// reason otherwise. Validation failures abort before any directory or
// transport I/O.
func (s *Sender) SendText(ctx context.Context, msg *OutgoingMessage) error {
	if len(msg.Destinations) == 0 {
		msg.Abort(ErrNoDestinations)
		return ErrNoDestinations
	}
	if len(msg.Destinations) > 1 {
		msg.Abort(ErrMultipleDestinations)
		return ErrMultipleDestinations
	}

	dest, err := address.Canonicalize(msg.Destinations[0], s.prefix)
	if err != nil {
		msg.Abort(err)
		return err
	}

	capable, err := s.directory.IsSecureCapable(ctx, dest, true)
	if err != nil {
		s.logger.Warn("recipient resolution failed", zap.String("destination", dest), zap.Error(err))
		msg.Abort(err)
		s.bus.Emit(bus.KindMessageSendFailed, bus.Problem{Address: dest, Reason: err.Error()})
		return err
	}
	if !capable {
		s.logger.Info("not a registered user", zap.String("destination", dest))
		uerr := &UnregisteredUserError{Address: dest}
		msg.Abort(uerr)
		s.bus.Emit(bus.KindMessageSendFailed, bus.Problem{Address: dest, Reason: uerr.Error()})
		return uerr
	}

	out := transport.OutboundMessage{Body: msg.Body, Timestamp: msg.Timestamp}
	if err := s.transport.Send(ctx, dest, out); err != nil {
		s.handleSendFailure(dest, err)
		msg.Abort(err)
		return err
	}

	msg.Complete()
	s.logger.Info("message sent", zap.String("destination", dest), zap.Int64("timestamp", msg.Timestamp))
	s.bus.Emit(bus.KindMessageSent, dest)
	return nil
}

// SendGroup delivers a message to a conversation identified by its
// recipient set. When the conversation has no transport group yet, the
// fresh group's membership announcement is sent before the first content
// message, so recipients always observe the membership before the content.
func (s *Sender) SendGroup(ctx context.Context, recipients []string, body string, attachments []transport.Attachment, timestamp int64) error {
	if len(recipients) == 0 {
		return ErrNoDestinations
	}
	canonical := make([]string, 0, len(recipients))
	for _, raw := range recipients {
		addr, err := address.Canonicalize(raw, s.prefix)
		if err != nil {
			return err
		}
		capable, err := s.directory.IsSecureCapable(ctx, addr, true)
		if err != nil {
			return err
		}
		if !capable {
			return &UnregisteredUserError{Address: addr}
		}
		canonical = append(canonical, addr)
	}

	threadID, err := s.sink.ThreadForMembers(canonical)
	if err != nil {
		return fmt.Errorf("resolve thread: %w", err)
	}
	gid, created, err := s.registry.ResolveOrCreate(threadID)
	if err != nil {
		return err
	}

	members := append(append([]string{}, canonical...), s.local)
	if created {
		if err := s.SendGroupUpdate(ctx, gid, canonical, members); err != nil {
			return fmt.Errorf("announce new group %s: %w", gid, err)
		}
	}

	out := transport.OutboundMessage{
		Body:        body,
		Timestamp:   timestamp,
		Attachments: attachments,
		Group: &transport.GroupContext{
			ID:      gid.Bytes(),
			Type:    transport.GroupDeliver,
			Members: members,
		},
	}
	if err := s.transport.SendGroup(ctx, canonical, out); err != nil {
		s.handleSendFailure("", err)
		return err
	}
	s.logger.Info("group message sent", zap.String("group_id", gid.String()), zap.Int64("thread_id", threadID))
	s.bus.Emit(bus.KindMessageSent, gid.String())
	return nil
}

// SendGroupUpdate announces a group's membership to its recipients.
func (s *Sender) SendGroupUpdate(ctx context.Context, id groups.ID, recipients, members []string) error {
	out := transport.OutboundMessage{
		Group: &transport.GroupContext{
			ID:      id.Bytes(),
			Type:    transport.GroupUpdate,
			Members: members,
		},
	}
	if err := s.transport.SendGroup(ctx, recipients, out); err != nil {
		s.handleSendFailure("", err)
		return err
	}
	return nil
}

// handleSendFailure drops the trusted identity key when the transport
// rejected the send over a changed identity, forcing a fresh trust decision
// on next contact. All other failures are plain I/O errors for the caller.
func (s *Sender) handleSendFailure(dest string, err error) {
	var untrusted *transport.UntrustedIdentityError
	if !errors.As(err, &untrusted) {
		s.logger.Warn("send failed", zap.String("destination", dest), zap.Error(err))
		return
	}
	s.logger.Warn("identity changed for recipient", zap.String("address", untrusted.Address))
	if err := s.transport.ForgetIdentity(untrusted.Address); err != nil {
		s.logger.Error("failed to drop identity", zap.String("address", untrusted.Address), zap.Error(err))
	}
	s.bus.Emit(bus.KindNotifyIdentityChanged, untrusted.Address)
}
