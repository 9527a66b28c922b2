// Package receiver implements inbound envelope processing: retrieval,
// directory bookkeeping, decryption and trust handling, session lifecycle,
// and routing of decrypted content into the host message store.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/pushbridge/pushbridge/internal/bus"
	"github.com/pushbridge/pushbridge/internal/directory"
	"github.com/pushbridge/pushbridge/internal/groups"
	"github.com/pushbridge/pushbridge/internal/mailbox"
	"github.com/pushbridge/pushbridge/internal/pending"
	"github.com/pushbridge/pushbridge/internal/transport"
	"go.uber.org/zap"
)

// Blacklist decides whether inbound traffic from an address is discarded.
type Blacklist interface {
	Blocked(address string) bool
}

// StaticBlacklist blocks a fixed set of canonical addresses.
type StaticBlacklist map[string]struct{}

// NewStaticBlacklist builds a blacklist from configured addresses.
func NewStaticBlacklist(addrs []string) StaticBlacklist {
	b := make(StaticBlacklist, len(addrs))
	for _, a := range addrs {
		b[a] = struct{}{}
	}
	return b
}

func (b StaticBlacklist) Blocked(address string) bool {
	_, ok := b[address]
	return ok
}

// Receiver drives inbound processing. One envelope at a time; the dispatch
// worker provides the serialization.
type Receiver struct {
	retriever transport.Retriever
	transport transport.Transport
	directory *directory.Directory
	registry  *groups.Registry
	pending   *pending.Queue
	sink      mailbox.Sink
	blacklist Blacklist
	bus       *bus.Bus
	logger    *zap.Logger
	local     string
}

// New creates a receiver. local is the canonical address of the local
// account; it is excluded from stored group memberships.
func New(
	ret transport.Retriever,
	t transport.Transport,
	d *directory.Directory,
	r *groups.Registry,
	p *pending.Queue,
	sink mailbox.Sink,
	bl Blacklist,
	b *bus.Bus,
	local string,
	logger *zap.Logger,
) *Receiver {
	return &Receiver{
		retriever: ret,
		transport: t,
		directory: d,
		registry:  r,
		pending:   p,
		sink:      sink,
		blacklist: bl,
		bus:       b,
		logger:    logger,
		local:     local,
	}
}

// HandleNotification retrieves all queued envelopes and processes each one
// independently. A failure in one envelope is logged and does not stop the
// rest of the batch; only the retrieval itself failing is reported back.
func (r *Receiver) HandleNotification(ctx context.Context) error {
	envelopes, err := r.retriever.Retrieve(ctx)
	if err != nil {
		r.logger.Error("envelope retrieval failed", zap.Error(err))
		r.bus.Emit(bus.KindNotifyProblem, bus.Problem{Reason: "could not retrieve messages"})
		return err
	}
	for _, env := range envelopes {
		if err := r.HandleEnvelope(ctx, env); err != nil {
			r.logger.Error("envelope processing failed",
				zap.String("source", env.Source),
				zap.Int64("timestamp", env.Timestamp),
				zap.Error(err))
		}
	}
	return nil
}

// HandleEnvelope processes a single inbound envelope end to end. A nil
// return means the envelope was consumed, including the cases where it was
// deliberately dropped (blacklist, quarantine, undecipherable).
func (r *Receiver) HandleEnvelope(ctx context.Context, env transport.Envelope) error {
	// Any envelope from an address proves the address is reachable over the
	// encrypted transport, whatever happens to the envelope afterwards.
	cached, err := r.directory.Cached(env.Source)
	if err != nil {
		return fmt.Errorf("directory lookup for %s: %w", env.Source, err)
	}
	if !cached.Known || !cached.Capable {
		if err := r.directory.SetCapability(env.Source, true, env.Relay); err != nil {
			return fmt.Errorf("record capability for %s: %w", env.Source, err)
		}
	}

	if env.Receipt {
		r.logger.Debug("delivery receipt",
			zap.String("source", env.Source),
			zap.Int64("timestamp", env.Timestamp))
		return nil
	}

	if r.blacklist.Blocked(env.Source) {
		r.logger.Info("dropping message from blacklisted sender", zap.String("source", env.Source))
		r.bus.Emit(bus.KindNotifyBlacklisted, env.Source)
		return nil
	}

	content, err := r.transport.Decrypt(ctx, env)
	if err != nil {
		return r.handleDecryptFailure(env, err)
	}

	if content.Body == transport.EndSessionMarker {
		return r.endSession(env)
	}

	active, err := r.directory.HasActiveSession(env.Source)
	if err != nil {
		return err
	}
	if !active {
		if err := r.directory.SetActiveSession(env.Source, true); err != nil {
			return err
		}
		r.bus.Emit(bus.KindNotifyNewSession, env.Source)
	}

	if cached.Known && env.Relay != "" {
		if err := r.directory.SetCapability(env.Source, true, env.Relay); err != nil {
			r.logger.Warn("relay update failed", zap.String("source", env.Source), zap.Error(err))
		}
	}

	if content.Group != nil {
		return r.handleGroup(ctx, env, content)
	}
	return r.storeDirect(ctx, env, content)
}

func (r *Receiver) handleDecryptFailure(env transport.Envelope, err error) error {
	var mismatch *transport.IdentityMismatchError
	if errors.As(err, &mismatch) {
		id, qerr := r.pending.Insert(env)
		if qerr != nil {
			return fmt.Errorf("quarantine envelope from %s: %w", env.Source, qerr)
		}
		r.logger.Warn("identity mismatch, message held for approval",
			zap.String("source", env.Source),
			zap.String("approval_id", id))
		r.bus.Emit(bus.KindApprovalQueued, bus.Approval{ID: id, Address: env.Source})
		r.bus.Emit(bus.KindNotifyProblem, bus.Problem{
			Address: env.Source,
			Reason:  "identity changed, message held for approval",
		})
		return nil
	}

	var invalid *transport.InvalidMessageError
	if errors.As(err, &invalid) {
		r.logger.Warn("dropping undecipherable message",
			zap.String("source", env.Source),
			zap.Error(err))
		r.bus.Emit(bus.KindNotifyProblem, bus.Problem{
			Address: env.Source,
			Reason:  "received badly encrypted message",
		})
		return nil
	}

	return fmt.Errorf("decrypt envelope from %s: %w", env.Source, err)
}

// endSession tears down the ratchet state for the counterpart and clears the
// active-session flag. The sentinel body itself is never stored.
func (r *Receiver) endSession(env transport.Envelope) error {
	if err := r.transport.EndSession(env.Source, env.SourceDevice); err != nil {
		return fmt.Errorf("end session with %s: %w", env.Source, err)
	}
	if err := r.directory.SetActiveSession(env.Source, false); err != nil {
		return err
	}
	r.logger.Info("secure session ended by counterpart", zap.String("source", env.Source))
	r.bus.Emit(bus.KindSessionReset, env.Source)
	return nil
}

func (r *Receiver) storeDirect(ctx context.Context, env transport.Envelope, content *transport.Content) error {
	if len(content.Attachments) > 0 {
		stored, err := r.fetchAttachments(ctx, env, content.Attachments)
		if err != nil {
			return nil
		}
		if err := r.sink.StoreMultimedia(env.Source, content.Body, stored, env.Timestamp); err != nil {
			return fmt.Errorf("store multimedia from %s: %w", env.Source, err)
		}
	} else {
		if err := r.sink.StoreText(env.Source, content.Body, env.Timestamp, true); err != nil {
			return fmt.Errorf("store text from %s: %w", env.Source, err)
		}
	}
	r.bus.Emit(bus.KindMessageStored, bus.Stored{Address: env.Source, Group: false})
	return nil
}

func (r *Receiver) handleGroup(ctx context.Context, env transport.Envelope, content *transport.Content) error {
	gid, err := groups.IDFromBytes(content.Group.ID)
	if err != nil {
		r.logger.Warn("malformed group id", zap.String("source", env.Source), zap.Error(err))
		r.bus.Emit(bus.KindNotifyProblem, bus.Problem{Address: env.Source, Reason: "malformed group message"})
		return nil
	}

	switch content.Group.Type {
	case transport.GroupUpdate:
		return r.handleGroupUpdate(env, gid, content.Group.Members)
	case transport.GroupDeliver:
		return r.handleGroupDeliver(ctx, env, gid, content)
	case transport.GroupQuit:
		return r.handleGroupQuit(env, gid)
	}
	r.logger.Warn("unknown group message type",
		zap.String("source", env.Source),
		zap.Stringer("type", content.Group.Type))
	return nil
}

// handleGroupUpdate records the declared membership. The sender always
// counts as a member whether or not it lists itself; the local account never
// appears in stored memberships.
func (r *Receiver) handleGroupUpdate(env transport.Envelope, gid groups.ID, declared []string) error {
	members := normalizeMembers(declared, env.Source, r.local)
	threadID, err := r.sink.ThreadForMembers(members)
	if err != nil {
		return fmt.Errorf("resolve thread for group %s: %w", gid, err)
	}
	if err := r.registry.Upsert(gid, threadID); err != nil {
		return err
	}
	r.logger.Info("group membership updated",
		zap.String("group_id", gid.String()),
		zap.Int64("thread_id", threadID),
		zap.Strings("members", members))
	return nil
}

func (r *Receiver) handleGroupDeliver(ctx context.Context, env transport.Envelope, gid groups.ID, content *transport.Content) error {
	threadID, err := r.registry.ThreadFor(gid)
	if errors.Is(err, groups.ErrNotFound) {
		r.logger.Warn("message for unknown group dropped",
			zap.String("source", env.Source),
			zap.String("group_id", gid.String()))
		r.bus.Emit(bus.KindNotifyProblem, bus.Problem{Address: env.Source, Reason: "message for unknown group"})
		return nil
	}
	if err != nil {
		return err
	}

	var stored []mailbox.StoredAttachment
	if len(content.Attachments) > 0 {
		stored, err = r.fetchAttachments(ctx, env, content.Attachments)
		if err != nil {
			return nil
		}
	}
	if err := r.sink.StoreGroupMessage(env.Source, content.Body, stored, env.Timestamp, threadID); err != nil {
		return fmt.Errorf("store group message from %s: %w", env.Source, err)
	}
	r.bus.Emit(bus.KindMessageStored, bus.Stored{Address: env.Source, ThreadID: threadID, Group: true})
	return nil
}

// handleGroupQuit removes the sender from the group's thread. With members
// left over the mapping re-points to the reduced membership's thread; an
// emptied group is forgotten entirely.
func (r *Receiver) handleGroupQuit(env transport.Envelope, gid groups.ID) error {
	threadID, err := r.registry.ThreadFor(gid)
	if errors.Is(err, groups.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	current, err := r.sink.MembersForThread(threadID)
	if err != nil {
		return fmt.Errorf("members for thread %d: %w", threadID, err)
	}
	remaining := make([]string, 0, len(current))
	for _, m := range current {
		if m != env.Source {
			remaining = append(remaining, m)
		}
	}

	if len(remaining) == 0 {
		r.logger.Info("group emptied, removing mapping", zap.String("group_id", gid.String()))
		return r.registry.Remove(gid)
	}

	newThread, err := r.sink.ThreadForMembers(remaining)
	if err != nil {
		return fmt.Errorf("resolve reduced thread for group %s: %w", gid, err)
	}
	if newThread != threadID {
		if err := r.registry.Upsert(gid, newThread); err != nil {
			return err
		}
	}
	r.logger.Info("member left group",
		zap.String("group_id", gid.String()),
		zap.String("source", env.Source),
		zap.Int64("thread_id", newThread))
	return nil
}

// fetchAttachments downloads and persists every attachment of a message.
// All or nothing: a single failed download drops the whole message with a
// problem notification, no partial stores.
func (r *Receiver) fetchAttachments(ctx context.Context, env transport.Envelope, ptrs []transport.AttachmentPointer) ([]mailbox.StoredAttachment, error) {
	stored := make([]mailbox.StoredAttachment, 0, len(ptrs))
	for _, ptr := range ptrs {
		data, err := r.fetchOne(ctx, ptr)
		if err != nil {
			r.logger.Warn("attachment retrieval failed",
				zap.String("source", env.Source),
				zap.String("attachment_id", ptr.ID),
				zap.Error(err))
			r.bus.Emit(bus.KindNotifyProblem, bus.Problem{
				Address: env.Source,
				Reason:  "could not retrieve attachment",
			})
			return nil, err
		}
		ref, err := r.sink.PersistAttachment(ptr.ContentType, data)
		if err != nil {
			r.logger.Warn("attachment persistence failed",
				zap.String("source", env.Source),
				zap.String("attachment_id", ptr.ID),
				zap.Error(err))
			r.bus.Emit(bus.KindNotifyProblem, bus.Problem{
				Address: env.Source,
				Reason:  "could not store attachment",
			})
			return nil, fmt.Errorf("persist attachment %s: %w", ptr.ID, err)
		}
		stored = append(stored, mailbox.StoredAttachment{Ref: ref, ContentType: ptr.ContentType})
	}
	return stored, nil
}

func (r *Receiver) fetchOne(ctx context.Context, ptr transport.AttachmentPointer) ([]byte, error) {
	rc, err := r.transport.FetchAttachment(ctx, ptr)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// normalizeMembers produces the stored membership for a group update:
// declared members plus the sender, minus the local account, deduplicated
// and sorted for stable thread resolution.
func normalizeMembers(declared []string, sender, local string) []string {
	seen := make(map[string]struct{}, len(declared)+1)
	out := make([]string, 0, len(declared)+1)
	add := func(a string) {
		if a == local || a == "" {
			return
		}
		if _, ok := seen[a]; ok {
			return
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	add(sender)
	for _, m := range declared {
		add(m)
	}
	sort.Strings(out)
	return out
}
