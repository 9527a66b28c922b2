// Package transport defines the consumed interface to the end-to-end
// encrypted transport: envelope retrieval, encryption/decryption, attachment
// fetch, and the trust-management hooks the bridge core depends on. The
// actual ratchet implementation lives outside this repository.
package transport

import (
	"context"
	"io"
)

// EndSessionMarker is the distinguished plaintext body the counterpart sends
// when the user ends a secure session. It carries no further payload.
const EndSessionMarker = "TERMINATE"

// GroupType classifies the group annotation carried by a message.
type GroupType int

const (
	GroupUpdate GroupType = iota
	GroupDeliver
	GroupQuit
)

func (t GroupType) String() string {
	switch t {
	case GroupUpdate:
		return "update"
	case GroupDeliver:
		return "deliver"
	case GroupQuit:
		return "quit"
	}
	return "unknown"
}

// Envelope is a still-encrypted inbound message as received off the wire.
type Envelope struct {
	Source       string `json:"source"`
	SourceDevice int    `json:"source_device"`
	Relay        string `json:"relay,omitempty"`
	Timestamp    int64  `json:"timestamp"`
	Receipt      bool   `json:"receipt,omitempty"`
	Ciphertext   []byte `json:"ciphertext,omitempty"`
}

// GroupContext is the group annotation of a message payload. ID is the raw
// 16-byte transport group identifier.
type GroupContext struct {
	ID      []byte
	Type    GroupType
	Members []string
}

// AttachmentPointer references an attachment stored on the transport side.
type AttachmentPointer struct {
	ID          string
	ContentType string
}

// Content is a decrypted message payload.
type Content struct {
	Body        string
	Group       *GroupContext
	Attachments []AttachmentPointer
}

// Attachment is outbound attachment data handed to the transport.
type Attachment struct {
	ContentType string
	Data        []byte
}

// OutboundMessage is the plaintext handed to the transport for encryption.
// Timestamp is the sender-assigned send time used as the idempotency and
// ordering key on the wire.
type OutboundMessage struct {
	Body        string
	Timestamp   int64
	Group       *GroupContext
	Attachments []Attachment
}

// Retriever polls the transport for queued inbound envelopes.
type Retriever interface {
	Retrieve(ctx context.Context) ([]Envelope, error)
}

// Transport is the opaque encrypted-messaging dependency. Send and SendGroup
// may fail with *UntrustedIdentityError; Decrypt may fail with
// *IdentityMismatchError or *InvalidMessageError. All other errors are
// generic I/O failures.
type Transport interface {
	Send(ctx context.Context, address string, msg OutboundMessage) error
	SendGroup(ctx context.Context, recipients []string, msg OutboundMessage) error
	Decrypt(ctx context.Context, env Envelope) (*Content, error)
	FetchAttachment(ctx context.Context, ptr AttachmentPointer) (io.ReadCloser, error)

	// EndSession discards all session state with the given address and
	// device, forcing a fresh handshake on next contact.
	EndSession(address string, device int) error

	// ForgetIdentity drops the trusted identity key recorded for the
	// address, forcing a fresh trust decision on next contact.
	ForgetIdentity(address string) error
}
