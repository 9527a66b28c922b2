// Package loopback is an in-process transport for development and testing.
// Ciphertext is plain JSON, identity keys are opaque strings pinned on first
// use, and outbound messages land in an in-memory log instead of a wire.
package loopback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/pushbridge/pushbridge/internal/transport"
)

// payload is the JSON "ciphertext" of a loopback envelope.
type payload struct {
	Identity    string        `json:"identity,omitempty"`
	Body        string        `json:"body,omitempty"`
	Group       *groupPayload `json:"group,omitempty"`
	Attachments []attachment  `json:"attachments,omitempty"`
}

type groupPayload struct {
	ID      []byte   `json:"id"`
	Type    int      `json:"type"`
	Members []string `json:"members,omitempty"`
}

type attachment struct {
	ID          string `json:"id"`
	ContentType string `json:"content_type"`
}

// Delivery is one outbound message recorded by the loopback.
type Delivery struct {
	Recipients []string
	Message    transport.OutboundMessage
}

// Loopback implements transport.Transport and transport.Retriever.
type Loopback struct {
	mu          sync.Mutex
	identities  map[string]string
	queue       []transport.Envelope
	deliveries  []Delivery
	attachments map[string][]byte
}

// New creates an empty loopback transport.
func New() *Loopback {
	return &Loopback{
		identities:  make(map[string]string),
		attachments: make(map[string][]byte),
	}
}

var (
	_ transport.Transport = (*Loopback)(nil)
	_ transport.Retriever = (*Loopback)(nil)
)

// Seal builds an envelope whose ciphertext decodes back to the given
// content, stamped with the sender's identity key.
func Seal(source string, device int, timestamp int64, identity string, content transport.Content) (transport.Envelope, error) {
	p := payload{
		Identity: identity,
		Body:     content.Body,
	}
	if content.Group != nil {
		p.Group = &groupPayload{
			ID:      content.Group.ID,
			Type:    int(content.Group.Type),
			Members: content.Group.Members,
		}
	}
	for _, a := range content.Attachments {
		p.Attachments = append(p.Attachments, attachment{ID: a.ID, ContentType: a.ContentType})
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return transport.Envelope{}, err
	}
	return transport.Envelope{
		Source:       source,
		SourceDevice: device,
		Timestamp:    timestamp,
		Ciphertext:   raw,
	}, nil
}

// Inject queues an envelope for the next Retrieve.
func (l *Loopback) Inject(env transport.Envelope) {
	l.mu.Lock()
	l.queue = append(l.queue, env)
	l.mu.Unlock()
}

// PutAttachment registers downloadable attachment data.
func (l *Loopback) PutAttachment(id string, data []byte) {
	l.mu.Lock()
	l.attachments[id] = data
	l.mu.Unlock()
}

// Deliveries returns a copy of the outbound log.
func (l *Loopback) Deliveries() []Delivery {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Delivery{}, l.deliveries...)
}

func (l *Loopback) Retrieve(context.Context) ([]transport.Envelope, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	envs := l.queue
	l.queue = nil
	return envs, nil
}

func (l *Loopback) Send(_ context.Context, address string, msg transport.OutboundMessage) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deliveries = append(l.deliveries, Delivery{Recipients: []string{address}, Message: msg})
	return nil
}

func (l *Loopback) SendGroup(_ context.Context, recipients []string, msg transport.OutboundMessage) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deliveries = append(l.deliveries, Delivery{
		Recipients: append([]string{}, recipients...),
		Message:    msg,
	})
	return nil
}

// Decrypt decodes the JSON ciphertext. The envelope's identity key is
// pinned on first contact; a different key on a later envelope fails with
// an identity mismatch until the pin is dropped.
func (l *Loopback) Decrypt(_ context.Context, env transport.Envelope) (*transport.Content, error) {
	var p payload
	if err := json.Unmarshal(env.Ciphertext, &p); err != nil {
		return nil, &transport.InvalidMessageError{Reason: "malformed ciphertext", Err: err}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if p.Identity != "" {
		pinned, ok := l.identities[env.Source]
		if ok && pinned != p.Identity {
			return nil, &transport.IdentityMismatchError{Address: env.Source, Device: env.SourceDevice}
		}
		l.identities[env.Source] = p.Identity
	}

	content := &transport.Content{Body: p.Body}
	if p.Group != nil {
		content.Group = &transport.GroupContext{
			ID:      p.Group.ID,
			Type:    transport.GroupType(p.Group.Type),
			Members: p.Group.Members,
		}
	}
	for _, a := range p.Attachments {
		content.Attachments = append(content.Attachments, transport.AttachmentPointer{
			ID:          a.ID,
			ContentType: a.ContentType,
		})
	}
	return content, nil
}

func (l *Loopback) FetchAttachment(_ context.Context, ptr transport.AttachmentPointer) (io.ReadCloser, error) {
	l.mu.Lock()
	data, ok := l.attachments[ptr.ID]
	l.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("loopback: no attachment %q", ptr.ID)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (l *Loopback) EndSession(address string, _ int) error {
	l.mu.Lock()
	delete(l.identities, address)
	l.mu.Unlock()
	return nil
}

func (l *Loopback) ForgetIdentity(address string) error {
	l.mu.Lock()
	delete(l.identities, address)
	l.mu.Unlock()
	return nil
}
