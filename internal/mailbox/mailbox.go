// Package mailbox defines the consumed interface to the host application's
// message store: inbox/thread persistence and attachment blob storage.
package mailbox

// StoredAttachment is a persisted attachment reference paired with its
// content type.
type StoredAttachment struct {
	Ref         string
	ContentType string
}

// Sink is the host message store. Thread identity is derived from membership:
// ThreadForMembers both records the membership set and returns the thread it
// naturally belongs to.
type Sink interface {
	StoreText(sender, body string, timestamp int64, incoming bool) error
	StoreMultimedia(sender, body string, attachments []StoredAttachment, timestamp int64) error
	StoreGroupMessage(sender, body string, attachments []StoredAttachment, timestamp int64, threadID int64) error

	ThreadForMembers(members []string) (int64, error)
	MembersForThread(threadID int64) ([]string, error)

	PersistAttachment(contentType string, data []byte) (string, error)
}
