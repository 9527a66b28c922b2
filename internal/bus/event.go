package bus

import "time"

// Event kinds published by the bridge core. Subscribers filter by namespace
// prefix, e.g. "notify." for everything that should reach the user.
const (
	KindNotifyProblem         = "notify.problem"
	KindNotifyBlacklisted     = "notify.blacklisted"
	KindNotifyNewSession      = "notify.new_session"
	KindNotifyIdentityChanged = "notify.identity_changed"

	KindMessageStored     = "message.stored"
	KindMessageSent       = "message.sent"
	KindMessageSendFailed = "message.send_failed"

	KindApprovalQueued   = "approval.queued"
	KindApprovalResolved = "approval.resolved"

	KindSessionReset       = "session.reset"
	KindDirectoryRefreshed = "directory.refreshed"
	KindStatusChanged      = "daemon.status_changed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Problem is the payload for notify.problem and notify.blacklisted events.
type Problem struct {
	Address string
	Reason  string
}

// Approval is the payload for approval.* events.
type Approval struct {
	ID      string
	Address string
}

// Stored is the payload for message.stored events.
type Stored struct {
	Address  string
	ThreadID int64
	Group    bool
}
