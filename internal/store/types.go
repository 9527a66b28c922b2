package store

// DirectoryEntry is one row of the contact directory. A missing row means
// the address has never been resolved; that is distinct from Registered
// being false.
type DirectoryEntry struct {
	Address       string
	Registered    bool
	Relay         string
	SessionActive bool
	UpdatedAt     int64
}

// GroupEntry maps a transport group identifier (lowercase hex) to the host
// conversation thread it belongs to.
type GroupEntry struct {
	GroupID  string
	ThreadID int64
}

// PendingEntry is a quarantined envelope awaiting operator approval.
type PendingEntry struct {
	ID           string
	Source       string
	SourceDevice int
	Relay        string
	Timestamp    int64
	Receipt      bool
	Ciphertext   []byte
	CreatedAt    int64
}
