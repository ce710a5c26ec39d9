package types

import "time"

// Filter selects entity records for Query (§4.2, §4.6). A zero value
// matches every record except transient ones (IncludeTransient is false)
// and returns no state.
type Filter struct {
	IDPrefix         string
	HasIDPrefix      bool
	LastModifiedFrom time.Time
	HasFrom          bool
	LastModifiedTo   time.Time
	HasTo            bool
	PageSize         int
	IncludeState     bool
	IncludeTransient bool
	ContinuationToken string
}

// CleanResult reports the outcome of a Clean() sweep (§4.2, §4.6).
type CleanResult struct {
	EmptyEntitiesRemoved  int
	OrphanedLocksReleased int
}

// Metadata is what queries and GetEntity surface to callers (§6):
// a record's shape minus the raw state bytes unless requested.
type Metadata struct {
	ID                   InstanceID
	Exists               bool
	State                []byte // nil unless Filter.IncludeState
	LockedBy             InstanceID
	Locked               bool
	LastModified         time.Time
	BacklogQueueSize     int
	PendingLockQueueSize int
}

// Page is one page of a Query result, with an opaque continuation
// token for the next page (empty when exhausted).
type Page struct {
	Items      []Metadata
	NextToken  string
	HasMore    bool
}
