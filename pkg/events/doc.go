// Package events provides an in-memory broker for the outbound actions
// a committed batch produces: signals, call responses, lock grants and
// releases, and deletions. Publication happens only after a batch's
// CommitBatch succeeds, so subscribers never observe an action whose
// state change did not also commit.
package events
