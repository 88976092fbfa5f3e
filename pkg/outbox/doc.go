// Package outbox stores newsletter issues together with one delivery task per
// recipient, and drains those tasks with concurrent workers.
//
// Writer.Enqueue runs inside the caller's transaction, so the issue and its
// tasks become visible only if that transaction commits. Workers claim one task
// at a time with a locking read that skips rows locked by other workers, send
// the email while holding the lock and then delete the task. A task is deleted
// whether or not the send succeeded: failed sends are logged, never retried.
//
// Delivery is at least once. If the process dies after a successful send but
// before the delete commits, the task is claimed again and the email is sent a
// second time. Removing that window needs a persisted per task attempt marker.
package outbox
