package outbox

import "fmt"

// ClaimError indicates a failure to start a transaction or claim a task.
type ClaimError struct {
	Err error
}

func (e *ClaimError) Error() string { return fmt.Sprintf("claiming delivery task: %v", e.Err) }

func (e *ClaimError) Unwrap() error { return e.Err }

// IssueError indicates a failure to load the issue of a claimed task.
// The task is left in the queue.
type IssueError struct {
	Task DeliveryTask
	Err  error
}

func (e *IssueError) Error() string {
	return fmt.Sprintf("loading issue %s: %v", e.Task.IssueID, e.Err)
}
func (e *IssueError) Unwrap() error { return e.Err }

// DeleteError indicates a failure to delete a processed task.
// The task is left in the queue and will be delivered again.
type DeleteError struct {
	Task DeliveryTask
	Err  error
}

func (e *DeleteError) Error() string {
	return fmt.Sprintf("deleting delivery task for issue %s: %v", e.Task.IssueID, e.Err)
}
func (e *DeleteError) Unwrap() error { return e.Err }

// CommitError indicates a failure to commit the deletion of a processed task.
type CommitError struct {
	Task DeliveryTask
	Err  error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("committing delivery of issue %s: %v", e.Task.IssueID, e.Err)
}
func (e *CommitError) Unwrap() error { return e.Err }

// DeliveryError describes a failed send. It is logged and the task is dropped.
type DeliveryError struct {
	Task DeliveryTask
	Err  error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivering issue %s to %s: %v", e.Task.IssueID, e.Task.Recipient, e.Err)
}
func (e *DeliveryError) Unwrap() error { return e.Err }

// RecipientError describes a task whose recipient address is invalid.
// It is logged and the task is dropped without sending.
type RecipientError struct {
	Task DeliveryTask
	Err  error
}

func (e *RecipientError) Error() string {
	return fmt.Sprintf("invalid recipient %q: %v", e.Task.Recipient, e.Err)
}
func (e *RecipientError) Unwrap() error { return e.Err }
