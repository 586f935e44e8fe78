package output

import "context"

// ChangeRequestGateway talks to the hosting service that reviews and merges
// workflow branches (pull requests) and carries issue comments
type ChangeRequestGateway interface {
	// Create opens a change request for head against base
	Create(ctx context.Context, req ChangeRequestInput) (ChangeRequest, error)

	// Merge merges the change request. Merging an already merged request
	// returns the existing merge reference instead of failing.
	Merge(ctx context.Context, id string) (MergeResult, error)

	// Comment posts body on the issue identified by issueRef
	Comment(ctx context.Context, issueRef, body string) error
}

// ChangeRequestInput describes a change request to open
type ChangeRequestInput struct {
	Head  string
	Base  string
	Title string
	Body  string
}

// ChangeRequest identifies an opened change request
type ChangeRequest struct {
	ID  string
	URL string
}

// MergeResult describes a merged change request
type MergeResult struct {
	// Reference is the merge commit on the trunk
	Reference string
	// ExternalID is the fully qualified id at the hosting service (owner/repo#N)
	ExternalID    string
	AlreadyMerged bool
}
