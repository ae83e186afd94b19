package snapshot

import "fmt"

// ProposalNotFoundError means the proposal, or the space it belongs to, could not be
// resolved. Without a space no voting-power query can be made.
type ProposalNotFoundError struct {
	ProposalID string
	Err        error
}

func (e *ProposalNotFoundError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("proposal %s: space not resolved: %v", e.ProposalID, e.Err)
	}
	return fmt.Sprintf("proposal %s: space not resolved", e.ProposalID)
}

func (e *ProposalNotFoundError) Unwrap() error { return e.Err }

// MissingDataError is a hub response without a data payload, including the case where
// no response arrived at all.
type MissingDataError struct {
	Voter string
	Err   error
}

func (e *MissingDataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("no voting power data for %s: %v", e.Voter, e.Err)
	}
	return fmt.Sprintf("no voting power data for %s", e.Voter)
}

func (e *MissingDataError) Unwrap() error { return e.Err }
