package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const proposalSpaceQuery = `query ProposalSpace($id: String!) {
  proposal(id: $id) {
    space {
      id
      name
    }
  }
}`

const votingPowerQuery = `query VotingPower($voter: String!, $proposal: String!, $space: String!) {
  vp(voter: $voter, proposal: $proposal, space: $space) {
    vp
    vp_by_strategy
    vp_state
  }
}`

// Space is the governance space a proposal lives in.
type Space struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ResolveSpace looks up the space of a proposal. Any failure, including transport
// errors, is reported as *ProposalNotFoundError.
func (c *Client) ResolveSpace(ctx context.Context, proposalID string) (Space, error) {
	resp, err := c.do(ctx, "proposal", proposalSpaceQuery, map[string]any{"id": proposalID})
	if err != nil {
		if ctx.Err() != nil {
			return Space{}, ctx.Err()
		}
		return Space{}, &ProposalNotFoundError{ProposalID: proposalID, Err: err}
	}
	if !resp.hasData() {
		return Space{}, &ProposalNotFoundError{ProposalID: proposalID, Err: responseError(resp)}
	}

	var data struct {
		Proposal *struct {
			Space *Space `json:"space"`
		} `json:"proposal"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return Space{}, &ProposalNotFoundError{ProposalID: proposalID, Err: err}
	}
	if data.Proposal == nil || data.Proposal.Space == nil || data.Proposal.Space.ID == "" {
		return Space{}, &ProposalNotFoundError{ProposalID: proposalID}
	}
	return *data.Proposal.Space, nil
}

// Power is one voter's voting power for a proposal.
type Power struct {
	Value      decimal.Decimal
	ByStrategy []decimal.Decimal
	State      string
}

type vpPayload struct {
	VP         *decimal.Decimal   `json:"vp"`
	ByStrategy []*decimal.Decimal `json:"vp_by_strategy"`
	State      string             `json:"vp_state"`
}

// toPower is where absent values become zero.
func (p *vpPayload) toPower() Power {
	if p == nil {
		return Power{Value: decimal.Zero}
	}
	power := Power{Value: orZero(p.VP), State: p.State}
	for _, s := range p.ByStrategy {
		power.ByStrategy = append(power.ByStrategy, orZero(s))
	}
	return power
}

func orZero(d *decimal.Decimal) decimal.Decimal {
	if d == nil || d.IsNegative() {
		return decimal.Zero
	}
	return *d
}

// VotingPower queries one voter. A response without a data payload, or no response at
// all, is *MissingDataError; a data payload with a null or absent vp is zero power.
func (c *Client) VotingPower(ctx context.Context, voter, proposalID, spaceID string) (Power, error) {
	voter = strings.ToLower(voter)
	resp, err := c.do(ctx, "vp", votingPowerQuery, map[string]any{
		"voter":    voter,
		"proposal": proposalID,
		"space":    spaceID,
	})
	if err != nil {
		if ctx.Err() != nil {
			return Power{}, ctx.Err()
		}
		return Power{}, &MissingDataError{Voter: voter, Err: err}
	}
	if !resp.hasData() {
		return Power{}, &MissingDataError{Voter: voter, Err: responseError(resp)}
	}

	var data struct {
		VP *vpPayload `json:"vp"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return Power{}, &MissingDataError{Voter: voter, Err: fmt.Errorf("failed to decode vp payload: %w", err)}
	}
	return data.VP.toPower(), nil
}

func responseError(resp *gqlResponse) error {
	if msg := resp.errorMessage(); msg != "" {
		return errors.New(msg)
	}
	return nil
}
