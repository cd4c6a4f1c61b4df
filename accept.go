package agentsdb

import (
	"strconv"

	agentsdberrors "github.com/agentsdb/agentsdb/internal/errors"
	"github.com/agentsdb/agentsdb/internal/layer"
	"github.com/agentsdb/agentsdb/internal/promote"
)

// AcceptAndPromote accepts a pending proposal and runs the promotion it
// describes in one step (`accept/reject`): the proposal's context_id names
// the single chunk id to promote from its from_path to its to_path, per the
// public operations table's propose(context_id, from_path, to_path,
// narrative) signature, which carries no separate ids[] list.
func (s *Store) AcceptAndPromote(layers []*layer.Handle, proposalTarget, proposalID, decidedBy, reason string, decidedAtUnixMs uint64, skipExisting, allowBase bool) (promote.Result, error) {
	event, err := promote.Effective(layers, proposalID)
	if err != nil {
		return promote.Result{}, err
	}
	if event == nil {
		return promote.Result{}, agentsdberrors.PromotionErrorf(agentsdberrors.ErrCodeUnknownProposal, nil, "no proposal %s found", proposalID)
	}

	chunkID, err := strconv.ParseUint(event.ContextID, 10, 32)
	if err != nil {
		return promote.Result{}, agentsdberrors.PromotionErrorf(agentsdberrors.ErrCodeUnknownProposal, err,
			"proposal %s has non-numeric context_id %q", proposalID, event.ContextID)
	}

	res, err := promote.Promote(promote.Request{
		FromPath:     event.FromPath,
		ToPath:       event.ToPath,
		IDs:          []uint32{uint32(chunkID)},
		SkipExisting: skipExisting,
		ToIsBase:     allowBase,
	})
	if err != nil {
		return promote.Result{}, err
	}

	if err := promote.Decide(layers, proposalTarget, proposalID, promote.ProposalAccepted, decidedBy, reason, decidedAtUnixMs); err != nil {
		return promote.Result{}, err
	}
	return res, nil
}
