package promote

import (
	"encoding/json"
	"sort"

	agentsdberrors "github.com/agentsdb/agentsdb/internal/errors"
	"github.com/agentsdb/agentsdb/internal/layer"
	"github.com/agentsdb/agentsdb/internal/writer"
)

// ProposalEvent is one event in a proposal's append-only lifecycle,
// serialized as the content of a kind=meta.proposal_event chunk (§4.8).
type ProposalEvent struct {
	ProposalID      string         `json:"proposal_id"`
	ContextID       string         `json:"context_id"`
	FromPath        string         `json:"from_path"`
	ToPath          string         `json:"to_path"`
	Title           string         `json:"title,omitempty"`
	Why             string         `json:"why,omitempty"`
	What            string         `json:"what,omitempty"`
	Where           string         `json:"where,omitempty"`
	Status          ProposalStatus `json:"status"`
	CreatedAtUnixMs uint64         `json:"created_at_unix_ms"`
	DecidedAtUnixMs uint64         `json:"decided_at_unix_ms,omitempty"`
	DecidedBy       string         `json:"decided_by,omitempty"`
	DecisionReason  string         `json:"decision_reason,omitempty"`
}

// Propose appends a fresh pending ProposalEvent chunk to target, returning
// the proposal's id. event.ContextID names what the proposal would promote
// from event.FromPath to event.ToPath if accepted.
func Propose(target string, event ProposalEvent, createdAtUnixMs uint64) (string, error) {
	if event.ProposalID == "" {
		event.ProposalID = NewProposalID()
	}
	event.Status = ProposalPending
	event.CreatedAtUnixMs = createdAtUnixMs

	body, err := json.Marshal(event)
	if err != nil {
		return "", agentsdberrors.InternalErrorf(err, "marshal proposal event")
	}

	if _, err := writer.Append(target, []writer.NewChunk{{
		Kind:            ProposalEventKind,
		Content:         string(body),
		CreatedAtUnixMs: createdAtUnixMs,
	}}, writer.Options{}); err != nil {
		return "", err
	}
	return event.ProposalID, nil
}

// Decide appends a terminal (accepted|rejected) event for proposalID,
// recording it on target. When status is ProposalAccepted, the caller is
// responsible for running Promote first (Decide only records the outcome);
// the decision is rejected outright if the proposal is not currently
// pending.
func Decide(layers []*layer.Handle, target, proposalID string, status ProposalStatus, decidedBy, reason string, decidedAtUnixMs uint64) error {
	if status != ProposalAccepted && status != ProposalRejected {
		return agentsdberrors.PromotionErrorf(agentsdberrors.ErrCodeUnknownProposal, nil, "decision status must be accepted or rejected, got %q", status)
	}

	current, err := Effective(layers, proposalID)
	if err != nil {
		return err
	}
	if current == nil {
		return agentsdberrors.PromotionErrorf(agentsdberrors.ErrCodeUnknownProposal, nil, "no proposal %s found", proposalID)
	}
	if current.Status != ProposalPending {
		return agentsdberrors.PromotionErrorf(agentsdberrors.ErrCodeAlreadyDecided, nil,
			"proposal %s is already %s, not pending", proposalID, current.Status)
	}

	next := *current
	next.Status = status
	next.DecidedAtUnixMs = decidedAtUnixMs
	next.DecidedBy = decidedBy
	next.DecisionReason = reason

	body, err := json.Marshal(next)
	if err != nil {
		return agentsdberrors.InternalErrorf(err, "marshal proposal decision event")
	}

	_, err = writer.Append(target, []writer.NewChunk{{
		Kind:            ProposalEventKind,
		Content:         string(body),
		CreatedAtUnixMs: decidedAtUnixMs,
	}}, writer.Options{})
	return err
}

// Effective resolves proposalID's current state as the latest event
// recorded for it across layers, in write order; nil, nil if no such
// proposal exists.
func Effective(layers []*layer.Handle, proposalID string) (*ProposalEvent, error) {
	events, err := allEvents(layers)
	if err != nil {
		return nil, err
	}
	var latest *ProposalEvent
	for i := range events {
		if events[i].ProposalID == proposalID {
			latest = &events[i]
		}
	}
	return latest, nil
}

// List resolves every known proposal's current (latest) state, sorted by
// proposal id for deterministic output.
func List(layers []*layer.Handle) ([]ProposalEvent, error) {
	events, err := allEvents(layers)
	if err != nil {
		return nil, err
	}

	latest := map[string]ProposalEvent{}
	for _, e := range events {
		latest[e.ProposalID] = e
	}

	out := make([]ProposalEvent, 0, len(latest))
	for _, e := range latest {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProposalID < out[j].ProposalID })
	return out, nil
}

// allEvents reads every meta.proposal_event chunk across layers, in
// layer-then-write order (no cross-layer ordering is assumed beyond that:
// proposal ids are globally unique uuids, so only the last event seen for
// a given id per layer matters, and in practice one layer holds a given
// proposal's whole history).
func allEvents(layers []*layer.Handle) ([]ProposalEvent, error) {
	var events []ProposalEvent
	for _, h := range layers {
		n := h.ChunkCount()
		for i := 0; i < n; i++ {
			rec, err := h.ChunkByIndex(i)
			if err != nil {
				return nil, err
			}
			kind, err := h.Kind(rec)
			if err != nil {
				return nil, err
			}
			if kind != ProposalEventKind {
				continue
			}
			content, err := h.Content(rec)
			if err != nil {
				return nil, err
			}
			var e ProposalEvent
			if err := json.Unmarshal([]byte(content), &e); err != nil {
				return nil, agentsdberrors.FormatErrorf(agentsdberrors.ErrCodeCorruptRef, err,
					"proposal event chunk in %s is not valid JSON", h.Path())
			}
			events = append(events, e)
		}
	}
	return events, nil
}
