package api

import (
	"context"
	"net/http"

	"github.com/cardshield/rulegov/pkg/approval"
	"github.com/cardshield/rulegov/pkg/auth"
	"github.com/cardshield/rulegov/pkg/domain"
	"github.com/cardshield/rulegov/pkg/store"
)

const idempotencyKeyHeader = "Idempotency-Key"

type remarksRequest struct {
	Remarks string `json:"remarks"`
}

// decodeRemarks tolerates an empty body; remarks are optional on every
// workflow action.
func decodeRemarks(r *http.Request) (string, error) {
	if r.ContentLength == 0 {
		return "", nil
	}
	var req remarksRequest
	if err := decodeJSON(r, &req); err != nil {
		return "", err
	}
	return req.Remarks, nil
}

// submitHandler builds the submit endpoint for one entity type. Retries
// carrying the same Idempotency-Key header return the original approval.
func (s *Server) submitHandler(entityType domain.ApprovalEntityType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		remarks, err := decodeRemarks(r)
		if err != nil {
			WriteError(w, err)
			return
		}
		row, err := s.engine.Submit(r.Context(), approval.SubmitParams{
			EntityType:     entityType,
			EntityID:       r.PathValue("id"),
			Maker:          auth.ActorID(r.Context()),
			Remarks:        remarks,
			IdempotencyKey: r.Header.Get(idempotencyKeyHeader),
		})
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, row)
	}
}

// decisionHandler builds the approve or reject endpoint for one entity
// type.
func (s *Server) decisionHandler(entityType domain.ApprovalEntityType, approve bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		remarks, err := decodeRemarks(r)
		if err != nil {
			WriteError(w, err)
			return
		}
		checker := auth.ActorID(r.Context())
		var row *domain.Approval
		if approve {
			row, err = s.engine.Approve(r.Context(), entityType, r.PathValue("id"), checker, remarks)
		} else {
			row, err = s.engine.Reject(r.Context(), entityType, r.PathValue("id"), checker, remarks)
		}
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, row)
	}
}

func (s *Server) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	req, err := pageRequest(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	q := r.URL.Query()
	filter := store.ApprovalFilter{EntityID: q.Get("entity_id")}
	if raw := q.Get("entity_type"); raw != "" {
		t := domain.ApprovalEntityType(raw)
		filter.EntityType = &t
	}
	if raw := q.Get("status"); raw != "" {
		st := domain.ApprovalStatus(raw)
		filter.Status = &st
	}
	page, err := s.st.ListApprovals(r.Context(), filter, req)
	if err != nil {
		WriteError(w, err)
		return
	}
	enriched := store.Page[approvalItem]{
		Items:      make([]approvalItem, 0, len(page.Items)),
		NextCursor: page.NextCursor,
		PrevCursor: page.PrevCursor,
		HasNext:    page.HasNext,
		HasPrev:    page.HasPrev,
		Limit:      page.Limit,
	}
	for i := range page.Items {
		enriched.Items = append(enriched.Items, s.enrichApproval(r.Context(), page.Items[i]))
	}
	WriteJSON(w, http.StatusOK, enriched)
}

// approvalItem is an approval row joined with the identity of the
// version it targets, so list consumers can group by rule or ruleset
// without a second round trip.
type approvalItem struct {
	domain.Approval
	RuleID    string `json:"rule_id,omitempty"`
	RulesetID string `json:"ruleset_id,omitempty"`
	FieldKey  string `json:"field_key,omitempty"`
}

func (s *Server) enrichApproval(ctx context.Context, a domain.Approval) approvalItem {
	item := approvalItem{Approval: a}
	switch a.EntityType {
	case domain.EntityRuleVersion:
		if v, err := s.st.GetRuleVersion(ctx, a.EntityID); err == nil {
			item.RuleID = v.RuleID
		}
	case domain.EntityRulesetVersion:
		if v, err := s.st.GetRulesetVersion(ctx, a.EntityID); err == nil {
			item.RulesetID = v.RulesetID
		}
	case domain.EntityFieldVersion:
		if v, err := s.st.GetFieldVersion(ctx, a.EntityID); err == nil {
			item.FieldKey = v.FieldKey
		}
	}
	return item
}
