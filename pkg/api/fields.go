package api

import (
	"encoding/json"
	"net/http"

	"github.com/cardshield/rulegov/pkg/approval"
	"github.com/cardshield/rulegov/pkg/auth"
	"github.com/cardshield/rulegov/pkg/domain"
)

type fieldRequest struct {
	FieldKey          string            `json:"field_key"`
	DisplayName       string            `json:"display_name"`
	Description       string            `json:"description"`
	DataType          domain.DataType   `json:"data_type"`
	AllowedOperators  []domain.Operator `json:"allowed_operators"`
	MultiValueAllowed bool              `json:"multi_value_allowed"`
	IsSensitive       bool              `json:"is_sensitive"`
	EnumValues        []string          `json:"enum_values"`
}

func (req fieldRequest) params(actor string) approval.CreateFieldParams {
	return approval.CreateFieldParams{
		FieldKey:          req.FieldKey,
		DisplayName:       req.DisplayName,
		Description:       req.Description,
		DataType:          req.DataType,
		AllowedOperators:  req.AllowedOperators,
		MultiValueAllowed: req.MultiValueAllowed,
		IsSensitive:       req.IsSensitive,
		EnumValues:        req.EnumValues,
		By:                actor,
	}
}

func (s *Server) handleCreateField(w http.ResponseWriter, r *http.Request) {
	var req fieldRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	field, version, err := s.engine.CreateField(r.Context(), req.params(auth.ActorID(r.Context())))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, map[string]any{
		"field":   field,
		"version": version,
	})
}

func (s *Server) handleListFields(w http.ResponseWriter, r *http.Request) {
	req, err := pageRequest(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	page, err := s.st.ListFields(r.Context(), req)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, page)
}

func (s *Server) handleGetField(w http.ResponseWriter, r *http.Request) {
	field, err := s.st.GetField(r.Context(), r.PathValue("key"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, field)
}

func (s *Server) handleProposeFieldVersion(w http.ResponseWriter, r *http.Request) {
	var req fieldRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	req.FieldKey = r.PathValue("key")
	version, err := s.engine.ProposeFieldVersion(r.Context(), req.params(auth.ActorID(r.Context())))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, version)
}

type fieldMetadataRequest struct {
	Value       json.RawMessage `json:"value"`
	Description string          `json:"description"`
}

func (s *Server) handleSetFieldMetadata(w http.ResponseWriter, r *http.Request) {
	var req fieldMetadataRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	err := s.engine.SetFieldMetadata(r.Context(), r.PathValue("key"), r.PathValue("metaKey"), req.Value, req.Description, auth.ActorID(r.Context()))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListFieldMetadata(w http.ResponseWriter, r *http.Request) {
	rows, err := s.st.ListFieldMetadata(r.Context(), r.PathValue("key"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"items": rows})
}

func (s *Server) handlePublishFieldRegistry(w http.ResponseWriter, r *http.Request) {
	manifest, err := s.engine.PublishFieldRegistry(r.Context(), auth.ActorID(r.Context()))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, manifest)
}
