package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/uma-engine/go-core/internal/ticket"
	"github.com/uma-engine/go-core/pkg/types"
)

// callerHeader names the authenticated principal of the request. Token
// verification happens upstream; this layer trusts the gateway.
const callerHeader = "X-Caller-ID"

func (s *Server) caller(r *http.Request) (*types.Identity, error) {
	id := r.Header.Get(callerHeader)
	if id == "" {
		return nil, &types.ValidationError{Field: callerHeader, Message: "caller header is required"}
	}
	// The resource server principal is not a directory user
	if id == s.serverID {
		return &types.Identity{ID: id}, nil
	}
	return s.directory.Lookup(r.Context(), id)
}

// evaluateRequest asks for a decision over one or more resources
type evaluateRequest struct {
	Identity    string              `json:"identity"`
	Context     map[string][]string `json:"context,omitempty"`
	Permissions []struct {
		Resource string   `json:"resource"`
		Scopes   []string `json:"scopes,omitempty"`
	} `json:"permissions"`
}

// evaluate runs the full authorization decision for the request
func (s *Server) evaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}
	if req.Identity == "" {
		s.respondError(w, http.StatusBadRequest, "VALIDATION_FAILED", "identity is required")
		return
	}
	if len(req.Permissions) == 0 {
		s.respondError(w, http.StatusBadRequest, "VALIDATION_FAILED", "at least one permission is required")
		return
	}

	evalCtx, err := s.buildContext(r, req.Identity, req.Context)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}

	permissions := make([]*types.ResourcePermission, 0, len(req.Permissions))
	for _, p := range req.Permissions {
		perm, err := s.resolvePermission(p.Resource, p.Scopes)
		if err != nil {
			s.respondDomainError(w, err)
			return
		}
		permissions = append(permissions, perm)
	}

	start := time.Now()
	granted, err := s.authorizer.Authorize(r.Context(), permissions, evalCtx)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"permissions": granted,
		"metadata": map[string]interface{}{
			"evaluationTimeMs": time.Since(start).Milliseconds(),
			"permissionCount":  len(granted),
		},
	})
}

func (s *Server) buildContext(r *http.Request, idOrUsername string, attrs map[string][]string) (*types.EvaluationContext, error) {
	if s.builder != nil {
		return s.builder.Build(r.Context(), idOrUsername, attrs)
	}
	id, err := s.directory.Lookup(r.Context(), idOrUsername)
	if err != nil {
		return nil, err
	}
	return &types.EvaluationContext{Identity: id, Attributes: attrs}, nil
}

// resolvePermission resolves a resource by ID or name and its scopes by
// ID or name
func (s *Server) resolvePermission(resourceRef string, scopeRefs []string) (*types.ResourcePermission, error) {
	res, err := s.resources.GetResource(s.serverID, resourceRef)
	if err != nil {
		res, err = s.resources.FindResourceByName(s.serverID, resourceRef)
		if err != nil {
			return nil, err
		}
	}

	scopes := make([]*types.Scope, 0, len(scopeRefs))
	for _, ref := range scopeRefs {
		scope, err := s.resources.GetScope(s.serverID, ref)
		if err != nil {
			scope, err = s.resources.FindScopeByName(s.serverID, ref)
			if err != nil {
				return nil, err
			}
		}
		scopes = append(scopes, scope)
	}

	return &types.ResourcePermission{Resource: res, Scopes: scopes}, nil
}

// Ticket handlers

func (s *Server) createTicket(w http.ResponseWriter, r *http.Request) {
	caller, err := s.caller(r)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}

	var req ticket.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}

	created, err := s.tickets.Create(r.Context(), caller, &req)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]interface{}{"ticket": created})
}

func (s *Server) updateTicket(w http.ResponseWriter, r *http.Request) {
	caller, err := s.caller(r)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}

	var req ticket.UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}

	updated, err := s.tickets.Update(r.Context(), caller, &req)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"ticket": updated})
}

func (s *Server) deleteTicket(w http.ResponseWriter, r *http.Request) {
	caller, err := s.caller(r)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}

	id := mux.Vars(r)["id"]
	if err := s.tickets.Delete(r.Context(), caller, id); err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"deleted": id})
}

// findTickets translates query parameters onto the canonical filter keys
func (s *Server) findTickets(w http.ResponseWriter, r *http.Request) {
	if _, err := s.caller(r); err != nil {
		s.respondDomainError(w, err)
		return
	}

	query := r.URL.Query()
	filters := make(map[string]string)
	for param, key := range map[string]string{
		"resource":    types.FilterResource,
		"scope":       types.FilterScope,
		"scopeIsNull": types.FilterScopeIsNull,
		"owner":       types.FilterOwner,
		"requester":   types.FilterRequester,
		"granted":     types.FilterGranted,
	} {
		if v := query.Get(param); v != "" {
			filters[key] = v
		}
	}

	first, _ := strconv.Atoi(query.Get("first"))
	max, _ := strconv.Atoi(query.Get("max"))

	tickets, err := s.tickets.Find(r.Context(), filters, first, max)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	if tickets == nil {
		tickets = []*types.PermissionTicket{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"tickets": tickets,
		"count":   len(tickets),
	})
}

// Group sync handlers

func (s *Server) syncImport(w http.ResponseWriter, r *http.Request) {
	if s.reconciler == nil {
		s.respondError(w, http.StatusNotImplemented, "SYNC_DISABLED", "group synchronization is not configured")
		return
	}
	result, err := s.reconciler.ImportFromExternal(r.Context())
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"result": result})
}

func (s *Server) syncExport(w http.ResponseWriter, r *http.Request) {
	if s.reconciler == nil {
		s.respondError(w, http.StatusNotImplemented, "SYNC_DISABLED", "group synchronization is not configured")
		return
	}
	result, err := s.reconciler.ExportToExternal(r.Context())
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"result": result})
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
	})
}
