package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pribylovaa/recycle-communities/internal/models"
	"github.com/pribylovaa/recycle-communities/internal/service"
	apierrors "github.com/pribylovaa/recycle-communities/internal/transport/http/errors"
)

func (h *Handlers) CreateCommunity(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var in CreateCommunityRequest
	if err := decodeStrict(r, &in); err != nil {
		apierrors.WriteError(w, r, apierrors.ErrBadRequest)
		return
	}

	c, err := h.Service.CreateCommunity(r.Context(), id.UserID, in.toService())
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, c)
}

func (h *Handlers) ListCommunities(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	category := models.Category(r.URL.Query().Get("category"))

	out, err := h.Service.ListCommunities(r.Context(), category, limit)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, CommunitiesResponse{Communities: orEmpty(out)})
}

func (h *Handlers) GetCommunity(w http.ResponseWriter, r *http.Request) {
	c, err := h.Service.GetCommunity(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, c)
}

func (h *Handlers) GetCommunityBySlug(w http.ResponseWriter, r *http.Request) {
	c, err := h.Service.GetCommunityBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, c)
}

func (h *Handlers) UpdateCommunity(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var in UpdateCommunityRequest
	if err := decodeStrict(r, &in); err != nil {
		apierrors.WriteError(w, r, apierrors.ErrBadRequest)
		return
	}

	c, err := h.Service.UpdateCommunity(r.Context(), chi.URLParam(r, "id"), id.UserID, in.toService())
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, c)
}

func (h *Handlers) DeleteCommunity(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	if err := h.Service.DeleteCommunity(r.Context(), chi.URLParam(r, "id"), id.UserID); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// JoinCommunity - тело необязательно; без него настройка уведомлений "all".
func (h *Handlers) JoinCommunity(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var in PreferenceRequest
	if err := decodeOptional(r, &in); err != nil {
		apierrors.WriteError(w, r, apierrors.ErrBadRequest)
		return
	}

	if err := h.Service.Join(r.Context(), chi.URLParam(r, "id"), id.UserID, in.NotificationPreference); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) LeaveCommunity(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	if err := h.Service.Leave(r.Context(), chi.URLParam(r, "id"), id.UserID); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) SetNotificationPreference(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var in PreferenceRequest
	if err := decodeStrict(r, &in); err != nil {
		apierrors.WriteError(w, r, apierrors.ErrBadRequest)
		return
	}

	err := h.Service.SetNotificationPreference(r.Context(), chi.URLParam(r, "id"), id.UserID, in.NotificationPreference)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetMembership отвечает member=false, если пользователь не вступал.
func (h *Handlers) GetMembership(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	m, err := h.Service.GetMembership(r.Context(), chi.URLParam(r, "id"), id.UserID)
	switch {
	case errors.Is(err, service.ErrNotFound):
		writeJSON(w, http.StatusOK, MembershipResponse{})
	case err != nil:
		apierrors.WriteError(w, r, err)
	default:
		writeJSON(w, http.StatusOK, MembershipResponse{Member: m.Active(), Membership: m})
	}
}

func (h *Handlers) ListMembers(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	out, err := h.Service.ListMembers(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, MembersResponse{Members: orEmpty(out)})
}

func (h *Handlers) ListMyCommunities(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	out, err := h.Service.ListUserCommunities(r.Context(), id.UserID)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, CommunitiesResponse{Communities: orEmpty(out)})
}
