package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pribylovaa/recycle-communities/internal/models"
	"github.com/pribylovaa/recycle-communities/internal/service"
	apierrors "github.com/pribylovaa/recycle-communities/internal/transport/http/errors"
)

func (h *Handlers) CreatePost(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var in CreatePostRequest
	if err := decodeStrict(r, &in); err != nil {
		apierrors.WriteError(w, r, apierrors.ErrBadRequest)
		return
	}

	p, err := h.Service.CreatePost(r.Context(), id, in.toService())
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, p)
}

// ListPosts - без community_id отдаёт глобальную ленту.
func (h *Handlers) ListPosts(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	q := r.URL.Query()
	out, err := h.Service.ListPosts(r.Context(), service.PostFilter{
		CommunityID: q.Get("community_id"),
		Category:    models.Category(q.Get("category")),
		Limit:       limit,
	})
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, PostsResponse{Posts: orEmpty(out)})
}

func (h *Handlers) GetPost(w http.ResponseWriter, r *http.Request) {
	p, err := h.Service.GetPost(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, p)
}

func (h *Handlers) DeletePost(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	if err := h.Service.DeletePost(r.Context(), chi.URLParam(r, "id"), id.UserID); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Vote применяет голос и возвращает итоговое состояние: повтор того же голоса снимает его.
func (h *Handlers) Vote(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var in VoteRequest
	if err := decodeStrict(r, &in); err != nil {
		apierrors.WriteError(w, r, apierrors.ErrBadRequest)
		return
	}

	postID := chi.URLParam(r, "id")
	if err := h.Service.Vote(r.Context(), postID, id.UserID, in.VoteType); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	h.writeVote(w, r, postID, id.UserID)
}

func (h *Handlers) GetVote(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	h.writeVote(w, r, chi.URLParam(r, "id"), id.UserID)
}

func (h *Handlers) writeVote(w http.ResponseWriter, r *http.Request, postID, userID string) {
	vt, err := h.Service.GetUserVote(r.Context(), postID, userID)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, VoteResponse{PostID: postID, VoteType: vt})
}

// ListComments отдаёт комментарии поста деревом.
func (h *Handlers) ListComments(w http.ResponseWriter, r *http.Request) {
	tree, err := h.Service.GetThreadedComments(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, CommentsResponse{Comments: orEmpty(tree)})
}

func (h *Handlers) AddComment(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var in AddCommentRequest
	if err := decodeStrict(r, &in); err != nil {
		apierrors.WriteError(w, r, apierrors.ErrBadRequest)
		return
	}

	c, err := h.Service.AddComment(r.Context(), id, service.AddCommentInput{
		PostID:   chi.URLParam(r, "id"),
		ParentID: in.ParentID,
		Content:  in.Content,
	})
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, c)
}

func (h *Handlers) DeleteComment(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	if err := h.Service.DeleteComment(r.Context(), chi.URLParam(r, "id"), id.UserID); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
