package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/JAGGU8160/blog-app/internal/services"
	"github.com/JAGGU8160/blog-app/types"
)

// PostHandler provides HTTP handlers for posts.
type PostHandler struct {
	postService *services.PostService
	log         logrus.FieldLogger
}

func NewPostHandler(postService *services.PostService, log logrus.FieldLogger) *PostHandler {
	return &PostHandler{
		postService: postService,
		log:         log,
	}
}

// PostRouter registers post routes on the given router.
func PostRouter(
	r chi.Router,
	postService *services.PostService,
	authMiddleware func(http.Handler) http.Handler,
	log logrus.FieldLogger,
) {
	handler := NewPostHandler(postService, log)

	r.Get("/", handler.ListPosts)
	r.With(authMiddleware).Get("/me/mine", handler.ListMyPosts)
	r.Get("/{slug}", handler.GetPost)
	r.With(authMiddleware).Post("/", handler.CreatePost)
	r.With(authMiddleware).Put("/{id}", handler.UpdatePost)
	r.With(authMiddleware).Delete("/{id}", handler.DeletePost)
}

func (h *PostHandler) ListPosts(w http.ResponseWriter, r *http.Request) {
	posts, err := h.postService.ListAll(r.Context())
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, posts)
}

func (h *PostHandler) ListMyPosts(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authorized, no token")
		return
	}

	posts, err := h.postService.ListMine(r.Context(), identity.ID)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, posts)
}

func (h *PostHandler) GetPost(w http.ResponseWriter, r *http.Request) {
	post, err := h.postService.GetBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

func (h *PostHandler) CreatePost(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authorized, no token")
		return
	}

	var req CreatePostRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	created, err := h.postService.Create(r.Context(), identity.ID, services.CreatePostInput{
		Title:    req.Title,
		Content:  req.Content,
		ImageURL: req.ImageURL,
		Category: req.Category,
	})
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *PostHandler) UpdatePost(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authorized, no token")
		return
	}

	id, err := parsePostID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req UpdatePostRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	updated, err := h.postService.Update(r.Context(), id, identity.ID, types.PostPatch{
		Title:    req.Title,
		Content:  req.Content,
		ImageURL: req.ImageURL,
		Category: req.Category,
	})
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *PostHandler) DeletePost(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authorized, no token")
		return
	}

	id, err := parsePostID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.postService.Delete(r.Context(), id, identity.ID); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, DeletePostResponse{Message: "Post deleted", ID: id})
}

type CreatePostRequest struct {
	Title    string `json:"title"`
	Content  string `json:"content"`
	ImageURL string `json:"imageUrl"`
	Category string `json:"category"`
}

// UpdatePostRequest carries a partial update; absent fields are nil.
type UpdatePostRequest struct {
	Title    *string `json:"title"`
	Content  *string `json:"content"`
	ImageURL *string `json:"imageUrl"`
	Category *string `json:"category"`
}

type DeletePostResponse struct {
	Message string `json:"message"`
	ID      int    `json:"id"`
}
