package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JAGGU8160/blog-app/internal/metrics"
	"github.com/JAGGU8160/blog-app/internal/render"
	"github.com/JAGGU8160/blog-app/internal/store"
	"github.com/JAGGU8160/blog-app/types"
)

// slugAttempts bounds retries when two posts with the same title land in
// the same millisecond.
const slugAttempts = 3

// PostRepository defines persistence operations for posts.
type PostRepository interface {
	List(ctx context.Context) ([]types.Post, error)
	ListByUser(ctx context.Context, userID int) ([]types.Post, error)
	GetBySlug(ctx context.Context, slug string) (types.Post, error)
	GetByID(ctx context.Context, id int) (types.Post, error)
	Create(ctx context.Context, post types.Post) (types.Post, error)
	Update(ctx context.Context, post types.Post) (types.Post, error)
	Delete(ctx context.Context, id, userID int) (imageURL *string, err error)
	Exists(ctx context.Context, id int) (bool, error)
}

// ImageRemover deletes an uploaded image by its public URL. URLs it did not
// issue are ignored.
type ImageRemover interface {
	RemoveImage(ctx context.Context, url string) error
}

// PostService encapsulates post use-cases and owner checks.
type PostService struct {
	repo     PostRepository
	images   ImageRemover
	renderer *render.Renderer
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewPostService(repo PostRepository, images ImageRemover, renderer *render.Renderer, m *metrics.Metrics) *PostService {
	return &PostService{
		repo:     repo,
		images:   images,
		renderer: renderer,
		metrics:  m,
		now:      time.Now,
	}
}

type CreatePostInput struct {
	Title    string
	Content  string
	ImageURL string
	Category string
}

func (s *PostService) Create(ctx context.Context, ownerID int, in CreatePostInput) (post types.Post, err error) {
	defer func() { s.metrics.Post("create", err) }()

	title := strings.TrimSpace(in.Title)
	if title == "" || strings.TrimSpace(in.Content) == "" {
		return types.Post{}, invalid("Title and content are required")
	}

	category := strings.TrimSpace(in.Category)
	if category == "" {
		category = types.DefaultCategory
	}

	draft := types.Post{
		UserID:   ownerID,
		Title:    title,
		Content:  in.Content,
		ImageURL: optionalURL(in.ImageURL),
		Category: category,
	}

	at := s.now()
	for attempt := 0; attempt < slugAttempts; attempt++ {
		draft.Slug = postSlug(title, at.Add(time.Duration(attempt)*time.Millisecond))
		post, err = s.repo.Create(ctx, draft)
		if !errors.Is(err, store.ErrDuplicateSlug) {
			break
		}
	}
	if err != nil {
		return types.Post{}, fmt.Errorf("create post: %w", err)
	}
	return s.rendered(post), nil
}

// ListAll returns every post, newest first.
func (s *PostService) ListAll(ctx context.Context) ([]types.Post, error) {
	posts, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	return s.renderedAll(posts), nil
}

// ListMine returns the posts owned by ownerID, newest first.
func (s *PostService) ListMine(ctx context.Context, ownerID int) ([]types.Post, error) {
	posts, err := s.repo.ListByUser(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	return s.renderedAll(posts), nil
}

func (s *PostService) GetBySlug(ctx context.Context, slug string) (types.Post, error) {
	post, err := s.repo.GetBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Post{}, ErrPostNotFound
		}
		return types.Post{}, fmt.Errorf("get post: %w", err)
	}
	return s.rendered(post), nil
}

// Update applies patch to a post owned by requesterID. Title and category
// keep their value when blank, content may not be set blank, an empty image
// URL clears the image. The slug never changes. An image that is replaced
// or cleared is removed from storage after the write.
func (s *PostService) Update(ctx context.Context, postID, requesterID int, patch types.PostPatch) (post types.Post, err error) {
	defer func() { s.metrics.Post("update", err) }()

	current, err := s.repo.GetByID(ctx, postID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Post{}, ErrPostNotFound
		}
		return types.Post{}, fmt.Errorf("get post: %w", err)
	}
	if current.UserID != requesterID {
		return types.Post{}, ErrForbidden
	}

	next := current
	if patch.Title != nil {
		if title := strings.TrimSpace(*patch.Title); title != "" {
			next.Title = title
		}
	}
	if patch.Content != nil {
		if strings.TrimSpace(*patch.Content) == "" {
			return types.Post{}, invalid("Content cannot be empty")
		}
		next.Content = *patch.Content
	}
	if patch.ImageURL != nil {
		next.ImageURL = optionalURL(*patch.ImageURL)
	}
	if patch.Category != nil {
		if category := strings.TrimSpace(*patch.Category); category != "" {
			next.Category = category
		}
	}

	post, err = s.repo.Update(ctx, next)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Deleted or reassigned between the read and the write.
			return types.Post{}, ErrPostNotFound
		}
		return types.Post{}, fmt.Errorf("update post: %w", err)
	}
	if current.ImageURL != nil && (post.ImageURL == nil || *post.ImageURL != *current.ImageURL) {
		s.removeImage(ctx, *current.ImageURL)
	}
	return s.rendered(post), nil
}

// Delete removes a post owned by requesterID along with its uploaded image.
// When nothing was deleted an existence check tells a missing post from
// somebody else's.
func (s *PostService) Delete(ctx context.Context, postID, requesterID int) (err error) {
	defer func() { s.metrics.Post("delete", err) }()

	imageURL, err := s.repo.Delete(ctx, postID, requesterID)
	if err == nil {
		if imageURL != nil {
			s.removeImage(ctx, *imageURL)
		}
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("delete post: %w", err)
	}

	exists, err := s.repo.Exists(ctx, postID)
	if err != nil {
		return fmt.Errorf("check post: %w", err)
	}
	if exists {
		return ErrForbidden
	}
	return ErrPostNotFound
}

// removeImage is best effort: the post change is already committed, so a
// storage failure only shows up in the image_cleanup metric.
func (s *PostService) removeImage(ctx context.Context, url string) {
	if s.images == nil {
		return
	}
	s.metrics.Post("image_cleanup", s.images.RemoveImage(ctx, url))
}

func (s *PostService) rendered(post types.Post) types.Post {
	post.ContentHTML = s.renderer.HTML(post.Content)
	return post
}

func (s *PostService) renderedAll(posts []types.Post) []types.Post {
	for i := range posts {
		posts[i] = s.rendered(posts[i])
	}
	return posts
}

func optionalURL(raw string) *string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
