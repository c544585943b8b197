package services

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JAGGU8160/blog-app/internal/metrics"
	"github.com/JAGGU8160/blog-app/internal/storage"
	"github.com/JAGGU8160/blog-app/types"
)

func strPtr(s string) *string { return &s }

const testPublicURL = "http://localhost:5000/uploads"

type postFixture struct {
	svc     *PostService
	repo    *memoryPosts
	objects *memoryObjects
	metrics *metrics.Metrics
	alice   int
	bob     int
}

func newPostFixture(t *testing.T) postFixture {
	t.Helper()
	ctx := context.Background()
	users := newMemoryUsers()
	alice, err := users.Create(ctx, types.User{Name: "Alice", Email: "a@x.com", PasswordHash: "h"})
	require.NoError(t, err)
	bob, err := users.Create(ctx, types.User{Name: "Bob", Email: "b@x.com", PasswordHash: "h"})
	require.NoError(t, err)

	repo := newMemoryPosts(users)
	objects := newMemoryObjects()
	m := newTestMetrics()
	uploads := NewUploadService(storage.NewStorage("memory", objects), testPublicURL, 1<<20, m)
	return postFixture{
		svc:     NewPostService(repo, uploads, newTestRenderer(t), m),
		repo:    repo,
		objects: objects,
		metrics: m,
		alice:   alice.ID,
		bob:     bob.ID,
	}
}

var helloWorldSlug = regexp.MustCompile(`^hello-world-\d+$`)

func TestPostService_Create(t *testing.T) {
	f := newPostFixture(t)

	post, err := f.svc.Create(context.Background(), f.alice, CreatePostInput{
		Title:   "  Hello World ",
		Content: "**bold**",
	})
	require.NoError(t, err)

	assert.Equal(t, "Hello World", post.Title)
	assert.Regexp(t, helloWorldSlug, post.Slug)
	assert.Equal(t, types.DefaultCategory, post.Category)
	assert.Nil(t, post.ImageURL)
	assert.Equal(t, "Alice", post.Author)
	assert.Contains(t, post.ContentHTML, "<strong>bold</strong>")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.svc.metrics.PostOperationsTotal.WithLabelValues("create", metrics.ResultOK)))
}

func TestPostService_CreateSlugUsesClock(t *testing.T) {
	f := newPostFixture(t)
	at := time.UnixMilli(1767225600123)
	f.svc.now = func() time.Time { return at }

	post, err := f.svc.Create(context.Background(), f.alice, CreatePostInput{Title: "Hello World", Content: "x"})
	require.NoError(t, err)
	assert.Equal(t, "hello-world-1767225600123", post.Slug)
}

func TestPostService_CreateSameTitleSameMillisecond(t *testing.T) {
	f := newPostFixture(t)
	at := time.UnixMilli(1767225600123)
	f.svc.now = func() time.Time { return at }

	first, err := f.svc.Create(context.Background(), f.alice, CreatePostInput{Title: "Same", Content: "x"})
	require.NoError(t, err)
	second, err := f.svc.Create(context.Background(), f.alice, CreatePostInput{Title: "Same", Content: "y"})
	require.NoError(t, err)

	assert.NotEqual(t, first.Slug, second.Slug)
	assert.Equal(t, "same-1767225600124", second.Slug)
}

func TestPostService_CreateOptionalFields(t *testing.T) {
	f := newPostFixture(t)

	post, err := f.svc.Create(context.Background(), f.alice, CreatePostInput{
		Title:    "T",
		Content:  "C",
		ImageURL: "http://img/x.png",
		Category: "  Travel ",
	})
	require.NoError(t, err)
	require.NotNil(t, post.ImageURL)
	assert.Equal(t, "http://img/x.png", *post.ImageURL)
	assert.Equal(t, "Travel", post.Category)
}

func TestPostService_CreateValidation(t *testing.T) {
	f := newPostFixture(t)

	for _, in := range []CreatePostInput{
		{Title: "", Content: "c"},
		{Title: "   ", Content: "c"},
		{Title: "t", Content: ""},
	} {
		_, err := f.svc.Create(context.Background(), f.alice, in)
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr)
	}
	assert.Empty(t, f.repo.posts)
}

func TestPostService_ListAllNewestFirst(t *testing.T) {
	ctx := context.Background()
	f := newPostFixture(t)

	for _, title := range []string{"one", "two", "three"} {
		_, err := f.svc.Create(ctx, f.alice, CreatePostInput{Title: title, Content: "c"})
		require.NoError(t, err)
	}

	posts, err := f.svc.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, posts, 3)
	assert.Equal(t, "three", posts[0].Title)
	assert.Equal(t, "one", posts[2].Title)
	for _, p := range posts {
		assert.NotEmpty(t, p.ContentHTML)
	}
}

func TestPostService_ListAllError(t *testing.T) {
	f := newPostFixture(t)
	f.repo.err = errBoom

	_, err := f.svc.ListAll(context.Background())
	assert.ErrorIs(t, err, errBoom)
}

func TestPostService_ListMine(t *testing.T) {
	ctx := context.Background()
	f := newPostFixture(t)

	_, err := f.svc.Create(ctx, f.alice, CreatePostInput{Title: "mine", Content: "c"})
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, f.bob, CreatePostInput{Title: "theirs", Content: "c"})
	require.NoError(t, err)

	posts, err := f.svc.ListMine(ctx, f.alice)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, "mine", posts[0].Title)
}

func TestPostService_GetBySlug(t *testing.T) {
	ctx := context.Background()
	f := newPostFixture(t)

	created, err := f.svc.Create(ctx, f.alice, CreatePostInput{Title: "T", Content: "C"})
	require.NoError(t, err)

	got, err := f.svc.GetBySlug(ctx, created.Slug)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "Alice", got.Author)

	_, err = f.svc.GetBySlug(ctx, "missing")
	assert.ErrorIs(t, err, ErrPostNotFound)
}

func TestPostService_UpdateContentOnlyKeepsTitleAndSlug(t *testing.T) {
	ctx := context.Background()
	f := newPostFixture(t)

	created, err := f.svc.Create(ctx, f.alice, CreatePostInput{Title: "Hello World", Content: "old", ImageURL: "http://img"})
	require.NoError(t, err)

	updated, err := f.svc.Update(ctx, created.ID, f.alice, types.PostPatch{Content: strPtr("new")})
	require.NoError(t, err)

	assert.Equal(t, "Hello World", updated.Title)
	assert.Equal(t, created.Slug, updated.Slug)
	assert.Equal(t, "new", updated.Content)
	assert.Equal(t, created.ImageURL, updated.ImageURL)
	assert.Contains(t, updated.ContentHTML, "new")
}

func TestPostService_UpdatePartialRules(t *testing.T) {
	ctx := context.Background()
	f := newPostFixture(t)

	created, err := f.svc.Create(ctx, f.alice, CreatePostInput{Title: "Title", Content: "c", ImageURL: "http://img", Category: "Tech"})
	require.NoError(t, err)

	updated, err := f.svc.Update(ctx, created.ID, f.alice, types.PostPatch{
		Title:    strPtr("   "),
		Category: strPtr(""),
		ImageURL: strPtr(""),
	})
	require.NoError(t, err)
	assert.Equal(t, "Title", updated.Title)
	assert.Equal(t, "Tech", updated.Category)
	assert.Nil(t, updated.ImageURL)

	updated, err = f.svc.Update(ctx, created.ID, f.alice, types.PostPatch{Title: strPtr(" Renamed "), Category: strPtr("Life")})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Title)
	assert.Equal(t, "Life", updated.Category)
	assert.Equal(t, created.Slug, updated.Slug)

	_, err = f.svc.Update(ctx, created.ID, f.alice, types.PostPatch{Content: strPtr("  ")})
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestPostService_UpdateOwnership(t *testing.T) {
	ctx := context.Background()
	f := newPostFixture(t)

	created, err := f.svc.Create(ctx, f.alice, CreatePostInput{Title: "T", Content: "C"})
	require.NoError(t, err)

	_, err = f.svc.Update(ctx, created.ID, f.bob, types.PostPatch{Content: strPtr("hijack")})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.Update(ctx, 999, f.alice, types.PostPatch{Content: strPtr("x")})
	assert.ErrorIs(t, err, ErrPostNotFound)

	unchanged, err := f.svc.GetBySlug(ctx, created.Slug)
	require.NoError(t, err)
	assert.Equal(t, "C", unchanged.Content)
}

func TestPostService_Delete(t *testing.T) {
	ctx := context.Background()
	f := newPostFixture(t)

	created, err := f.svc.Create(ctx, f.alice, CreatePostInput{Title: "T", Content: "C"})
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.Delete(ctx, created.ID, f.bob), ErrForbidden)
	assert.ErrorIs(t, f.svc.Delete(ctx, 999, f.alice), ErrPostNotFound)

	require.NoError(t, f.svc.Delete(ctx, created.ID, f.alice))
	assert.ErrorIs(t, f.svc.Delete(ctx, created.ID, f.alice), ErrPostNotFound)
}

func TestPostService_UpdateRemovesReplacedImage(t *testing.T) {
	ctx := context.Background()
	f := newPostFixture(t)
	created, err := f.svc.Create(ctx, f.alice, CreatePostInput{
		Title:    "Pics",
		Content:  "c",
		ImageURL: testPublicURL + "/images/old.png",
	})
	require.NoError(t, err)

	_, err = f.svc.Update(ctx, created.ID, f.alice, types.PostPatch{ImageURL: strPtr(testPublicURL + "/images/new.png")})
	require.NoError(t, err)
	assert.Equal(t, []string{"images/old.png"}, f.objects.deletedKeys())

	_, err = f.svc.Update(ctx, created.ID, f.alice, types.PostPatch{ImageURL: strPtr("")})
	require.NoError(t, err)
	assert.Equal(t, []string{"images/old.png", "images/new.png"}, f.objects.deletedKeys())
}

func TestPostService_UpdateKeepsUnchangedImage(t *testing.T) {
	ctx := context.Background()
	f := newPostFixture(t)
	image := testPublicURL + "/images/same.png"
	created, err := f.svc.Create(ctx, f.alice, CreatePostInput{Title: "Pics", Content: "c", ImageURL: image})
	require.NoError(t, err)

	_, err = f.svc.Update(ctx, created.ID, f.alice, types.PostPatch{ImageURL: strPtr(image), Title: strPtr("New")})
	require.NoError(t, err)
	_, err = f.svc.Update(ctx, created.ID, f.alice, types.PostPatch{Content: strPtr("edited")})
	require.NoError(t, err)

	assert.Empty(t, f.objects.deletedKeys())
}

func TestPostService_UpdateIgnoresExternalImage(t *testing.T) {
	ctx := context.Background()
	f := newPostFixture(t)
	created, err := f.svc.Create(ctx, f.alice, CreatePostInput{Title: "Pics", Content: "c", ImageURL: "https://elsewhere.example/images/a.png"})
	require.NoError(t, err)

	_, err = f.svc.Update(ctx, created.ID, f.alice, types.PostPatch{ImageURL: strPtr("")})
	require.NoError(t, err)

	assert.Empty(t, f.objects.deletedKeys())
}

func TestPostService_UpdateForbiddenKeepsImage(t *testing.T) {
	ctx := context.Background()
	f := newPostFixture(t)
	created, err := f.svc.Create(ctx, f.alice, CreatePostInput{Title: "Pics", Content: "c", ImageURL: testPublicURL + "/images/a.png"})
	require.NoError(t, err)

	_, err = f.svc.Update(ctx, created.ID, f.bob, types.PostPatch{ImageURL: strPtr("")})
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Empty(t, f.objects.deletedKeys())
}

func TestPostService_DeleteRemovesImage(t *testing.T) {
	ctx := context.Background()
	f := newPostFixture(t)
	created, err := f.svc.Create(ctx, f.alice, CreatePostInput{Title: "Pics", Content: "c", ImageURL: testPublicURL + "/images/a.png"})
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.Delete(ctx, created.ID, f.bob), ErrForbidden)
	assert.Empty(t, f.objects.deletedKeys())

	require.NoError(t, f.svc.Delete(ctx, created.ID, f.alice))
	assert.Equal(t, []string{"images/a.png"}, f.objects.deletedKeys())
}

func TestPostService_ImageCleanupFailureDoesNotFailDelete(t *testing.T) {
	ctx := context.Background()
	f := newPostFixture(t)
	created, err := f.svc.Create(ctx, f.alice, CreatePostInput{Title: "Pics", Content: "c", ImageURL: testPublicURL + "/images/a.png"})
	require.NoError(t, err)
	f.objects.err = errors.New("bucket unavailable")

	require.NoError(t, f.svc.Delete(ctx, created.ID, f.alice))

	_, err = f.repo.GetByID(ctx, created.ID)
	assert.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.PostOperationsTotal.WithLabelValues("image_cleanup", metrics.ResultError)))
}
