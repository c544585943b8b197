package services

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/JAGGU8160/blog-app/internal/auth"
	"github.com/JAGGU8160/blog-app/internal/metrics"
	"github.com/JAGGU8160/blog-app/internal/render"
	"github.com/JAGGU8160/blog-app/internal/store"
	"github.com/JAGGU8160/blog-app/types"
)

type memoryUsers struct {
	mu     sync.Mutex
	nextID int
	users  map[int]types.User
}

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{users: make(map[int]types.User)}
}

func (m *memoryUsers) GetByID(_ context.Context, id int) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return user, nil
}

func (m *memoryUsers) GetByEmail(_ context.Context, email string) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.Email == email {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (m *memoryUsers) Create(_ context.Context, user types.User) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == user.Email {
			return types.User{}, store.ErrDuplicateEmail
		}
	}
	m.nextID++
	user.ID = m.nextID
	user.CreatedAt = time.Now()
	m.users[user.ID] = user
	return user, nil
}

func (m *memoryUsers) SetResetOTP(_ context.Context, id int, code string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok {
		return store.ErrNotFound
	}
	user.ResetOTP = &code
	user.ResetOTPExpiresAt = &expiresAt
	m.users[id] = user
	return nil
}

func (m *memoryUsers) ResetPassword(_ context.Context, id int, hash, code string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok || !user.HasPendingOTP() || *user.ResetOTP != code || !user.ResetOTPExpiresAt.After(now) {
		return store.ErrNotFound
	}
	user.PasswordHash = hash
	user.PasswordResetAt = &now
	user.ResetOTP = nil
	user.ResetOTPExpiresAt = nil
	m.users[id] = user
	return nil
}

type memoryPosts struct {
	mu     sync.Mutex
	nextID int
	posts  map[int]types.Post
	users  *memoryUsers
	err    error
}

func newMemoryPosts(users *memoryUsers) *memoryPosts {
	return &memoryPosts{posts: make(map[int]types.Post), users: users}
}

func (m *memoryPosts) withAuthor(post types.Post) types.Post {
	if user, err := m.users.GetByID(context.Background(), post.UserID); err == nil {
		post.Author = user.Name
	}
	return post
}

func (m *memoryPosts) list(filter func(types.Post) bool) []types.Post {
	out := make([]types.Post, 0)
	for _, post := range m.posts {
		if filter(post) {
			out = append(out, m.withAuthor(post))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (m *memoryPosts) List(context.Context) ([]types.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.list(func(types.Post) bool { return true }), nil
}

func (m *memoryPosts) ListByUser(_ context.Context, userID int) ([]types.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.list(func(p types.Post) bool { return p.UserID == userID }), nil
}

func (m *memoryPosts) GetBySlug(_ context.Context, slug string) (types.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, post := range m.posts {
		if post.Slug == slug {
			return m.withAuthor(post), nil
		}
	}
	return types.Post{}, store.ErrNotFound
}

func (m *memoryPosts) GetByID(_ context.Context, id int) (types.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	post, ok := m.posts[id]
	if !ok {
		return types.Post{}, store.ErrNotFound
	}
	return m.withAuthor(post), nil
}

func (m *memoryPosts) Create(_ context.Context, post types.Post) (types.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return types.Post{}, m.err
	}
	for _, existing := range m.posts {
		if existing.Slug == post.Slug {
			return types.Post{}, store.ErrDuplicateSlug
		}
	}
	m.nextID++
	post.ID = m.nextID
	post.CreatedAt = time.Now().Add(time.Duration(m.nextID) * time.Millisecond)
	m.posts[post.ID] = post
	return m.withAuthor(post), nil
}

func (m *memoryPosts) Update(_ context.Context, post types.Post) (types.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.posts[post.ID]
	if !ok || current.UserID != post.UserID {
		return types.Post{}, store.ErrNotFound
	}
	current.Title = post.Title
	current.Content = post.Content
	current.ImageURL = post.ImageURL
	current.Category = post.Category
	m.posts[post.ID] = current
	return m.withAuthor(current), nil
}

func (m *memoryPosts) Delete(_ context.Context, id, userID int) (*string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	post, ok := m.posts[id]
	if !ok || post.UserID != userID {
		return nil, store.ErrNotFound
	}
	delete(m.posts, id)
	return post.ImageURL, nil
}

// memoryObjects is an ObjectStorage that records deleted keys.
type memoryObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
	err     error
}

func newMemoryObjects() *memoryObjects {
	return &memoryObjects{objects: make(map[string][]byte)}
}

func (o *memoryObjects) EnsureBucket(context.Context) error { return nil }

func (o *memoryObjects) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.objects[key] = data
	return nil
}

func (o *memoryObjects) Delete(_ context.Context, key string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.deleted = append(o.deleted, key)
	delete(o.objects, key)
	return nil
}

func (o *memoryObjects) Bucket() string { return "memory" }
func (o *memoryObjects) Close() error   { return nil }

func (o *memoryObjects) deletedKeys() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.deleted...)
}

func (m *memoryPosts) Exists(_ context.Context, id int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.posts[id]
	return ok, nil
}

type outbox struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

type sentMail struct {
	to, subject, body string
}

func (o *outbox) Send(_ context.Context, to, subject, body string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.sent = append(o.sent, sentMail{to: to, subject: subject, body: body})
	return nil
}

var errBoom = errors.New("boom")

func newTestMetrics() *metrics.Metrics {
	return metrics.New(prometheus.NewRegistry())
}

func newTestRenderer(t *testing.T) *render.Renderer {
	t.Helper()
	r, err := render.New(16)
	require.NoError(t, err)
	return r
}

func newTestAuthService(t *testing.T) (*AuthService, *memoryUsers, *outbox) {
	t.Helper()
	users := newMemoryUsers()
	mailbox := &outbox{}
	issuer, err := auth.NewTokenIssuer("test-secret", time.Hour)
	require.NoError(t, err)
	svc := NewAuthService(users, auth.NewPasswordHasher(bcrypt.MinCost), issuer, mailbox, 10*time.Minute, newTestMetrics())
	return svc, users, mailbox
}
