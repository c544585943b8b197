package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/JAGGU8160/blog-app/config"
	"github.com/JAGGU8160/blog-app/internal/auth"
	"github.com/JAGGU8160/blog-app/internal/metrics"
	"github.com/JAGGU8160/blog-app/internal/render"
	"github.com/JAGGU8160/blog-app/internal/services"
	"github.com/JAGGU8160/blog-app/internal/storage"
	"github.com/JAGGU8160/blog-app/internal/store"
	"github.com/JAGGU8160/blog-app/types"
)

type fakeUsers struct {
	mu    sync.Mutex
	users []types.User
}

func (f *fakeUsers) find(match func(types.User) bool) (int, bool) {
	for i, u := range f.users {
		if match(u) {
			return i, true
		}
	}
	return 0, false
}

func (f *fakeUsers) GetByID(_ context.Context, id int) (types.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i, ok := f.find(func(u types.User) bool { return u.ID == id }); ok {
		return f.users[i], nil
	}
	return types.User{}, store.ErrNotFound
}

func (f *fakeUsers) GetByEmail(_ context.Context, email string) (types.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i, ok := f.find(func(u types.User) bool { return u.Email == email }); ok {
		return f.users[i], nil
	}
	return types.User{}, store.ErrNotFound
}

func (f *fakeUsers) Create(_ context.Context, user types.User) (types.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.find(func(u types.User) bool { return u.Email == user.Email }); ok {
		return types.User{}, store.ErrDuplicateEmail
	}
	user.ID = len(f.users) + 1
	user.CreatedAt = time.Now()
	f.users = append(f.users, user)
	return user, nil
}

func (f *fakeUsers) SetResetOTP(_ context.Context, id int, code string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i, ok := f.find(func(u types.User) bool { return u.ID == id })
	if !ok {
		return store.ErrNotFound
	}
	f.users[i].ResetOTP = &code
	f.users[i].ResetOTPExpiresAt = &expiresAt
	return nil
}

func (f *fakeUsers) ResetPassword(_ context.Context, id int, hash, code string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i, ok := f.find(func(u types.User) bool { return u.ID == id })
	if !ok || f.users[i].ResetOTP == nil || *f.users[i].ResetOTP != code || !f.users[i].ResetOTPExpiresAt.After(now) {
		return store.ErrNotFound
	}
	f.users[i].PasswordHash = hash
	f.users[i].ResetOTP = nil
	f.users[i].ResetOTPExpiresAt = nil
	f.users[i].PasswordResetAt = &now
	return nil
}

type fakePosts struct {
	mu    sync.Mutex
	posts map[int]types.Post
	next  int
	users *fakeUsers
}

func (f *fakePosts) author(p types.Post) types.Post {
	if u, err := f.users.GetByID(context.Background(), p.UserID); err == nil {
		p.Author = u.Name
	}
	return p
}

func (f *fakePosts) filtered(keep func(types.Post) bool) []types.Post {
	out := make([]types.Post, 0)
	for _, p := range f.posts {
		if keep(p) {
			out = append(out, f.author(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (f *fakePosts) List(context.Context) ([]types.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.filtered(func(types.Post) bool { return true }), nil
}

func (f *fakePosts) ListByUser(_ context.Context, userID int) ([]types.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.filtered(func(p types.Post) bool { return p.UserID == userID }), nil
}

func (f *fakePosts) GetBySlug(_ context.Context, slug string) (types.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.posts {
		if p.Slug == slug {
			return f.author(p), nil
		}
	}
	return types.Post{}, store.ErrNotFound
}

func (f *fakePosts) GetByID(_ context.Context, id int) (types.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.posts[id]
	if !ok {
		return types.Post{}, store.ErrNotFound
	}
	return f.author(p), nil
}

func (f *fakePosts) Create(_ context.Context, post types.Post) (types.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.posts {
		if p.Slug == post.Slug {
			return types.Post{}, store.ErrDuplicateSlug
		}
	}
	f.next++
	post.ID = f.next
	post.CreatedAt = time.Now()
	f.posts[post.ID] = post
	return f.author(post), nil
}

func (f *fakePosts) Update(_ context.Context, post types.Post) (types.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	current, ok := f.posts[post.ID]
	if !ok || current.UserID != post.UserID {
		return types.Post{}, store.ErrNotFound
	}
	f.posts[post.ID] = post
	return f.author(post), nil
}

func (f *fakePosts) Delete(_ context.Context, id, userID int) (*string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.posts[id]
	if !ok || p.UserID != userID {
		return nil, store.ErrNotFound
	}
	delete(f.posts, id)
	return p.ImageURL, nil
}

func (f *fakePosts) Exists(_ context.Context, id int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.posts[id]
	return ok, nil
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (f *fakeMailer) Send(_ context.Context, to, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, to+"\n"+body)
	return nil
}

type testAPI struct {
	router  *chi.Mux
	tokens  *auth.TokenIssuer
	users   *fakeUsers
	mailer  *fakeMailer
	authSvc *services.AuthService
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	logger, _ := logtest.NewNullLogger()
	m := metrics.New(prometheus.NewRegistry())

	tokens, err := auth.NewTokenIssuer("handler-secret", time.Hour)
	require.NoError(t, err)
	renderer, err := render.New(16)
	require.NoError(t, err)
	local, err := storage.NewLocalClient(config.LocalConfig{Dir: t.TempDir()})
	require.NoError(t, err)

	users := &fakeUsers{}
	mailer := &fakeMailer{}
	authSvc := services.NewAuthService(users, auth.NewPasswordHasher(bcrypt.MinCost), tokens, mailer, 10*time.Minute, m)
	uploadSvc := services.NewUploadService(storage.NewStorage("local", local), "http://test/uploads", 1<<20, m)
	postSvc := services.NewPostService(&fakePosts{posts: map[int]types.Post{}, users: users}, uploadSvc, renderer, m)

	requireAuth := RequireAuth(tokens)
	router := chi.NewRouter()
	router.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			AuthRouter(r, authSvc, requireAuth, logger)
		})
		r.Route("/posts", func(r chi.Router) {
			PostRouter(r, postSvc, requireAuth, logger)
		})
		r.With(requireAuth).Post("/upload", NewUploadHandler(uploadSvc, logger).Upload)
	})

	return &testAPI{router: router, tokens: tokens, users: users, mailer: mailer, authSvc: authSvc}
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) register(t *testing.T, name, email string) (int, string) {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{"name": name, "email": email, "password": "pw123"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp struct {
		User  types.User `json:"user"`
		Token string     `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.User.ID, resp.Token
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}
