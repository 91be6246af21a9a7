package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northpine/sitemedia/internal/auth"
	"github.com/northpine/sitemedia/internal/database"
	"github.com/northpine/sitemedia/internal/uploader"
)

type fakeStore struct {
	users    map[string]*database.User
	heroes   map[string]*database.HeroImage
	products map[string]*database.Product

	upserts int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:    map[string]*database.User{},
		heroes:   map[string]*database.HeroImage{},
		products: map[string]*database.Product{},
	}
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (*database.User, error) {
	u, ok := f.users[email]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return u, nil
}

func (f *fakeStore) UpsertHeroImage(_ context.Context, h *database.HeroImage) error {
	f.upserts++
	h.UpdatedAt = time.Now()
	f.heroes[h.Page] = h
	return nil
}

func (f *fakeStore) GetHeroImage(_ context.Context, page string) (*database.HeroImage, error) {
	h, ok := f.heroes[page]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return h, nil
}

func (f *fakeStore) DeleteHeroImage(_ context.Context, page string) error {
	if _, ok := f.heroes[page]; !ok {
		return sql.ErrNoRows
	}
	delete(f.heroes, page)
	return nil
}

func (f *fakeStore) ListProducts(_ context.Context) ([]*database.Product, error) {
	out := make([]*database.Product, 0, len(f.products))
	for _, p := range f.products {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeStore) GetProduct(_ context.Context, id string) (*database.Product, error) {
	p, ok := f.products[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return p, nil
}

func (f *fakeStore) CreateProduct(_ context.Context, p *database.Product) error {
	p.ID = fmt.Sprintf("prod-%d", len(f.products)+1)
	f.products[p.ID] = p
	return nil
}

func (f *fakeStore) UpdateProduct(_ context.Context, p *database.Product) error {
	if _, ok := f.products[p.ID]; !ok {
		return sql.ErrNoRows
	}
	f.products[p.ID] = p
	return nil
}

func (f *fakeStore) SetProductImage(_ context.Context, id, imageURL string) error {
	p, ok := f.products[id]
	if !ok {
		return sql.ErrNoRows
	}
	p.ImageURL = imageURL
	return nil
}

func (f *fakeStore) DeleteProduct(_ context.Context, id string) error {
	if _, ok := f.products[id]; !ok {
		return sql.ErrNoRows
	}
	delete(f.products, id)
	return nil
}

type stubIssuer struct {
	cred *uploader.Credential
	err  error
	got  uploader.CredentialRequest
}

func (s *stubIssuer) IssueUploadCredential(_ context.Context, req uploader.CredentialRequest) (*uploader.Credential, error) {
	s.got = req
	if s.err != nil {
		return nil, s.err
	}
	return s.cred, nil
}

func newTestServer(t *testing.T, store *fakeStore, issuer uploader.CredentialIssuer) (*Server, string) {
	t.Helper()

	tokens := auth.NewTokenManager("test-secret", time.Hour)
	srv := New(Config{
		Store:  store,
		Issuer: issuer,
		Tokens: tokens,
	})

	token, _, err := tokens.Issue("user-1", "admin@example.com")
	require.NoError(t, err)
	return srv, token
}

func doJSON(t *testing.T, srv *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestLogin(t *testing.T) {
	store := newFakeStore()
	hash, err := auth.HashPassword("hunter2")
	require.NoError(t, err)
	store.users["admin@example.com"] = &database.User{
		ID:           "user-1",
		Email:        "admin@example.com",
		PasswordHash: hash,
	}
	srv, _ := newTestServer(t, store, &stubIssuer{})

	w := doJSON(t, srv, http.MethodPost, "/api/v1/auth/login", "", map[string]any{
		"email": "admin@example.com", "password": "hunter2",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Token string       `json:"token"`
		User  userResponse `json:"user"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, "user-1", resp.User.ID)

	// The minted token works against a protected route.
	w = doJSON(t, srv, http.MethodPost, "/api/v1/auth/logout", resp.Token, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	store := newFakeStore()
	hash, err := auth.HashPassword("hunter2")
	require.NoError(t, err)
	store.users["admin@example.com"] = &database.User{
		ID: "user-1", Email: "admin@example.com", PasswordHash: hash,
	}
	srv, _ := newTestServer(t, store, &stubIssuer{})

	wrongPassword := doJSON(t, srv, http.MethodPost, "/api/v1/auth/login", "", map[string]any{
		"email": "admin@example.com", "password": "wrong",
	})
	unknownUser := doJSON(t, srv, http.MethodPost, "/api/v1/auth/login", "", map[string]any{
		"email": "nobody@example.com", "password": "hunter2",
	})

	assert.Equal(t, http.StatusUnauthorized, wrongPassword.Code)
	assert.Equal(t, http.StatusUnauthorized, unknownUser.Code)
	// Unknown email and wrong password are indistinguishable.
	assert.JSONEq(t, wrongPassword.Body.String(), unknownUser.Body.String())
}

func TestSessionEndpoint(t *testing.T) {
	srv, token := newTestServer(t, newFakeStore(), &stubIssuer{})

	anon := doJSON(t, srv, http.MethodGet, "/api/v1/auth/session", "", nil)
	require.Equal(t, http.StatusOK, anon.Code)
	assert.JSONEq(t, `{"authenticated": false}`, anon.Body.String())

	authed := doJSON(t, srv, http.MethodGet, "/api/v1/auth/session", token, nil)
	require.Equal(t, http.StatusOK, authed.Code)

	var resp struct {
		Authenticated bool         `json:"authenticated"`
		User          userResponse `json:"user"`
	}
	require.NoError(t, json.Unmarshal(authed.Body.Bytes(), &resp))
	assert.True(t, resp.Authenticated)
	assert.Equal(t, "admin@example.com", resp.User.Email)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	srv, _ := newTestServer(t, newFakeStore(), &stubIssuer{})

	paths := []struct {
		method, path string
	}{
		{http.MethodPost, "/api/v1/uploads/credential"},
		{http.MethodPut, "/api/v1/hero/landing"},
		{http.MethodDelete, "/api/v1/hero/landing"},
		{http.MethodPost, "/api/v1/products"},
	}
	for _, p := range paths {
		w := doJSON(t, srv, p.method, p.path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, "%s %s", p.method, p.path)
	}

	w := doJSON(t, srv, http.MethodPost, "/api/v1/uploads/credential", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestIssueCredential(t *testing.T) {
	issuer := &stubIssuer{cred: &uploader.Credential{
		UploadURL:  "https://storage.example.com/signed",
		PublicURL:  "https://cdn.example.com/hero/landing.webp",
		StorageKey: "hero/landing.webp",
		ExpiresIn:  300,
	}}
	srv, token := newTestServer(t, newFakeStore(), issuer)

	w := doJSON(t, srv, http.MethodPost, "/api/v1/uploads/credential", token, map[string]any{
		"fileName": "banner.webp",
		"fileType": "image/webp",
		"fileSize": 12345,
		"category": "hero",
		"subject":  "landing",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var cred uploader.Credential
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cred))
	assert.Equal(t, "hero/landing.webp", cred.StorageKey)
	assert.Equal(t, uploader.CategoryHero, issuer.got.Category)
	assert.Equal(t, int64(12345), issuer.got.FileSize)
}

func TestIssueCredentialMapsIssuerErrors(t *testing.T) {
	issuer := &stubIssuer{err: &uploader.CredentialError{
		StatusCode: http.StatusRequestEntityTooLarge,
		Message:    "file exceeds the size limit",
	}}
	srv, token := newTestServer(t, newFakeStore(), issuer)

	w := doJSON(t, srv, http.MethodPost, "/api/v1/uploads/credential", token, map[string]any{
		"fileName": "huge.webp",
		"fileType": "image/webp",
		"fileSize": 99 << 20,
		"category": "hero",
		"subject":  "landing",
	})
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Contains(t, w.Body.String(), "size limit")
}

func TestHeroUpsertReplaces(t *testing.T) {
	store := newFakeStore()
	srv, token := newTestServer(t, store, &stubIssuer{})

	first := doJSON(t, srv, http.MethodPut, "/api/v1/hero/landing", token, map[string]any{
		"publicUrl":  "https://cdn.example.com/hero/landing-1.webp",
		"storageKey": "hero/landing-1.webp",
		"width":      1920, "height": 1080, "fileSize": 50000,
	})
	require.Equal(t, http.StatusNoContent, first.Code)

	second := doJSON(t, srv, http.MethodPut, "/api/v1/hero/landing", token, map[string]any{
		"publicUrl":  "https://cdn.example.com/hero/landing-2.webp",
		"storageKey": "hero/landing-2.webp",
		"width":      1600, "height": 900, "fileSize": 40000,
	})
	require.Equal(t, http.StatusNoContent, second.Code)

	assert.Equal(t, 2, store.upserts)
	require.Len(t, store.heroes, 1)

	w := doJSON(t, srv, http.MethodGet, "/api/v1/hero/landing", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got heroImageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "hero/landing-2.webp", got.StorageKey)
	assert.Equal(t, 1600, got.Width)
}

func TestHeroNotFound(t *testing.T) {
	srv, token := newTestServer(t, newFakeStore(), &stubIssuer{})

	get := doJSON(t, srv, http.MethodGet, "/api/v1/hero/landing", "", nil)
	del := doJSON(t, srv, http.MethodDelete, "/api/v1/hero/landing", token, nil)

	assert.Equal(t, http.StatusNotFound, get.Code)
	assert.Equal(t, http.StatusNotFound, del.Code)
}

func TestProductLifecycle(t *testing.T) {
	store := newFakeStore()
	srv, token := newTestServer(t, store, &stubIssuer{})

	created := doJSON(t, srv, http.MethodPost, "/api/v1/products", token, map[string]any{
		"slug": "walnut-desk", "name": "Walnut Desk", "priceCents": 129900,
	})
	require.Equal(t, http.StatusCreated, created.Code)
	var p productResponse
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &p))
	require.NotEmpty(t, p.ID)

	attach := doJSON(t, srv, http.MethodPut, "/api/v1/products/"+p.ID+"/image", token, map[string]any{
		"imageUrl": "https://cdn.example.com/product/walnut-desk.webp",
	})
	require.Equal(t, http.StatusNoContent, attach.Code)

	got := doJSON(t, srv, http.MethodGet, "/api/v1/products/"+p.ID, "", nil)
	require.Equal(t, http.StatusOK, got.Code)
	var fetched productResponse
	require.NoError(t, json.Unmarshal(got.Body.Bytes(), &fetched))
	assert.Equal(t, "https://cdn.example.com/product/walnut-desk.webp", fetched.ImageURL)

	deleted := doJSON(t, srv, http.MethodDelete, "/api/v1/products/"+p.ID, token, nil)
	require.Equal(t, http.StatusNoContent, deleted.Code)

	gone := doJSON(t, srv, http.MethodGet, "/api/v1/products/"+p.ID, "", nil)
	assert.Equal(t, http.StatusNotFound, gone.Code)
}

func TestUpdateMissingProduct(t *testing.T) {
	srv, token := newTestServer(t, newFakeStore(), &stubIssuer{})

	w := doJSON(t, srv, http.MethodPut, "/api/v1/products/nope", token, map[string]any{
		"slug": "walnut-desk", "name": "Walnut Desk",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}
