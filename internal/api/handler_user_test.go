package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"userlifecycle/internal/service"
	"userlifecycle/internal/store"
	"userlifecycle/pkg/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// mockUserService implements UserService for handler tests.
type mockUserService struct {
	user    models.User
	users   []models.User
	count   int64
	err     error
	lastID  string
	created *models.CreateUserRequest
	updated *models.UpdateUserRequest
	tags    []string
	name    string
	email   string
}

func (m *mockUserService) CreateUser(_ context.Context, draft models.CreateUserRequest) (models.User, error) {
	m.created = &draft
	return m.user, m.err
}

func (m *mockUserService) GetUser(_ context.Context, id string) (models.User, error) {
	m.lastID = id
	return m.user, m.err
}

func (m *mockUserService) GetUserByEmail(_ context.Context, email string) (models.User, error) {
	m.email = email
	return m.user, m.err
}

func (m *mockUserService) UpdateUser(_ context.Context, id string, patch models.UpdateUserRequest) (models.User, error) {
	m.lastID = id
	m.updated = &patch
	return m.user, m.err
}

func (m *mockUserService) DeleteUser(_ context.Context, id, _ string) error {
	m.lastID = id
	return m.err
}

func (m *mockUserService) ListUsers(_ context.Context, _ models.ListFilter) ([]models.User, error) {
	return m.users, m.err
}

func (m *mockUserService) SearchUsers(_ context.Context, name string) ([]models.User, error) {
	m.name = name
	return m.users, m.err
}

func (m *mockUserService) UsersByTags(_ context.Context, tags []string) ([]models.User, error) {
	m.tags = tags
	return m.users, m.err
}

func (m *mockUserService) CountByStatus(_ context.Context, _ models.UserStatus) (int64, error) {
	return m.count, m.err
}

func newTestRouter(t *testing.T, svc UserService) *gin.Engine {
	t.Helper()
	db, _, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	handler := NewUserHandler(svc, zap.NewNop())
	system := NewSystemHandler(db, nil, nil, zap.NewNop())
	return NewRouter(handler, system)
}

func decodeResponse(t *testing.T, body []byte) Response {
	t.Helper()
	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	return resp
}

func decodeUser(t *testing.T, resp Response) models.User {
	t.Helper()
	raw, err := json.Marshal(resp.Data)
	if err != nil {
		t.Fatalf("failed to re-marshal data: %v", err)
	}
	var user models.User
	if err := json.Unmarshal(raw, &user); err != nil {
		t.Fatalf("failed to unmarshal user: %v", err)
	}
	return user
}

func TestCreateUser_Success(t *testing.T) {
	svc := &mockUserService{user: models.User{
		ID:      "user-123",
		Name:    "Test User",
		Email:   "test@example.com",
		Status:  models.StatusActive,
		Version: 1,
	}}
	router := newTestRouter(t, svc)

	body := `{"email":"test@example.com","name":"Test User"}`
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/users", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	resp := decodeResponse(t, w.Body.Bytes())
	if !resp.Success {
		t.Error("expected success=true")
	}
	user := decodeUser(t, resp)
	if user.ID != "user-123" {
		t.Errorf("expected ID user-123, got %s", user.ID)
	}
	if svc.created == nil || svc.created.Email != "test@example.com" {
		t.Error("expected create request to reach the service")
	}
}

func TestCreateUser_BadRequest(t *testing.T) {
	router := newTestRouter(t, &mockUserService{})

	// Missing required name
	body := `{"email":"not-an-email"}`
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/users", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCreateUser_InvalidJSON(t *testing.T) {
	router := newTestRouter(t, &mockUserService{})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/users", bytes.NewBufferString("{invalid"))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
}

func TestCreateUser_DuplicateEmail(t *testing.T) {
	router := newTestRouter(t, &mockUserService{err: store.ErrDuplicateEmail})

	body := `{"email":"taken@example.com","name":"Test User"}`
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/users", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCreateUser_InvalidEmailRejected(t *testing.T) {
	router := newTestRouter(t, &mockUserService{err: service.ErrInvalidEmail})

	body := `{"email":"bad@example.com","name":"Test User"}`
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/users", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestGetUser_Success(t *testing.T) {
	svc := &mockUserService{user: models.User{ID: "user-123", Name: "Test User", Email: "test@example.com"}}
	router := newTestRouter(t, svc)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/users/user-123", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if svc.lastID != "user-123" {
		t.Errorf("expected service to receive user-123, got %s", svc.lastID)
	}
}

func TestGetUser_NotFound(t *testing.T) {
	router := newTestRouter(t, &mockUserService{err: store.ErrNotFound})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/users/nonexistent", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeResponse(t, w.Body.Bytes())
	if resp.Success {
		t.Error("expected success=false")
	}
}

func TestListUsers_Success(t *testing.T) {
	svc := &mockUserService{users: []models.User{
		{ID: "user-1", Email: "one@example.com"},
		{ID: "user-2", Email: "two@example.com"},
	}}
	router := newTestRouter(t, svc)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/users", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	resp := decodeResponse(t, w.Body.Bytes())
	raw, _ := json.Marshal(resp.Data)
	var users []models.User
	if err := json.Unmarshal(raw, &users); err != nil {
		t.Fatalf("failed to unmarshal users: %v", err)
	}
	if len(users) != 2 {
		t.Errorf("expected 2 users, got %d", len(users))
	}
}

func TestListUsers_InvalidStatus(t *testing.T) {
	router := newTestRouter(t, &mockUserService{})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/users?status=frozen", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
}

func TestListUsers_EmailLookupDispatch(t *testing.T) {
	svc := &mockUserService{user: models.User{ID: "user-1", Email: "one@example.com"}}
	router := newTestRouter(t, svc)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/users?email=one@example.com", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if svc.email != "one@example.com" {
		t.Errorf("expected email lookup, got %q", svc.email)
	}
}

func TestListUsers_NameSearchDispatch(t *testing.T) {
	svc := &mockUserService{users: []models.User{{ID: "user-1"}}}
	router := newTestRouter(t, svc)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/users?name=ali", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if svc.name != "ali" {
		t.Errorf("expected name search, got %q", svc.name)
	}
}

func TestListUsers_TagsDispatch(t *testing.T) {
	svc := &mockUserService{users: []models.User{{ID: "user-1"}}}
	router := newTestRouter(t, svc)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/users?tags=vip,%20beta", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if len(svc.tags) != 2 || svc.tags[0] != "vip" || svc.tags[1] != "beta" {
		t.Errorf("expected trimmed tags [vip beta], got %v", svc.tags)
	}
}

func TestUpdateUser_Success(t *testing.T) {
	svc := &mockUserService{user: models.User{
		ID:      "user-123",
		Name:    "New Name",
		Email:   "new@example.com",
		Version: 2,
	}}
	router := newTestRouter(t, svc)

	body := `{"email":"new@example.com","name":"New Name","version":1}`
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPut, "/users/user-123", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if svc.updated == nil || svc.updated.Version != 1 {
		t.Error("expected version 1 to reach the service")
	}
	user := decodeUser(t, decodeResponse(t, w.Body.Bytes()))
	if user.Version != 2 {
		t.Errorf("expected version 2 in response, got %d", user.Version)
	}
}

func TestUpdateUser_MissingVersion(t *testing.T) {
	router := newTestRouter(t, &mockUserService{})

	body := `{"name":"New Name"}`
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPut, "/users/user-123", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestUpdateUser_StaleVersion(t *testing.T) {
	router := newTestRouter(t, &mockUserService{err: store.ErrConcurrentModification})

	body := `{"name":"New Name","version":1}`
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPut, "/users/user-123", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestUpdateUser_NotFound(t *testing.T) {
	router := newTestRouter(t, &mockUserService{err: store.ErrNotFound})

	body := `{"name":"Updated","version":1}`
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPut, "/users/nonexistent", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestDeleteUser_Success(t *testing.T) {
	svc := &mockUserService{}
	router := newTestRouter(t, svc)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodDelete, "/users/user-123?reason=gdpr", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if svc.lastID != "user-123" {
		t.Errorf("expected service to receive user-123, got %s", svc.lastID)
	}
}

func TestDeleteUser_NotFound(t *testing.T) {
	router := newTestRouter(t, &mockUserService{err: store.ErrNotFound})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodDelete, "/users/nonexistent", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", w.Code)
	}
}

func TestInternalErrorIsOpaque(t *testing.T) {
	router := newTestRouter(t, &mockUserService{err: errors.New("pq: connection refused")})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/users/user-123", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", w.Code)
	}
	resp := decodeResponse(t, w.Body.Bytes())
	if resp.Message != "internal error" {
		t.Errorf("expected opaque message, got %q", resp.Message)
	}
}
