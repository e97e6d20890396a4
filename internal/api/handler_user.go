package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"userlifecycle/internal/service"
	"userlifecycle/internal/store"
	"userlifecycle/pkg/middleware"
	"userlifecycle/pkg/models"
)

// UserService is the application layer the HTTP handlers delegate to.
type UserService interface {
	CreateUser(ctx context.Context, draft models.CreateUserRequest) (models.User, error)
	GetUser(ctx context.Context, id string) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
	UpdateUser(ctx context.Context, id string, patch models.UpdateUserRequest) (models.User, error)
	DeleteUser(ctx context.Context, id, reason string) error
	ListUsers(ctx context.Context, filter models.ListFilter) ([]models.User, error)
	SearchUsers(ctx context.Context, name string) ([]models.User, error)
	UsersByTags(ctx context.Context, tags []string) ([]models.User, error)
	CountByStatus(ctx context.Context, status models.UserStatus) (int64, error)
}

// Response is the uniform JSON body for every endpoint.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func ok(data interface{}) Response {
	return Response{Success: true, Data: data}
}

func fail(message string) Response {
	return Response{Success: false, Message: message}
}

// UserHandler handles user-related HTTP requests.
type UserHandler struct {
	service UserService
	log     *zap.Logger
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(service UserService, log *zap.Logger) *UserHandler {
	return &UserHandler{service: service, log: log}
}

// CreateUser godoc
// @Summary      Create a new user
// @Description  Creates a new user and publishes a user.created event
// @Tags         users
// @Accept       json
// @Produce      json
// @Param        request  body      models.CreateUserRequest  true  "Create user request"
// @Success      201      {object}  Response{data=models.User}
// @Failure      400      {object}  Response
// @Failure      409      {object}  Response
// @Router       /users [post]
func (h *UserHandler) CreateUser(c *gin.Context) {
	var req models.CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, fail(err.Error()))
		return
	}

	user, err := h.service.CreateUser(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err, "create user")
		return
	}
	c.JSON(http.StatusCreated, ok(user))
}

// GetUser godoc
// @Summary      Get a user by ID
// @Description  Returns a single user
// @Tags         users
// @Produce      json
// @Param        id   path      string  true  "User ID"
// @Success      200  {object}  Response{data=models.User}
// @Failure      404  {object}  Response
// @Router       /users/{id} [get]
func (h *UserHandler) GetUser(c *gin.Context) {
	user, err := h.service.GetUser(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err, "get user")
		return
	}
	c.JSON(http.StatusOK, ok(user))
}

// GetUserByEmail resolves a single user by exact email address. Reached
// through GET /users?email=.
func (h *UserHandler) GetUserByEmail(c *gin.Context) {
	email := c.Query("email")
	if email == "" {
		c.JSON(http.StatusBadRequest, fail("email query parameter is required"))
		return
	}

	user, err := h.service.GetUserByEmail(c.Request.Context(), email)
	if err != nil {
		h.respondError(c, err, "get user by email")
		return
	}
	c.JSON(http.StatusOK, ok(user))
}

// UpdateUser godoc
// @Summary      Update an existing user
// @Description  Applies a versioned update and publishes a user.updated event
// @Tags         users
// @Accept       json
// @Produce      json
// @Param        id       path      string                    true  "User ID"
// @Param        request  body      models.UpdateUserRequest  true  "Update user request"
// @Success      200      {object}  Response{data=models.User}
// @Failure      400      {object}  Response
// @Failure      404      {object}  Response
// @Failure      409      {object}  Response
// @Router       /users/{id} [put]
func (h *UserHandler) UpdateUser(c *gin.Context) {
	var req models.UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, fail(err.Error()))
		return
	}

	user, err := h.service.UpdateUser(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.respondError(c, err, "update user")
		return
	}
	c.JSON(http.StatusOK, ok(user))
}

// DeleteUser godoc
// @Summary      Delete a user
// @Description  Removes the user and publishes a user.deleted event
// @Tags         users
// @Produce      json
// @Param        id      path      string  true   "User ID"
// @Param        reason  query     string  false  "Deletion reason"
// @Success      200     {object}  Response
// @Failure      404     {object}  Response
// @Router       /users/{id} [delete]
func (h *UserHandler) DeleteUser(c *gin.Context) {
	id := c.Param("id")
	if err := h.service.DeleteUser(c.Request.Context(), id, c.Query("reason")); err != nil {
		h.respondError(c, err, "delete user")
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Message: "user deleted"})
}

// ListUsers godoc
// @Summary      List or look up users
// @Description  Returns users with offset/limit paging. email= resolves one user by address, name= searches by name fragment, tags= matches any of the comma-separated tags, status= filters the plain listing.
// @Tags         users
// @Produce      json
// @Param        email   query     string  false  "Exact email lookup"
// @Param        name    query     string  false  "Name fragment search"
// @Param        tags    query     string  false  "Comma-separated tags"
// @Param        status  query     string  false  "Filter by status"
// @Param        offset  query     int     false  "Paging offset"
// @Param        limit   query     int     false  "Page size"
// @Success      200     {object}  Response{data=[]models.User}
// @Failure      404     {object}  Response
// @Router       /users [get]
func (h *UserHandler) ListUsers(c *gin.Context) {
	// Lookup variants take precedence over the plain listing.
	switch {
	case c.Query("email") != "":
		h.GetUserByEmail(c)
		return
	case c.Query("name") != "":
		h.SearchUsers(c)
		return
	case c.Query("tags") != "":
		h.UsersByTags(c)
		return
	}

	filter := models.ListFilter{
		Status: models.UserStatus(c.Query("status")),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		c.JSON(http.StatusBadRequest, fail("unknown status: "+string(filter.Status)))
		return
	}
	filter.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	filter.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "0"))

	users, err := h.service.ListUsers(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err, "list users")
		return
	}
	c.JSON(http.StatusOK, ok(users))
}

// SearchUsers returns users whose name contains the fragment. Reached
// through GET /users?name=.
func (h *UserHandler) SearchUsers(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, fail("name query parameter is required"))
		return
	}

	users, err := h.service.SearchUsers(c.Request.Context(), name)
	if err != nil {
		h.respondError(c, err, "search users")
		return
	}
	c.JSON(http.StatusOK, ok(users))
}

// UsersByTags returns users carrying any of the comma-separated tags.
// Reached through GET /users?tags=.
func (h *UserHandler) UsersByTags(c *gin.Context) {
	raw := c.Query("tags")
	if raw == "" {
		c.JSON(http.StatusBadRequest, fail("tags query parameter is required"))
		return
	}
	tags := strings.Split(raw, ",")
	for i := range tags {
		tags[i] = strings.TrimSpace(tags[i])
	}

	users, err := h.service.UsersByTags(c.Request.Context(), tags)
	if err != nil {
		h.respondError(c, err, "find users by tags")
		return
	}
	c.JSON(http.StatusOK, ok(users))
}

// respondError maps application errors onto HTTP statuses.
func (h *UserHandler) respondError(c *gin.Context, err error, operation string) {
	correlationID := middleware.GetCorrelationID(c)

	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, fail("user not found"))
	case errors.Is(err, store.ErrDuplicateEmail):
		c.JSON(http.StatusConflict, fail("email already in use"))
	case errors.Is(err, store.ErrConcurrentModification):
		c.JSON(http.StatusConflict, fail("user was modified concurrently, re-read and retry"))
	case errors.Is(err, service.ErrInvalidStatus), errors.Is(err, service.ErrInvalidEmail):
		c.JSON(http.StatusBadRequest, fail(err.Error()))
	default:
		h.log.Error("request failed",
			zap.String("operation", operation),
			zap.String("correlation_id", correlationID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, fail("internal error"))
	}
}
