package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ridedispatch/internal/domain"
	"ridedispatch/internal/service"
)

// UserHandler handles HTTP requests for users.
type UserHandler struct {
	accounts *service.AccountService
	tracker  *service.LocationTracker
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(accounts *service.AccountService, tracker *service.LocationTracker) *UserHandler {
	return &UserHandler{
		accounts: accounts,
		tracker:  tracker,
	}
}

// RegisterUserRequest is the HTTP request body for registering a user.
type RegisterUserRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// UserResponse is the HTTP response for user data.
type UserResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	CreatedAt string `json:"created_at"`
}

func toUserResponse(u *domain.User) UserResponse {
	return UserResponse{
		ID:        u.ID,
		Name:      u.Name,
		Phone:     u.Phone,
		CreatedAt: formatTime(&u.CreatedAt),
	}
}

// RegisterUser handles POST /v1/users/register
func (h *UserHandler) RegisterUser(c *gin.Context) {
	var req RegisterUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	user, err := h.accounts.RegisterUser(c.Request.Context(), req.Name, req.Phone)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusCreated, toUserResponse(user))
}

// UpdateLocation handles POST /v1/users/:id/location
func (h *UserHandler) UpdateLocation(c *gin.Context) {
	var req PointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	point, err := req.toPoint()
	if err != nil {
		respondError(c, err)
		return
	}

	if err := h.tracker.SaveUserCoordinates(c.Request.Context(), c.Param("id"), point); err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, gin.H{"user_id": c.Param("id"), "location": toPointResponse(point)})
}

// ClearLocation handles DELETE /v1/users/:id/location
func (h *UserHandler) ClearLocation(c *gin.Context) {
	if err := h.tracker.RemoveUser(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
