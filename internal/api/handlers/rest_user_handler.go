package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/mohmad1412-cmd/abeely-sub001/internal/services"
	"github.com/mohmad1412-cmd/abeely-sub001/internal/utils"
)

// RestUserHandler handles REST requests related to users.
type RestUserHandler struct {
	userService    services.IUserService
	requestService services.IRequestService
}

// NewRestUserHandler creates a new RestUserHandler.
func NewRestUserHandler(userService services.IUserService, requestService services.IRequestService) *RestUserHandler {
	return &RestUserHandler{
		userService:    userService,
		requestService: requestService,
	}
}

// PublicUser represents the data returned for a user profile.
type PublicUser struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	DateJoined   string `json:"date_joined"`
	RequestCount int    `json:"request_count"`
}

// GetUserByID handles GET /v1/user/:id
func (h *RestUserHandler) GetUserByID(c *gin.Context) {
	userIDStr := c.Param("id")
	userID, err := utils.ParseSixID(userIDStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID format"})
		return
	}

	user, err := h.userService.FindByID(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		} else {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve user"})
		}
		return
	}

	requestCount := 0
	requests, err := h.requestService.FindRequestsByUserID(c.Request.Context(), userID)
	if err != nil {
		// Profile still renders without the count.
		_ = c.Error(err)
	} else {
		requestCount = len(requests)
	}

	publicUser := PublicUser{
		ID:           user.ID.String(),
		Name:         user.Name,
		DateJoined:   user.CreatedAt.Format("2006-01-02"),
		RequestCount: requestCount,
	}

	c.JSON(http.StatusOK, publicUser)
}
