package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/mohmad1412-cmd/abeely-sub001/internal/services"
	"github.com/mohmad1412-cmd/abeely-sub001/internal/utils"
)

// RestRequestHandler handles REST reads of published requests.
type RestRequestHandler struct {
	requestService services.IRequestService
}

// NewRestRequestHandler creates a new RestRequestHandler.
func NewRestRequestHandler(requestService services.IRequestService) *RestRequestHandler {
	return &RestRequestHandler{
		requestService: requestService,
	}
}

// SearchRequests handles GET /v1/request/search
func (h *RestRequestHandler) SearchRequests(c *gin.Context) {
	query := c.Query("q")
	categoriesStr := c.Query("categories")
	location := c.Query("location")
	limitStr := c.DefaultQuery("limit", "50")
	cursor := c.Query("cursor")

	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 || limit > 200 {
		limit = 50
	}

	// Categories arrive comma-separated
	var categories []string
	if categoriesStr != "" {
		rawCategories := strings.Split(categoriesStr, ",")
		for _, category := range rawCategories {
			if trimmed := strings.TrimSpace(category); trimmed != "" {
				categories = append(categories, trimmed)
			}
		}
	}

	// Pointers for optional params
	var queryPtr *string
	if query != "" {
		queryPtr = &query
	}
	var locationPtr *string
	if location != "" {
		locationPtr = &location
	}
	var cursorPtr *string
	if cursor != "" {
		cursorPtr = &cursor
	}

	requests, nextCursor, err := h.requestService.SearchRequests(
		c.Request.Context(),
		queryPtr,
		categories,
		locationPtr,
		limit,
		cursorPtr,
	)

	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to search requests"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":        requests,
		"next_cursor": nextCursor,
	})
}

// GetRequestByID handles GET /v1/request/:id
func (h *RestRequestHandler) GetRequestByID(c *gin.Context) {
	requestIDStr := c.Param("id")
	requestID, err := utils.ParseSixID(requestIDStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request ID format"})
		return
	}

	request, err := h.requestService.FindRequestByID(c.Request.Context(), requestID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Request not found"})
		} else {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve request"})
		}
		return
	}

	c.JSON(http.StatusOK, request)
}

// GetUserRequests handles GET /v1/user/:id/request
func (h *RestRequestHandler) GetUserRequests(c *gin.Context) {
	userIDStr := c.Param("id")
	userID, err := utils.ParseSixID(userIDStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID format"})
		return
	}

	requests, err := h.requestService.FindRequestsByUserID(c.Request.Context(), userID)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve user requests"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": requests})
}
