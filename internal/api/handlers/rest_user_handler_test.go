package handlers_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/mohmad1412-cmd/abeely-sub001/internal/api/handlers"
	"github.com/mohmad1412-cmd/abeely-sub001/internal/models"
	"github.com/mohmad1412-cmd/abeely-sub001/internal/utils"
)

func setupUserRouter() (*gin.Engine, *MockUserService, *MockRequestService) {
	gin.SetMode(gin.TestMode)
	mockUserSvc := new(MockUserService)
	mockRequestSvc := new(MockRequestService)
	handler := handlers.NewRestUserHandler(mockUserSvc, mockRequestSvc)

	r := gin.New()
	r.GET("/v1/user/:id", handler.GetUserByID)
	return r, mockUserSvc, mockRequestSvc
}

func TestRestUserHandler_GetUserByID_Success(t *testing.T) {
	r, mockUserSvc, mockRequestSvc := setupUserRouter()

	userID := utils.NewSixID()
	user := &models.User{
		Base:      models.Base{ID: userID},
		Name:      "عبدالله",
		CreatedAt: time.Now().Add(-24 * time.Hour),
	}
	mockUserSvc.On("FindByID", mock.Anything, userID).Return(user, nil)
	mockRequestSvc.On("FindRequestsByUserID", mock.Anything, userID).
		Return([]models.Request{{}, {}, {}}, nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/user/"+userID.String(), nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var respBody handlers.PublicUser
	err := json.Unmarshal(w.Body.Bytes(), &respBody)
	assert.NoError(t, err)
	assert.Equal(t, userID.String(), respBody.ID)
	assert.Equal(t, "عبدالله", respBody.Name)
	assert.Equal(t, user.CreatedAt.Format("2006-01-02"), respBody.DateJoined)
	assert.Equal(t, 3, respBody.RequestCount)
	mockUserSvc.AssertExpectations(t)
	mockRequestSvc.AssertExpectations(t)
}

func TestRestUserHandler_GetUserByID_CountFailureStillRenders(t *testing.T) {
	r, mockUserSvc, mockRequestSvc := setupUserRouter()

	userID := utils.NewSixID()
	user := &models.User{Base: models.Base{ID: userID}, Name: "سارة", CreatedAt: time.Now()}
	mockUserSvc.On("FindByID", mock.Anything, userID).Return(user, nil)
	mockRequestSvc.On("FindRequestsByUserID", mock.Anything, userID).
		Return(nil, errors.New("mongo down"))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/user/"+userID.String(), nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var respBody handlers.PublicUser
	err := json.Unmarshal(w.Body.Bytes(), &respBody)
	assert.NoError(t, err)
	assert.Equal(t, "سارة", respBody.Name)
	assert.Equal(t, 0, respBody.RequestCount)
}

func TestRestUserHandler_GetUserByID_NotFound(t *testing.T) {
	r, mockUserSvc, mockRequestSvc := setupUserRouter()

	userID := utils.NewSixID()
	mockUserSvc.On("FindByID", mock.Anything, userID).Return(nil, mongo.ErrNoDocuments)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/user/"+userID.String(), nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	var respBody map[string]interface{}
	err := json.Unmarshal(w.Body.Bytes(), &respBody)
	assert.NoError(t, err)
	assert.Contains(t, respBody["error"], "User not found")
	mockRequestSvc.AssertNotCalled(t, "FindRequestsByUserID")
}

func TestRestUserHandler_GetUserByID_InvalidID(t *testing.T) {
	r, mockUserSvc, _ := setupUserRouter()

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/user/invalid-id", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var respBody map[string]interface{}
	err := json.Unmarshal(w.Body.Bytes(), &respBody)
	assert.NoError(t, err)
	assert.Contains(t, respBody["error"], "Invalid user ID format")
	mockUserSvc.AssertNotCalled(t, "FindByID")
}
