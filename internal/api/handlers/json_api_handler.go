package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/mohmad1412-cmd/abeely-sub001/internal/ai"
	"github.com/mohmad1412-cmd/abeely-sub001/internal/auth"
	"github.com/mohmad1412-cmd/abeely-sub001/internal/config"
	"github.com/mohmad1412-cmd/abeely-sub001/internal/models"
	"github.com/mohmad1412-cmd/abeely-sub001/internal/services"
	"github.com/mohmad1412-cmd/abeely-sub001/internal/storage"
	"github.com/mohmad1412-cmd/abeely-sub001/internal/tasks"
	"github.com/mohmad1412-cmd/abeely-sub001/internal/utils"
)

// Context key type for AuthResult
type authContextKey string

const authResultKey authContextKey = "authResult"

// Helper to get AuthResult from context
func getAuthFromContext(ctx context.Context) (*AuthResult, bool) {
	val, ok := ctx.Value(authResultKey).(*AuthResult)
	return val, ok
}

// IAsynqClient defines the interface for the Asynq client methods used by the handler.
// This allows easier mocking than using the concrete asynq.Client.
type IAsynqClient interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// JsonApiRequest defines the expected structure for JSON API requests.
type JsonApiRequest struct {
	Method    string          `json:"method"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// JsonApiResponse defines the structure for JSON API responses.
type JsonApiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// apiMethodFunc defines the signature for handler methods.
type apiMethodFunc func(c *gin.Context, args json.RawMessage) (interface{}, *ApiError)

// JsonApiHandler holds dependencies for handling JSON API requests.
type JsonApiHandler struct {
	cfg            *config.Config
	rdb            *redis.Client
	userService    services.IUserService
	sessionService services.ISessionService
	publishService services.IPublishService
	guestService   services.IGuestService
	requestService services.IRequestService
	storageService storage.IS3Storage
	connChecker    ai.ConnectionChecker
	taskClient     IAsynqClient
	methods        map[string]apiMethodFunc
}

// NewJsonApiHandler creates a new handler for the JSON API endpoint.
// Accepts interfaces for dependencies.
func NewJsonApiHandler(
	cfg *config.Config,
	rdb *redis.Client,
	taskClient IAsynqClient,
	userService services.IUserService,
	sessionService services.ISessionService,
	publishService services.IPublishService,
	guestService services.IGuestService,
	requestService services.IRequestService,
	storageService storage.IS3Storage,
	connChecker ai.ConnectionChecker,
) *JsonApiHandler {
	h := &JsonApiHandler{
		cfg:            cfg,
		rdb:            rdb,
		taskClient:     taskClient,
		userService:    userService,
		sessionService: sessionService,
		publishService: publishService,
		guestService:   guestService,
		requestService: requestService,
		storageService: storageService,
		connChecker:    connChecker,
	}
	h.methods = map[string]apiMethodFunc{
		"ping":                    h.ping,
		"signIn":                  h.signIn,
		"refreshToken":            h.refreshToken,
		"startSession":            h.startSession,
		"getSession":              h.getSession,
		"sendMessage":             h.sendMessage,
		"answerQuestion":          h.answerQuestion,
		"completeManually":        h.completeManually,
		"switchMode":              h.switchMode,
		"startNewRequest":         h.startNewRequest,
		"updateDraft":             h.updateDraft,
		"toggleSection":           h.toggleSection,
		"publishRequest":          h.publishRequest,
		"deleteRequest":           h.deleteRequest,
		"guestStartVerification":  h.guestStartVerification,
		"guestConfirmCode":        h.guestConfirmCode,
		"guestBack":               h.guestBack,
		"guestAcceptTerms":        h.guestAcceptTerms,
		"checkAIConnection":       h.checkAIConnection,
		"getUploadURL":            h.getUploadURL,
		"confirmAttachmentUpload": h.confirmAttachmentUpload,
		"clearAttachments":        h.clearAttachments,
	}
	return h
}

// HandleRequest is the main entry point for POST /v1/api
func (h *JsonApiHandler) HandleRequest(c *gin.Context) {
	bodyBytes, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.sendErrorResponse(c, "Failed to read request body")
		return
	}

	var req JsonApiRequest
	if err := json.Unmarshal(bodyBytes, &req); err != nil {
		h.sendErrorResponse(c, "Invalid JSON request format")
		return
	}

	authErr := h.checkAuthForMethod(c, req.Method)
	if authErr != nil {
		h.sendErrorResponse(c, authErr.Message)
		return
	}

	var result interface{}
	var apiErr *ApiError

	if handlerFunc, ok := h.methods[req.Method]; ok {
		result, apiErr = handlerFunc(c, req.Arguments)
	} else {
		h.sendErrorResponse(c, fmt.Sprintf("Unknown method: %s", req.Method))
		return
	}

	if apiErr != nil {
		h.sendErrorResponse(c, apiErr.Message)
		return
	}

	h.sendSuccessResponse(c, result)
}

// AuthResult holds optional authentication details
type AuthResult struct {
	UserID  *utils.SixID // Pointer to allow nil for guests
	IsAdmin bool
}

// checkAuthForMethod checks if auth is needed and validates/extracts details if so.
// It stores the AuthResult in c.Request.Context().
func (h *JsonApiHandler) checkAuthForMethod(c *gin.Context, method string) *ApiError {
	needsAuth := h.methodRequiresAuth(method)
	var authRes *AuthResult

	if !needsAuth {
		// If method is public, check if an optional Auth header is present anyway
		authHeader := c.GetHeader("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ") {
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			claims, err := auth.ValidateJWT(tokenString, h.cfg.JwtSecret)
			if err == nil { // Token is valid
				userID, _ := utils.ParseSixID(claims.UserID)
				authRes = &AuthResult{UserID: &userID, IsAdmin: claims.IsAdmin}
			} else {
				// Invalid optional token? Log it but proceed as guest
				log.Printf("DEBUG: Invalid optional auth token provided for method %s: %v", method, err)
				authRes = &AuthResult{UserID: nil, IsAdmin: false} // Guest
			}
		} else {
			authRes = &AuthResult{UserID: nil, IsAdmin: false} // Guest
		}
		ctx := context.WithValue(c.Request.Context(), authResultKey, authRes)
		c.Request = c.Request.WithContext(ctx)
		return nil // Proceed as guest or with optional auth
	}

	// Auth is required
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return NewApiError("Authorization header required")
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return NewApiError("Authorization header format must be Bearer {token}")
	}
	tokenString := parts[1]
	claims, err := auth.ValidateJWT(tokenString, h.cfg.JwtSecret)
	if err != nil {
		log.Printf("DEBUG: Token validation failed for method %s: %v", method, err)
		return NewApiError(fmt.Sprintf("Invalid or expired token: %v", err))
	}

	userID, idErr := utils.ParseSixID(claims.UserID)
	if idErr != nil {
		log.Printf("ERROR: Invalid UserID (%s) in valid JWT for method %s", claims.UserID, method)
		return NewApiError("Internal error")
	}

	authRes = &AuthResult{UserID: &userID, IsAdmin: claims.IsAdmin}
	ctx := context.WithValue(c.Request.Context(), authResultKey, authRes)
	c.Request = c.Request.WithContext(ctx)
	return nil
}

// methodRequiresAuth checks if a given API method requires authentication.
// Most session methods are deliberately public: guests author drafts too, and
// ownership of user-bound sessions is enforced per session.
func (h *JsonApiHandler) methodRequiresAuth(method string) bool {
	switch method {
	case "refreshToken",
		"deleteRequest":
		return true

	case "ping",
		"signIn",
		"startSession",
		"getSession",
		"sendMessage",
		"answerQuestion",
		"completeManually",
		"switchMode",
		"startNewRequest",
		"updateDraft",
		"toggleSection",
		"publishRequest",
		"guestStartVerification",
		"guestConfirmCode",
		"guestBack",
		"guestAcceptTerms",
		"checkAIConnection",
		"getUploadURL",
		"confirmAttachmentUpload",
		"clearAttachments":
		return false

	default:
		log.Printf("Warning: methodRequiresAuth check for unlisted method '%s', defaulting to false (public)", method)
		return false
	}
}

// --- Private helper methods ---

func (h *JsonApiHandler) sendSuccessResponse(c *gin.Context, data interface{}) {
	resp := JsonApiResponse{Success: true, Data: data}
	c.JSON(http.StatusOK, resp)
}

func (h *JsonApiHandler) sendErrorResponse(c *gin.Context, message string) {
	resp := JsonApiResponse{Success: false, Error: message}
	c.JSON(http.StatusOK, resp)
}

// loadSessionChecked parses the session ID, loads the session and enforces
// ownership: a user-bound session is only reachable by its user, a guest
// session by anybody holding its ID.
func (h *JsonApiHandler) loadSessionChecked(c *gin.Context, sessionIDStr string) (*models.DraftSession, *ApiError) {
	sessionID, err := utils.ParseSixID(sessionIDStr)
	if err != nil {
		return nil, NewApiError("invalid_session_id")
	}

	session, err := h.sessionService.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, services.ErrSessionNotFound) {
			return nil, NewApiError("session_not_found")
		}
		log.Printf("DB error loading session %s: %v", sessionIDStr, err)
		return nil, NewApiError("Database error")
	}

	if session.UserID != nil {
		authInfo, ok := getAuthFromContext(c.Request.Context())
		if !ok || authInfo.UserID == nil || *authInfo.UserID != *session.UserID {
			return nil, NewApiError("session_not_found")
		}
	}
	return session, nil
}

// --- API Method Implementations ---

func (h *JsonApiHandler) ping(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	_ = args // Explicitly ignore unused args
	return "pong", nil
}

type ApiError struct {
	Message string
}

func (e *ApiError) Error() string {
	return e.Message
}

func NewApiError(message string) *ApiError {
	return &ApiError{Message: message}
}

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// SignInArgs defines the arguments for the signIn method. Name is only used
// when the email is new and an account gets created. SessionID carries the
// guest session whose verified phone should land on the account.
type SignInArgs struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	Name      string `json:"name,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// signIn authenticates by email and password. Unknown emails are registered
// on the spot so the drafting flow is never blocked on a separate sign-up.
func (h *JsonApiHandler) signIn(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs SignInArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}

	if !emailRegex.MatchString(reqArgs.Email) {
		return nil, NewApiError("invalid_email")
	}
	passwordRe, reErr := regexp.Compile(h.cfg.PasswordRegexp)
	if reErr != nil || !passwordRe.MatchString(reqArgs.Password) {
		return nil, NewApiError("invalid_password")
	}

	ctx := c.Request.Context()
	user, err := h.userService.FindByEmail(ctx, reqArgs.Email)

	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			newUser, createErr := h.userService.CreateUser(ctx, reqArgs.Email, reqArgs.Name, reqArgs.Password)
			if createErr != nil {
				log.Printf("Error creating user %s: %v", reqArgs.Email, createErr)
				return nil, NewApiError("Registration failed")
			}
			user = newUser
		} else {
			log.Printf("DB error finding user %s: %v", reqArgs.Email, err)
			return nil, NewApiError("Database error")
		}
	} else {
		if user.Suspended {
			return nil, NewApiError("account_suspended")
		}
		if !h.userService.VerifyPassword(user, reqArgs.Password) {
			return nil, NewApiError("invalid_credentials")
		}
	}

	token, err := auth.GenerateJWT(user.ID, user.IsAdmin, h.cfg.JwtSecret, h.cfg.JwtTTL)
	if err != nil {
		log.Printf("Failed to generate JWT for user %s: %v", user.ID.String(), err)
		return nil, NewApiError("Failed to create session token")
	}

	// A guest session that already went through phone verification hands its
	// verified phone to the account. Failures only cost the phone, never the
	// sign-in.
	if reqArgs.SessionID != "" {
		h.attachVerifiedGuestPhone(ctx, reqArgs.SessionID, user.ID)
	}

	return gin.H{
		"token":   token,
		"user_id": user.ID.String(),
		"name":    user.Name,
	}, nil
}

func (h *JsonApiHandler) attachVerifiedGuestPhone(ctx context.Context, sessionIDStr string, userID utils.SixID) {
	sessionID, err := utils.ParseSixID(sessionIDStr)
	if err != nil {
		log.Printf("WARN: signIn carried an unparsable session ID %q", sessionIDStr)
		return
	}
	session, err := h.sessionService.GetSession(ctx, sessionID)
	if err != nil {
		log.Printf("WARN: signIn could not load session %s for phone attach: %v", sessionIDStr, err)
		return
	}
	if session.UserID != nil || !session.Guest.TermsAccepted || session.Guest.Phone == "" {
		return
	}
	if err := h.userService.AttachPhone(ctx, userID, session.Guest.Phone); err != nil {
		log.Printf("WARN: failed to attach verified phone to user %s: %v", userID.String(), err)
	}
}

func (h *JsonApiHandler) refreshToken(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	_ = args // Explicitly ignore unused args
	authInfo, ok := getAuthFromContext(c.Request.Context())
	if !ok || authInfo.UserID == nil {
		// This should ideally be caught by methodRequiresAuth, but defensive check.
		return nil, NewApiError("Authentication required for refreshToken")
	}
	userIDStr := authInfo.UserID.String()

	// Generate a new token with the same claims but new expiration
	newToken, err := auth.GenerateJWT(*authInfo.UserID, authInfo.IsAdmin, h.cfg.JwtSecret, h.cfg.JwtTTL)
	if err != nil {
		log.Printf("Failed to generate refreshed JWT for user %s: %v", userIDStr, err)
		return nil, NewApiError("Failed to refresh session token")
	}

	log.Printf("Refreshed token for user %s", userIDStr)
	return newToken, nil
}

// startSession opens a fresh authoring session. Authenticated callers get a
// user-bound session; guests get an anonymous one.
func (h *JsonApiHandler) startSession(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	_ = args
	ctx := c.Request.Context()

	var userID *utils.SixID
	if authInfo, ok := getAuthFromContext(ctx); ok {
		userID = authInfo.UserID
	}

	session, err := h.sessionService.StartSession(ctx, userID)
	if err != nil {
		log.Printf("Error starting session: %v", err)
		return nil, NewApiError("Failed to start session")
	}
	return session, nil
}

func (h *JsonApiHandler) getSession(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var sessionIDStr string
	if apiErr := h.parseRequiredSingleArgFromArray(args, &sessionIDStr); apiErr != nil {
		return nil, apiErr
	}
	session, apiErr := h.loadSessionChecked(c, sessionIDStr)
	if apiErr != nil {
		return nil, apiErr
	}
	return session, nil
}

// SessionTextArgs carries a session ID plus one text payload; used by
// sendMessage and answerQuestion.
type SessionTextArgs struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

func (h *JsonApiHandler) sendMessage(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs SessionTextArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	if strings.TrimSpace(reqArgs.Text) == "" {
		return nil, NewApiError("empty_message")
	}

	session, apiErr := h.loadSessionChecked(c, reqArgs.SessionID)
	if apiErr != nil {
		return nil, apiErr
	}

	result, err := h.sessionService.HandleMessage(c.Request.Context(), session, reqArgs.Text)
	if err != nil {
		log.Printf("Error handling message for session %s: %v", reqArgs.SessionID, err)
		return nil, NewApiError("Failed to process message")
	}
	return gin.H{"result": result, "draft": session.Draft}, nil
}

func (h *JsonApiHandler) answerQuestion(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs SessionTextArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}

	session, apiErr := h.loadSessionChecked(c, reqArgs.SessionID)
	if apiErr != nil {
		return nil, apiErr
	}

	result, err := h.sessionService.AnswerQuestion(c.Request.Context(), session, reqArgs.Text)
	if err != nil {
		log.Printf("Error answering question for session %s: %v", reqArgs.SessionID, err)
		return nil, NewApiError("no_pending_question")
	}

	response := gin.H{"result": result, "draft": session.Draft}

	// The final answer exhausts the batch; the assisted flow publishes on its
	// own, clearing failing optional sections instead of asking again. Guests
	// get the verification directive back the same way publishRequest does.
	if result.ReadyToPublish {
		publishResult, pubErr := h.publishService.Publish(c.Request.Context(), session, true)
		if pubErr != nil {
			log.Printf("Error auto-publishing session %s after final answer: %v", reqArgs.SessionID, pubErr)
			return nil, NewApiError("Failed to publish request")
		}
		response["publish"] = publishResult
	}

	return response, nil
}

func (h *JsonApiHandler) completeManually(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var sessionIDStr string
	if apiErr := h.parseRequiredSingleArgFromArray(args, &sessionIDStr); apiErr != nil {
		return nil, apiErr
	}
	session, apiErr := h.loadSessionChecked(c, sessionIDStr)
	if apiErr != nil {
		return nil, apiErr
	}
	if err := h.sessionService.CompleteManually(c.Request.Context(), session); err != nil {
		log.Printf("Error completing session %s manually: %v", sessionIDStr, err)
		return nil, NewApiError("Failed to switch to manual editing")
	}
	return session, nil
}

// SwitchModeArgs selects which surface is open.
type SwitchModeArgs struct {
	SessionID string `json:"session_id"`
	Assisted  bool   `json:"assisted"`
}

func (h *JsonApiHandler) switchMode(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs SwitchModeArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	session, apiErr := h.loadSessionChecked(c, reqArgs.SessionID)
	if apiErr != nil {
		return nil, apiErr
	}
	if err := h.sessionService.SwitchMode(c.Request.Context(), session, reqArgs.Assisted); err != nil {
		log.Printf("Error switching mode for session %s: %v", reqArgs.SessionID, err)
		return nil, NewApiError("Failed to switch mode")
	}
	return session, nil
}

// StartNewRequestArgs resets a session; Confirm must be true when the session
// already has a conversation.
type StartNewRequestArgs struct {
	SessionID string `json:"session_id"`
	Confirm   bool   `json:"confirm"`
}

func (h *JsonApiHandler) startNewRequest(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs StartNewRequestArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	session, apiErr := h.loadSessionChecked(c, reqArgs.SessionID)
	if apiErr != nil {
		return nil, apiErr
	}
	if err := h.sessionService.StartNewRequest(c.Request.Context(), session, reqArgs.Confirm); err != nil {
		if errors.Is(err, services.ErrConfirmRequired) {
			return nil, NewApiError("confirm_required")
		}
		log.Printf("Error resetting session %s: %v", reqArgs.SessionID, err)
		return nil, NewApiError("Failed to start new request")
	}
	return session, nil
}

// UpdateDraftArgs carries manual-surface field edits.
type UpdateDraftArgs struct {
	SessionID string                 `json:"session_id"`
	Fields    map[string]interface{} `json:"fields"`
}

func (h *JsonApiHandler) updateDraft(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs UpdateDraftArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	if len(reqArgs.Fields) == 0 {
		return nil, NewApiError("no_fields_to_update")
	}
	session, apiErr := h.loadSessionChecked(c, reqArgs.SessionID)
	if apiErr != nil {
		return nil, apiErr
	}
	if err := h.sessionService.UpdateDraft(c.Request.Context(), session, reqArgs.Fields); err != nil {
		log.Printf("Error updating draft for session %s: %v", reqArgs.SessionID, err)
		return nil, NewApiError(err.Error())
	}
	return session.Draft, nil
}

// ToggleSectionArgs switches an optional draft section on or off.
type ToggleSectionArgs struct {
	SessionID string `json:"session_id"`
	Section   string `json:"section"`
	On        bool   `json:"on"`
}

func (h *JsonApiHandler) toggleSection(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs ToggleSectionArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	session, apiErr := h.loadSessionChecked(c, reqArgs.SessionID)
	if apiErr != nil {
		return nil, apiErr
	}
	if err := h.sessionService.ToggleSection(c.Request.Context(), session, models.DraftSection(reqArgs.Section), reqArgs.On); err != nil {
		return nil, NewApiError(err.Error())
	}
	return session.Draft, nil
}

// PublishRequestArgs triggers the publish gate; Force clears failing optional
// sections instead of blocking.
type PublishRequestArgs struct {
	SessionID string `json:"session_id"`
	Force     bool   `json:"force"`
}

func (h *JsonApiHandler) publishRequest(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs PublishRequestArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	session, apiErr := h.loadSessionChecked(c, reqArgs.SessionID)
	if apiErr != nil {
		return nil, apiErr
	}

	result, err := h.publishService.Publish(c.Request.Context(), session, reqArgs.Force)
	if err != nil {
		log.Printf("Error publishing session %s: %v", reqArgs.SessionID, err)
		return nil, NewApiError("Failed to publish request")
	}
	return result, nil
}

func (h *JsonApiHandler) deleteRequest(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	authInfo, ok := getAuthFromContext(c.Request.Context())
	if !ok || authInfo.UserID == nil {
		return nil, NewApiError("Authentication required")
	}

	var requestIDStr string
	if apiErr := h.parseRequiredSingleArgFromArray(args, &requestIDStr); apiErr != nil {
		return nil, apiErr
	}
	requestID, err := utils.ParseSixID(requestIDStr)
	if err != nil {
		return nil, NewApiError("invalid_request_id")
	}

	if err := h.requestService.DeleteRequest(c.Request.Context(), requestID, *authInfo.UserID); err != nil {
		log.Printf("Error deleting request %s: %v", requestIDStr, err)
		return nil, NewApiError("Failed to delete request")
	}
	return "deleted", nil
}

// --- Guest verification methods ---

// GuestPhoneArgs starts the guest verification flow.
type GuestPhoneArgs struct {
	SessionID string `json:"session_id"`
	Phone     string `json:"phone"`
}

func (h *JsonApiHandler) guestStartVerification(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs GuestPhoneArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	session, apiErr := h.loadSessionChecked(c, reqArgs.SessionID)
	if apiErr != nil {
		return nil, apiErr
	}

	ctx := c.Request.Context()
	code, err := h.guestService.StartVerification(ctx, session, reqArgs.Phone)
	if err != nil {
		if errors.Is(err, services.ErrInvalidPhone) {
			return nil, NewApiError("invalid_phone")
		}
		log.Printf("Error starting guest verification for session %s: %v", reqArgs.SessionID, err)
		return nil, NewApiError("Failed to start verification")
	}

	payloadBytes, _ := json.Marshal(tasks.OtpTaskPayload{
		Phone: session.Guest.Phone,
		Code:  code,
	})
	task := asynq.NewTask(tasks.TypeOtpDelivery, payloadBytes, asynq.Queue("critical"))
	if _, enqueueErr := h.taskClient.EnqueueContext(ctx, task); enqueueErr != nil {
		log.Printf("ERROR enqueuing OTP delivery for session %s: %v", reqArgs.SessionID, enqueueErr)
	}

	response := gin.H{"step": session.Guest.Step}
	if h.cfg.MockServices {
		// Dev convenience only; never set in production.
		response["code"] = code
	}
	return response, nil
}

// GuestCodeArgs submits the received one-time code.
type GuestCodeArgs struct {
	SessionID string `json:"session_id"`
	Code      string `json:"code"`
}

func (h *JsonApiHandler) guestConfirmCode(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs GuestCodeArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	session, apiErr := h.loadSessionChecked(c, reqArgs.SessionID)
	if apiErr != nil {
		return nil, apiErr
	}

	verified, err := h.guestService.ConfirmCode(c.Request.Context(), session, reqArgs.Code)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrCodeExpired):
			return nil, NewApiError("code_expired")
		case errors.Is(err, services.ErrTooManyAttempts):
			return nil, NewApiError("too_many_attempts")
		case errors.Is(err, services.ErrWrongGuestStep):
			return nil, NewApiError("wrong_step")
		default:
			log.Printf("Error confirming guest code for session %s: %v", reqArgs.SessionID, err)
			return nil, NewApiError("Failed to confirm code")
		}
	}
	return gin.H{"verified": verified, "step": session.Guest.Step}, nil
}

func (h *JsonApiHandler) guestBack(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var sessionIDStr string
	if apiErr := h.parseRequiredSingleArgFromArray(args, &sessionIDStr); apiErr != nil {
		return nil, apiErr
	}
	session, apiErr := h.loadSessionChecked(c, sessionIDStr)
	if apiErr != nil {
		return nil, apiErr
	}
	if err := h.guestService.Back(c.Request.Context(), session); err != nil {
		if errors.Is(err, services.ErrWrongGuestStep) {
			return nil, NewApiError("wrong_step")
		}
		log.Printf("Error stepping back guest flow for session %s: %v", sessionIDStr, err)
		return nil, NewApiError("Failed to go back")
	}
	return gin.H{"step": session.Guest.Step}, nil
}

// GuestTermsArgs records terms acceptance.
type GuestTermsArgs struct {
	SessionID string `json:"session_id"`
	Accepted  bool   `json:"accepted"`
}

func (h *JsonApiHandler) guestAcceptTerms(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs GuestTermsArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	session, apiErr := h.loadSessionChecked(c, reqArgs.SessionID)
	if apiErr != nil {
		return nil, apiErr
	}
	if err := h.guestService.AcceptTerms(c.Request.Context(), session, reqArgs.Accepted); err != nil {
		switch {
		case errors.Is(err, services.ErrTermsNotAccepted):
			return nil, NewApiError("terms_not_accepted")
		case errors.Is(err, services.ErrWrongGuestStep):
			return nil, NewApiError("wrong_step")
		default:
			log.Printf("Error accepting terms for session %s: %v", reqArgs.SessionID, err)
			return nil, NewApiError("Failed to accept terms")
		}
	}
	// Verification done; the draft still publishes only through a real
	// signed-in account.
	return gin.H{"step": session.Guest.Step, "next": "sign_in_required"}, nil
}

func (h *JsonApiHandler) checkAIConnection(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	_ = args
	connected, err := h.connChecker.Check(c.Request.Context())
	if err != nil {
		log.Printf("AI connectivity check error: %v", err)
		return nil, NewApiError("Failed to check AI connection")
	}
	return gin.H{"connected": connected}, nil
}

// --- Attachment methods ---

// GetUploadURLArgs requests a presigned upload slot for one attachment.
type GetUploadURLArgs struct {
	SessionID   string `json:"session_id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
}

func (h *JsonApiHandler) getUploadURL(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs GetUploadURLArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	if reqArgs.Filename == "" || reqArgs.ContentType == "" {
		return nil, NewApiError("Missing required arguments (session_id, filename, content_type)")
	}

	session, apiErr := h.loadSessionChecked(c, reqArgs.SessionID)
	if apiErr != nil {
		return nil, apiErr
	}
	if len(session.Draft.Attachments) >= h.cfg.MaxAttachments {
		return nil, NewApiError("attachment_limit_reached")
	}

	ctx := c.Request.Context()
	presignedURL, objectKey, err := h.storageService.GeneratePresignedPutURL(ctx,
		session.ID.String(),
		reqArgs.Filename,
		reqArgs.ContentType,
	)
	if err != nil {
		log.Printf("Error generating presigned URL for session %s: %v", reqArgs.SessionID, err)
		return nil, NewApiError("Failed to generate upload URL")
	}

	// The client needs the key for confirmAttachmentUpload
	return gin.H{
		"upload_url": presignedURL,
		"object_key": objectKey,
	}, nil
}

// ConfirmAttachmentUploadArgs reports a finished upload so processing can
// start.
type ConfirmAttachmentUploadArgs struct {
	SessionID string `json:"session_id"`
	ObjectKey string `json:"object_key"`
	Kind      string `json:"kind"`
}

func (h *JsonApiHandler) confirmAttachmentUpload(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs ConfirmAttachmentUploadArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	if reqArgs.ObjectKey == "" {
		return nil, NewApiError("Missing required argument object_key")
	}
	switch models.AttachmentKind(reqArgs.Kind) {
	case models.AttachmentKindImage, models.AttachmentKindAudio, models.AttachmentKindFile:
	default:
		return nil, NewApiError("invalid_attachment_kind")
	}
	// The key namespace binds uploads to their session.
	if !strings.HasPrefix(reqArgs.ObjectKey, "attachments/"+reqArgs.SessionID+"/") {
		return nil, NewApiError("object_key_mismatch")
	}

	session, apiErr := h.loadSessionChecked(c, reqArgs.SessionID)
	if apiErr != nil {
		return nil, apiErr
	}
	if len(session.Draft.Attachments) >= h.cfg.MaxAttachments {
		return nil, NewApiError("attachment_limit_reached")
	}

	payloadBytes, _ := json.Marshal(tasks.AttachmentTaskPayload{
		S3Key:     reqArgs.ObjectKey,
		SessionID: reqArgs.SessionID,
		Kind:      reqArgs.Kind,
	})
	task := asynq.NewTask(tasks.TypeAttachmentProcess, payloadBytes, asynq.Queue("images"))
	if _, err := h.taskClient.EnqueueContext(c.Request.Context(), task); err != nil {
		log.Printf("ERROR enqueuing attachment processing for session %s: %v", reqArgs.SessionID, err)
		return nil, NewApiError("Failed to schedule attachment processing")
	}

	return "processing", nil
}

func (h *JsonApiHandler) clearAttachments(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var sessionIDStr string
	if apiErr := h.parseRequiredSingleArgFromArray(args, &sessionIDStr); apiErr != nil {
		return nil, apiErr
	}
	session, apiErr := h.loadSessionChecked(c, sessionIDStr)
	if apiErr != nil {
		return nil, apiErr
	}

	ctx := c.Request.Context()
	keys := make([]string, 0, len(session.Draft.Attachments))
	for _, attachment := range session.Draft.Attachments {
		keys = append(keys, attachment.Key)
	}

	if err := h.sessionService.ClearAttachments(ctx, session); err != nil {
		log.Printf("Error clearing attachments for session %s: %v", sessionIDStr, err)
		return nil, NewApiError("Failed to clear attachments")
	}

	if len(keys) > 0 {
		payloadBytes, _ := json.Marshal(tasks.AttachmentDeletePayload{Keys: keys})
		task := asynq.NewTask(tasks.TypeAttachmentDelete, payloadBytes, asynq.Queue("low"))
		if _, err := h.taskClient.EnqueueContext(ctx, task); err != nil {
			log.Printf("ERROR enqueuing attachment deletion for session %s: %v", sessionIDStr, err)
		}
	}

	return session.Draft, nil
}

func (h *JsonApiHandler) parseRequiredSingleArgFromArray(rawArgPayload json.RawMessage, targetVarPtr interface{}) *ApiError {
	var argArray []json.RawMessage
	if rawArgPayload == nil { // 'arguments' field was not provided
		return NewApiError("Missing 'arguments' field; expected a JSON array with one argument.")
	}

	if err := json.Unmarshal(rawArgPayload, &argArray); err != nil {
		// 'arguments' was present but wasn't a valid JSON array
		return NewApiError("Invalid 'arguments': expected a JSON array.")
	}

	if len(argArray) == 0 {
		// 'arguments' was '[]'
		return NewApiError("Invalid 'arguments': array is empty, but one argument is expected.")
	}

	actualArgData := argArray[0] // Get the first element
	if err := json.Unmarshal(actualArgData, targetVarPtr); err != nil {
		// The first element of the array was not of the expected type
		// Provide a more generic error as err.Error() might contain sensitive details or be too verbose for API response.
		return NewApiError("Invalid format for argument: the first element in 'arguments' array has unexpected structure.")
	}
	return nil
}
