package handlers_test

import (
	"context"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/mock"

	"github.com/mohmad1412-cmd/abeely-sub001/internal/models"
	"github.com/mohmad1412-cmd/abeely-sub001/internal/services"
	"github.com/mohmad1412-cmd/abeely-sub001/internal/utils"
)

// --- Mocks ---

// MockUserService
type MockUserService struct {
	mock.Mock
}

func (m *MockUserService) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserService) FindByID(ctx context.Context, userID utils.SixID) (*models.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserService) CreateUser(ctx context.Context, email, name, password string) (*models.User, error) {
	args := m.Called(ctx, email, name, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserService) VerifyPassword(user *models.User, password string) bool {
	args := m.Called(user, password)
	return args.Bool(0)
}

func (m *MockUserService) AttachPhone(ctx context.Context, userID utils.SixID, phone string) error {
	args := m.Called(ctx, userID, phone)
	return args.Error(0)
}

// MockSessionService
type MockSessionService struct {
	mock.Mock
}

func (m *MockSessionService) StartSession(ctx context.Context, userID *utils.SixID) (*models.DraftSession, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.DraftSession), args.Error(1)
}

func (m *MockSessionService) GetSession(ctx context.Context, sessionID utils.SixID) (*models.DraftSession, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.DraftSession), args.Error(1)
}

func (m *MockSessionService) HandleMessage(ctx context.Context, session *models.DraftSession, text string) (*services.HandleResult, error) {
	args := m.Called(ctx, session, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.HandleResult), args.Error(1)
}

func (m *MockSessionService) AnswerQuestion(ctx context.Context, session *models.DraftSession, answer string) (*services.HandleResult, error) {
	args := m.Called(ctx, session, answer)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.HandleResult), args.Error(1)
}

func (m *MockSessionService) CompleteManually(ctx context.Context, session *models.DraftSession) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *MockSessionService) SwitchMode(ctx context.Context, session *models.DraftSession, assisted bool) error {
	args := m.Called(ctx, session, assisted)
	return args.Error(0)
}

func (m *MockSessionService) StartNewRequest(ctx context.Context, session *models.DraftSession, confirm bool) error {
	args := m.Called(ctx, session, confirm)
	return args.Error(0)
}

func (m *MockSessionService) UpdateDraft(ctx context.Context, session *models.DraftSession, fields map[string]interface{}) error {
	args := m.Called(ctx, session, fields)
	return args.Error(0)
}

func (m *MockSessionService) ToggleSection(ctx context.Context, session *models.DraftSession, section models.DraftSection, on bool) error {
	args := m.Called(ctx, session, section, on)
	return args.Error(0)
}

func (m *MockSessionService) AddAttachment(ctx context.Context, session *models.DraftSession, attachment models.Attachment) error {
	args := m.Called(ctx, session, attachment)
	return args.Error(0)
}

func (m *MockSessionService) ClearAttachments(ctx context.Context, session *models.DraftSession) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *MockSessionService) SaveSession(ctx context.Context, session *models.DraftSession) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *MockSessionService) DeleteAged(ctx context.Context) (int64, []string, error) {
	args := m.Called(ctx)
	var keys []string
	if args.Get(1) != nil {
		keys = args.Get(1).([]string)
	}
	return args.Get(0).(int64), keys, args.Error(2)
}

// MockPublishService
type MockPublishService struct {
	mock.Mock
}

func (m *MockPublishService) Publish(ctx context.Context, session *models.DraftSession, force bool) (*services.PublishResult, error) {
	args := m.Called(ctx, session, force)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.PublishResult), args.Error(1)
}

func (m *MockPublishService) CollectIssues(draft *models.RequestDraft) []services.PublishIssue {
	args := m.Called(draft)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]services.PublishIssue)
}

// MockGuestService
type MockGuestService struct {
	mock.Mock
}

func (m *MockGuestService) StartVerification(ctx context.Context, session *models.DraftSession, phone string) (string, error) {
	args := m.Called(ctx, session, phone)
	return args.String(0), args.Error(1)
}

func (m *MockGuestService) ConfirmCode(ctx context.Context, session *models.DraftSession, code string) (bool, error) {
	args := m.Called(ctx, session, code)
	return args.Bool(0), args.Error(1)
}

func (m *MockGuestService) Back(ctx context.Context, session *models.DraftSession) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *MockGuestService) AcceptTerms(ctx context.Context, session *models.DraftSession, accepted bool) error {
	args := m.Called(ctx, session, accepted)
	return args.Error(0)
}

// MockRequestService
type MockRequestService struct {
	mock.Mock
}

func (m *MockRequestService) CreateOrUpdateRequest(ctx context.Context, userID utils.SixID, existingID *utils.SixID, draft *models.RequestDraft) (*models.Request, error) {
	args := m.Called(ctx, userID, existingID, draft)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Request), args.Error(1)
}

func (m *MockRequestService) FindRequestByID(ctx context.Context, requestID utils.SixID) (*models.Request, error) {
	args := m.Called(ctx, requestID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Request), args.Error(1)
}

func (m *MockRequestService) FindRequestsByUserID(ctx context.Context, userID utils.SixID) ([]models.Request, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Request), args.Error(1)
}

func (m *MockRequestService) SearchRequests(ctx context.Context, query *string, categories []string, location *string, limit int, cursor *string) ([]models.Request, string, error) {
	args := m.Called(ctx, query, categories, location, limit, cursor)
	var requests []models.Request
	if args.Get(0) != nil {
		requests = args.Get(0).([]models.Request)
	}
	return requests, args.String(1), args.Error(2)
}

func (m *MockRequestService) DeleteRequest(ctx context.Context, requestID, userID utils.SixID) error {
	args := m.Called(ctx, requestID, userID)
	return args.Error(0)
}

func (m *MockRequestService) AddAttachmentToRequest(ctx context.Context, requestID utils.SixID, attachment models.Attachment) error {
	args := m.Called(ctx, requestID, attachment)
	return args.Error(0)
}

// MockS3Storage
type MockS3Storage struct {
	mock.Mock
}

func (m *MockS3Storage) GeneratePresignedPutURL(ctx context.Context, sessionID, filename, contentType string) (string, string, error) {
	args := m.Called(ctx, sessionID, filename, contentType)
	return args.String(0), args.String(1), args.Error(2)
}

func (m *MockS3Storage) DeleteObject(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockS3Storage) DeleteObjects(ctx context.Context, keys []string) error {
	args := m.Called(ctx, keys)
	return args.Error(0)
}

// MockConnectionChecker
type MockConnectionChecker struct {
	mock.Mock
}

func (m *MockConnectionChecker) Check(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

// MockAsynqClient implements handlers.IAsynqClient
type MockAsynqClient struct {
	mock.Mock
}

func (m *MockAsynqClient) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	args := m.Called(ctx, task, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*asynq.TaskInfo), args.Error(1)
}
