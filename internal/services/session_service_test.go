package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/mohmad1412-cmd/abeely-sub001/internal/ai"
	"github.com/mohmad1412-cmd/abeely-sub001/internal/config"
	"github.com/mohmad1412-cmd/abeely-sub001/internal/models"
	"github.com/mohmad1412-cmd/abeely-sub001/internal/utils"
)

// mockGenerator stubs the AI boundary.
type mockGenerator struct {
	mock.Mock
}

func (m *mockGenerator) GenerateDraft(ctx context.Context, userText string, current *models.RequestDraft) (*ai.DraftResult, error) {
	args := m.Called(ctx, userText, current)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ai.DraftResult), args.Error(1)
}

func sessionTestConfig() *config.Config {
	return &config.Config{
		MinDescriptionLen:  20,
		DefaultSeriousness: 2,
		MaxAttachments:     5,
		MaxDraftAge:        72 * time.Hour,
	}
}

func setupSessionService(t *testing.T, dbName string) (ISessionService, *mongo.Database, *mockGenerator) {
	db := utils.SetupTestDB(t, dbName, sessionsCollection)
	gen := new(mockGenerator)
	svc := NewSessionService(db, sessionTestConfig(), NewClarifyService(), NewQuestionService(), gen)
	return svc, db, gen
}

func TestSessionService_StartAndGet(t *testing.T) {
	svc, _, _ := setupSessionService(t, "testdb_session_start")
	ctx := context.Background()

	userID := utils.NewSixID()
	session, err := svc.StartSession(ctx, &userID)
	assert.NoError(t, err)
	assert.True(t, session.AssistedOpen)
	assert.Equal(t, userID, *session.UserID)
	assert.NotNil(t, session.Draft)

	loaded, err := svc.GetSession(ctx, session.ID)
	assert.NoError(t, err)
	assert.Equal(t, session.ID, loaded.ID)

	_, err = svc.GetSession(ctx, utils.NewSixID())
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionService_GetSession_AgedOut(t *testing.T) {
	svc, db, _ := setupSessionService(t, "testdb_session_aged")
	ctx := context.Background()

	session, err := svc.StartSession(ctx, nil)
	require.NoError(t, err)

	// Push the last-update time past the age limit
	old := time.Now().UTC().Add(-100 * time.Hour)
	_, err = db.Collection(sessionsCollection).UpdateOne(ctx,
		bson.M{"_id": session.ID},
		bson.M{"$set": bson.M{"updated_at": old}})
	require.NoError(t, err)

	_, err = svc.GetSession(ctx, session.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// Published sessions never age out
	_, err = db.Collection(sessionsCollection).UpdateOne(ctx,
		bson.M{"_id": session.ID},
		bson.M{"$set": bson.M{"published": true}})
	require.NoError(t, err)
	_, err = svc.GetSession(ctx, session.ID)
	assert.NoError(t, err)
}

func TestSessionService_HandleMessage_FullTurn(t *testing.T) {
	svc, _, gen := setupSessionService(t, "testdb_session_turn")
	ctx := context.Background()

	session, err := svc.StartSession(ctx, nil)
	require.NoError(t, err)

	input := "أبغى مصمم شعار لمقهى جديد في الرياض"
	gen.On("GenerateDraft", mock.Anything, input, session.Draft).Return(&ai.DraftResult{
		AIResponse:  "تمام، سجلت طلبك",
		Title:       "تصميم شعار",
		Description: "تصميم شعار لمقهى",
		Categories:  []string{"تصميم"},
		Location:    "الرياض",
	}, nil)

	result, err := svc.HandleMessage(ctx, session, input)
	assert.NoError(t, err)
	assert.False(t, result.Clarification)
	assert.True(t, result.AIAvailable)
	assert.Equal(t, "تصميم شعار", session.Draft.Title)
	assert.Equal(t, "الرياض", session.Draft.Location)

	// A question batch was generated for the gaps (description too short,
	// budget, delivery time)
	assert.True(t, session.QuestionsGenerated)
	assert.NotEmpty(t, session.Questions)
	assert.NotNil(t, result.NextQuestion)
	assert.False(t, result.ReadyToPublish)
	assert.Equal(t, models.QuestionKeyDescription, result.NextQuestion.Key)
	gen.AssertExpectations(t)
}

func TestSessionService_HandleMessage_ClarificationRoundTrip(t *testing.T) {
	svc, _, gen := setupSessionService(t, "testdb_session_clarify")
	ctx := context.Background()

	session, err := svc.StartSession(ctx, nil)
	require.NoError(t, err)

	// Bare lexicon keyword triggers the clarification gate; no AI call yet
	result, err := svc.HandleMessage(ctx, session, "سيارة")
	assert.NoError(t, err)
	assert.True(t, result.Clarification)
	assert.NotEmpty(t, result.QuickOptions)
	assert.NotEmpty(t, session.PendingClarification)
	gen.AssertNotCalled(t, "GenerateDraft", mock.Anything, mock.Anything, mock.Anything)

	// The next turn answers the clarification; original text and answer are
	// combined and sent to the generator, and the gate is not run again
	gen.On("GenerateDraft", mock.Anything, "سيارة شراء سيارة", session.Draft).Return(&ai.DraftResult{
		AIResponse:  "تمام",
		Title:       "شراء سيارة",
		Description: "البحث عن سيارة مستعملة للشراء",
	}, nil)

	result, err = svc.HandleMessage(ctx, session, "شراء سيارة")
	assert.NoError(t, err)
	assert.False(t, result.Clarification)
	assert.Empty(t, session.PendingClarification)
	assert.Equal(t, "شراء سيارة", session.Draft.Title)
	gen.AssertExpectations(t)
}

func TestSessionService_HandleMessage_AIFailure(t *testing.T) {
	svc, _, gen := setupSessionService(t, "testdb_session_aifail")
	ctx := context.Background()

	session, err := svc.StartSession(ctx, nil)
	require.NoError(t, err)
	input := "أحتاج مبرمج يسوي لي متجر إلكتروني"
	gen.On("GenerateDraft", mock.Anything, input, session.Draft).Return(nil, errors.New("upstream timeout"))

	result, err := svc.HandleMessage(ctx, session, input)
	assert.NoError(t, err)
	assert.False(t, result.AIAvailable)
	assert.Equal(t, aiUnavailableMessage, result.Reply)

	// The draft is untouched; the transcript carries the fallback message
	assert.Empty(t, session.Draft.Title)
	assert.Empty(t, session.Draft.Description)
	last := session.Messages[len(session.Messages)-1]
	assert.Equal(t, models.ChatRoleAssistant, last.Role)
	assert.Equal(t, aiUnavailableMessage, last.Text)
}

func TestSessionService_AnswerQuestion_Flow(t *testing.T) {
	svc, _, gen := setupSessionService(t, "testdb_session_answers")
	ctx := context.Background()

	session, err := svc.StartSession(ctx, nil)
	require.NoError(t, err)

	input := "محتاج كهربائي يركب ثريات في شقتي الجديدة بحي النرجس"
	gen.On("GenerateDraft", mock.Anything, input, session.Draft).Return(&ai.DraftResult{
		AIResponse:  "تمام",
		Title:       "تركيب ثريات",
		Description: "تركيب ثريات ومفاتيح كهربائية في شقة جديدة",
	}, nil)

	result, err := svc.HandleMessage(ctx, session, input)
	require.NoError(t, err)
	// Location, budget and delivery are missing
	require.NotNil(t, result.NextQuestion)
	assert.Equal(t, models.QuestionKeyLocation, result.NextQuestion.Key)

	result, err = svc.AnswerQuestion(ctx, session, "الرياض")
	assert.NoError(t, err)
	assert.Equal(t, "الرياض", session.Draft.Location)
	require.NotNil(t, result.NextQuestion)
	assert.Equal(t, models.QuestionKeyBudget, result.NextQuestion.Key)

	result, err = svc.AnswerQuestion(ctx, session, "500-800")
	assert.NoError(t, err)
	assert.Equal(t, "500", session.Draft.BudgetMin)
	assert.Equal(t, "800", session.Draft.BudgetMax)
	require.NotNil(t, result.NextQuestion)
	assert.Equal(t, models.QuestionKeyDeliveryTime, result.NextQuestion.Key)

	result, err = svc.AnswerQuestion(ctx, session, models.DeliveryFlexible)
	assert.NoError(t, err)
	assert.Nil(t, result.NextQuestion)
	assert.True(t, result.ReadyToPublish)

	// Batch exhausted
	_, err = svc.AnswerQuestion(ctx, session, "إجابة زائدة")
	assert.Error(t, err)
}

func TestSessionService_CompleteManually(t *testing.T) {
	svc, _, gen := setupSessionService(t, "testdb_session_manual")
	ctx := context.Background()

	session, err := svc.StartSession(ctx, nil)
	require.NoError(t, err)

	input := "أبغى أحد ينظف فلتي قبل العيد تنظيف شامل"
	gen.On("GenerateDraft", mock.Anything, input, session.Draft).Return(&ai.DraftResult{
		AIResponse:  "تمام",
		Description: "تنظيف شامل لفيلا قبل العيد",
	}, nil)
	_, err = svc.HandleMessage(ctx, session, input)
	require.NoError(t, err)
	require.NotNil(t, session.CurrentQuestionPending())

	err = svc.CompleteManually(ctx, session)
	assert.NoError(t, err)
	assert.Nil(t, session.CurrentQuestionPending())
	assert.True(t, session.ManualOpen())
	// The extracted values survive the skip
	assert.Equal(t, "تنظيف شامل لفيلا قبل العيد", session.Draft.Description)
}

func TestSessionService_StartNewRequest_Confirm(t *testing.T) {
	svc, _, gen := setupSessionService(t, "testdb_session_reset")
	ctx := context.Background()

	session, err := svc.StartSession(ctx, nil)
	require.NoError(t, err)

	// Empty session resets without confirmation
	err = svc.StartNewRequest(ctx, session, false)
	assert.NoError(t, err)

	input := "أحتاج مدرس رياضيات خصوصي لابني في المرحلة المتوسطة"
	gen.On("GenerateDraft", mock.Anything, input, session.Draft).Return(&ai.DraftResult{
		AIResponse: "تمام",
		Title:      "مدرس رياضيات",
	}, nil)
	_, err = svc.HandleMessage(ctx, session, input)
	require.NoError(t, err)

	err = svc.StartNewRequest(ctx, session, false)
	assert.ErrorIs(t, err, ErrConfirmRequired)
	assert.Equal(t, "مدرس رياضيات", session.Draft.Title)

	err = svc.StartNewRequest(ctx, session, true)
	assert.NoError(t, err)
	assert.Empty(t, session.Draft.Title)
	assert.Empty(t, session.Messages)
	assert.True(t, session.AssistedOpen)
	assert.False(t, session.Published)
}

func TestSessionService_UpdateDraft(t *testing.T) {
	svc, _, _ := setupSessionService(t, "testdb_session_update")
	ctx := context.Background()

	session, err := svc.StartSession(ctx, nil)
	require.NoError(t, err)

	err = svc.UpdateDraft(ctx, session, map[string]interface{}{
		"title":        "نقل عفش",
		"location":     "جدة",
		"neighborhood": "الحمراء",
		"budget_min":   "300",
		"budget_max":   "600",
		"seriousness":  float64(3),
	})
	assert.NoError(t, err)
	assert.Equal(t, "نقل عفش", session.Draft.Title)
	assert.True(t, session.Draft.NeighborhoodOn)
	assert.True(t, session.Draft.BudgetOn)
	assert.Equal(t, models.BudgetTypeFixed, session.Draft.BudgetType)
	assert.Equal(t, 3, session.Draft.Seriousness)

	// Switching to negotiable clears the bounds
	err = svc.UpdateDraft(ctx, session, map[string]interface{}{"budget_type": "negotiable"})
	assert.NoError(t, err)
	assert.Empty(t, session.Draft.BudgetMin)
	assert.Empty(t, session.Draft.BudgetMax)

	// Unknown fields are rejected outright
	err = svc.UpdateDraft(ctx, session, map[string]interface{}{"user_id": "hacked"})
	assert.Error(t, err)

	err = svc.UpdateDraft(ctx, session, map[string]interface{}{"budget_type": "whatever"})
	assert.Error(t, err)
}

func TestSessionService_Attachments(t *testing.T) {
	svc, _, _ := setupSessionService(t, "testdb_session_attach")
	ctx := context.Background()

	session, err := svc.StartSession(ctx, nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		err = svc.AddAttachment(ctx, session, models.Attachment{
			Key:  "attachments/" + session.ID.String() + "/file.jpg",
			Kind: models.AttachmentKindImage,
		})
		assert.NoError(t, err)
	}
	assert.True(t, session.Draft.AttachmentsOn)

	// Limit enforced
	err = svc.AddAttachment(ctx, session, models.Attachment{Key: "attachments/x/extra.jpg", Kind: models.AttachmentKindImage})
	assert.Error(t, err)

	err = svc.ClearAttachments(ctx, session)
	assert.NoError(t, err)
	assert.Empty(t, session.Draft.Attachments)
}

func TestSessionService_DeleteAged(t *testing.T) {
	svc, db, _ := setupSessionService(t, "testdb_session_cleanup")
	ctx := context.Background()

	fresh, err := svc.StartSession(ctx, nil)
	require.NoError(t, err)

	stale, err := svc.StartSession(ctx, nil)
	require.NoError(t, err)
	err = svc.AddAttachment(ctx, stale, models.Attachment{Key: "attachments/stale/a.jpg", Kind: models.AttachmentKindImage})
	require.NoError(t, err)

	published, err := svc.StartSession(ctx, nil)
	require.NoError(t, err)

	old := time.Now().UTC().Add(-100 * time.Hour)
	_, err = db.Collection(sessionsCollection).UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": []utils.SixID{stale.ID, published.ID}}},
		bson.M{"$set": bson.M{"updated_at": old}})
	require.NoError(t, err)
	_, err = db.Collection(sessionsCollection).UpdateOne(ctx,
		bson.M{"_id": published.ID},
		bson.M{"$set": bson.M{"published": true}})
	require.NoError(t, err)

	count, keys, err := svc.DeleteAged(ctx)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, []string{"attachments/stale/a.jpg"}, keys)

	// Fresh and published sessions survive
	_, err = svc.GetSession(ctx, fresh.ID)
	assert.NoError(t, err)
	var doc models.DraftSession
	err = db.Collection(sessionsCollection).FindOne(ctx, bson.M{"_id": published.ID}).Decode(&doc)
	assert.NoError(t, err)
}

func TestSessionService_DeleteAged_GuestTTL(t *testing.T) {
	db := utils.SetupTestDB(t, "testdb_session_guest_ttl", sessionsCollection)
	cfg := sessionTestConfig()
	cfg.GuestSessionTTL = 24 * time.Hour
	svc := NewSessionService(db, cfg, NewClarifyService(), NewQuestionService(), new(mockGenerator))
	ctx := context.Background()

	userID := utils.NewSixID()

	agedGuest, err := svc.StartSession(ctx, nil)
	require.NoError(t, err)
	agedUser, err := svc.StartSession(ctx, &userID)
	require.NoError(t, err)

	// Both idle for 48h: past the guest TTL, well inside the draft age limit.
	old := time.Now().UTC().Add(-48 * time.Hour)
	_, err = db.Collection(sessionsCollection).UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": []utils.SixID{agedGuest.ID, agedUser.ID}}},
		bson.M{"$set": bson.M{"updated_at": old}})
	require.NoError(t, err)

	count, _, err := svc.DeleteAged(ctx)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), count)

	err = db.Collection(sessionsCollection).FindOne(ctx, bson.M{"_id": agedGuest.ID}).Err()
	assert.ErrorIs(t, err, mongo.ErrNoDocuments, "idle guest session should age out on the guest TTL")
	err = db.Collection(sessionsCollection).FindOne(ctx, bson.M{"_id": agedUser.ID}).Err()
	assert.NoError(t, err, "user session under the draft age limit should survive")
}
