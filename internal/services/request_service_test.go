package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/mohmad1412-cmd/abeely-sub001/internal/config"
	"github.com/mohmad1412-cmd/abeely-sub001/internal/models"
	"github.com/mohmad1412-cmd/abeely-sub001/internal/utils"
)

func setupTestDBRequest(t *testing.T, dbName string) *mongo.Database {
	return utils.SetupTestDB(t, dbName, "requests")
}

func publishedDraft() *models.RequestDraft {
	return &models.RequestDraft{
		Title:       "سباكة",
		Description: "أحتاج سباك يصلح تسريب في دورة المياه الرئيسية",
		Location:    "الرياض",
		Categories:  []string{"صيانة"},
		Seriousness: 2,
		BudgetType:  models.BudgetTypeNegotiable,
	}
}

func insertRequest(t *testing.T, db *mongo.Database, userID utils.SixID, location string, categories []string, publishedAt time.Time) models.Request {
	t.Helper()
	req := models.Request{
		ID:          utils.NewSixID(),
		UserID:      userID,
		Title:       "طلب",
		Description: "وصف الطلب للاختبار بطول كافٍ",
		Location:    location,
		Categories:  categories,
		Seriousness: 2,
		BudgetType:  models.BudgetTypeNegotiable,
		CreatedAt:   publishedAt,
		UpdatedAt:   publishedAt,
		PublishedAt: &publishedAt,
	}
	_, err := db.Collection("requests").InsertOne(context.Background(), req)
	require.NoError(t, err)
	return req
}

func TestRequestService_CreateOrUpdateRequest(t *testing.T) {
	db := setupTestDBRequest(t, "testdb_request_service_create_update")
	svc := NewRequestService(db, &config.Config{})
	ctx := context.Background()
	userID := utils.NewSixID()

	draft := publishedDraft()
	created, err := svc.CreateOrUpdateRequest(ctx, userID, nil, draft)
	assert.NoError(t, err)
	require.NotNil(t, created)
	assert.Equal(t, draft.Title, created.Title)
	assert.Equal(t, draft.Description, created.Description)
	assert.Equal(t, userID, created.UserID)
	require.NotNil(t, created.PublishedAt)
	assert.False(t, created.Deleted)

	// Update the same record in place.
	draft.Description = "أحتاج سباك يصلح تسريب ويركب سخان جديد في الملحق"
	draft.Location = "جدة"
	updated, err := svc.CreateOrUpdateRequest(ctx, userID, &created.ID, draft)
	assert.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, "جدة", updated.Location)
	assert.Equal(t, draft.Description, updated.Description)

	// Still exactly one record.
	count, err := db.Collection("requests").CountDocuments(ctx, bson.M{"user_id": userID})
	assert.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// Updating someone else's record fails.
	otherUser := utils.NewSixID()
	_, err = svc.CreateOrUpdateRequest(ctx, otherUser, &created.ID, draft)
	assert.Error(t, err)
}

func TestRequestService_FindRequestByID(t *testing.T) {
	db := setupTestDBRequest(t, "testdb_request_service_find_by_id")
	svc := NewRequestService(db, &config.Config{})
	ctx := context.Background()
	userID := utils.NewSixID()

	created, err := svc.CreateOrUpdateRequest(ctx, userID, nil, publishedDraft())
	require.NoError(t, err)

	found, err := svc.FindRequestByID(ctx, created.ID)
	assert.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, created.ID, found.ID)

	_, err = svc.FindRequestByID(ctx, utils.NewSixID())
	assert.ErrorIs(t, err, mongo.ErrNoDocuments)

	// Soft-deleted records are invisible.
	require.NoError(t, svc.DeleteRequest(ctx, created.ID, userID))
	_, err = svc.FindRequestByID(ctx, created.ID)
	assert.ErrorIs(t, err, mongo.ErrNoDocuments)
}

func TestRequestService_FindRequestsByUserID(t *testing.T) {
	db := setupTestDBRequest(t, "testdb_request_service_find_by_user")
	svc := NewRequestService(db, &config.Config{})
	ctx := context.Background()
	userID := utils.NewSixID()

	base := time.Now().UTC().Truncate(time.Second)
	older := insertRequest(t, db, userID, "الرياض", nil, base.Add(-2*time.Hour))
	newer := insertRequest(t, db, userID, "الرياض", nil, base)
	insertRequest(t, db, utils.NewSixID(), "الرياض", nil, base)

	requests, err := svc.FindRequestsByUserID(ctx, userID)
	assert.NoError(t, err)
	require.Len(t, requests, 2)
	assert.Equal(t, newer.ID, requests[0].ID)
	assert.Equal(t, older.ID, requests[1].ID)
}

func TestRequestService_SearchRequests_Filters(t *testing.T) {
	db := setupTestDBRequest(t, "testdb_request_service_search_filters")
	svc := NewRequestService(db, &config.Config{})
	ctx := context.Background()
	userID := utils.NewSixID()

	base := time.Now().UTC().Truncate(time.Second)
	riyadh := insertRequest(t, db, userID, "الرياض", []string{"صيانة", "سباكة"}, base)
	insertRequest(t, db, userID, "جدة", []string{"تصميم"}, base.Add(-time.Hour))

	location := "الرياض"
	results, cursor, err := svc.SearchRequests(ctx, nil, nil, &location, 10, nil)
	assert.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, riyadh.ID, results[0].ID)
	assert.Empty(t, cursor)

	// Category filter requires all listed categories.
	results, _, err = svc.SearchRequests(ctx, nil, []string{"صيانة", "سباكة"}, nil, 10, nil)
	assert.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, riyadh.ID, results[0].ID)

	results, _, err = svc.SearchRequests(ctx, nil, []string{"صيانة", "كهرباء"}, nil, 10, nil)
	assert.NoError(t, err)
	assert.Empty(t, results)
}

func TestRequestService_SearchRequests_TextQuery(t *testing.T) {
	db := setupTestDBRequest(t, "testdb_request_service_search_text")
	svc := NewRequestService(db, &config.Config{})
	ctx := context.Background()

	_, err := db.Collection("requests").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "title", Value: "text"}, {Key: "description", Value: "text"}},
	})
	require.NoError(t, err)

	userID := utils.NewSixID()
	draft := publishedDraft()
	created, err := svc.CreateOrUpdateRequest(ctx, userID, nil, draft)
	require.NoError(t, err)

	query := "سباك"
	results, _, err := svc.SearchRequests(ctx, &query, nil, nil, 10, nil)
	assert.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, created.ID, results[0].ID)

	query = "نجار"
	results, _, err = svc.SearchRequests(ctx, &query, nil, nil, 10, nil)
	assert.NoError(t, err)
	assert.Empty(t, results)
}

func TestRequestService_SearchRequests_CursorPagination(t *testing.T) {
	db := setupTestDBRequest(t, "testdb_request_service_search_cursor")
	svc := NewRequestService(db, &config.Config{})
	ctx := context.Background()
	userID := utils.NewSixID()

	base := time.Now().UTC().Truncate(time.Second)
	var inserted []models.Request
	for i := 0; i < 5; i++ {
		inserted = append(inserted, insertRequest(t, db, userID, "الرياض", nil, base.Add(-time.Duration(i)*time.Minute)))
	}

	seen := map[string]bool{}
	page1, cursor, err := svc.SearchRequests(ctx, nil, nil, nil, 2, nil)
	assert.NoError(t, err)
	require.Len(t, page1, 2)
	assert.NotEmpty(t, cursor)
	assert.Equal(t, inserted[0].ID, page1[0].ID)
	for _, r := range page1 {
		seen[r.ID.String()] = true
	}

	page2, cursor, err := svc.SearchRequests(ctx, nil, nil, nil, 2, &cursor)
	assert.NoError(t, err)
	require.Len(t, page2, 2)
	assert.NotEmpty(t, cursor)
	for _, r := range page2 {
		assert.False(t, seen[r.ID.String()], "page overlap on %s", r.ID.String())
		seen[r.ID.String()] = true
	}

	page3, cursor, err := svc.SearchRequests(ctx, nil, nil, nil, 2, &cursor)
	assert.NoError(t, err)
	require.Len(t, page3, 1)
	assert.Empty(t, cursor)
	assert.False(t, seen[page3[0].ID.String()])

	// A malformed cursor is ignored rather than failing the search.
	bad := "not_a_cursor"
	all, _, err := svc.SearchRequests(ctx, nil, nil, nil, 10, &bad)
	assert.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestRequestService_DeleteRequest(t *testing.T) {
	db := setupTestDBRequest(t, "testdb_request_service_delete")
	svc := NewRequestService(db, &config.Config{})
	ctx := context.Background()
	userID := utils.NewSixID()

	created, err := svc.CreateOrUpdateRequest(ctx, userID, nil, publishedDraft())
	require.NoError(t, err)

	// Someone else cannot delete it.
	otherUser := utils.NewSixID()
	err = svc.DeleteRequest(ctx, created.ID, otherUser)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "does not belong")

	err = svc.DeleteRequest(ctx, utils.NewSixID(), userID)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	err = svc.DeleteRequest(ctx, created.ID, userID)
	assert.NoError(t, err)

	err = svc.DeleteRequest(ctx, created.ID, userID)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already deleted")
}

func TestRequestService_AddAttachmentToRequest(t *testing.T) {
	db := setupTestDBRequest(t, "testdb_request_service_add_attachment")
	svc := NewRequestService(db, &config.Config{})
	ctx := context.Background()
	userID := utils.NewSixID()

	created, err := svc.CreateOrUpdateRequest(ctx, userID, nil, publishedDraft())
	require.NoError(t, err)

	attachment := models.Attachment{
		Key:  fmt.Sprintf("attachments/%s/photo.jpg", created.ID.String()),
		Kind: models.AttachmentKindImage,
	}
	err = svc.AddAttachmentToRequest(ctx, created.ID, attachment)
	assert.NoError(t, err)

	// Adding the same attachment twice keeps one copy.
	err = svc.AddAttachmentToRequest(ctx, created.ID, attachment)
	assert.NoError(t, err)

	found, err := svc.FindRequestByID(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, found.Attachments, 1)
	assert.Equal(t, attachment.Key, found.Attachments[0].Key)

	err = svc.AddAttachmentToRequest(ctx, utils.NewSixID(), attachment)
	assert.Error(t, err)
}
