package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mohmad1412-cmd/abeely-sub001/internal/config"
	"github.com/mohmad1412-cmd/abeely-sub001/internal/db"
	"github.com/mohmad1412-cmd/abeely-sub001/internal/models"
	"github.com/mohmad1412-cmd/abeely-sub001/internal/utils"
)

// IRequestService defines the interface for request-record operations. It is
// the persistence collaborator behind the publish gate: the first publish of
// a draft creates a record, later publishes update the same record.
type IRequestService interface {
	CreateOrUpdateRequest(ctx context.Context, userID utils.SixID, existingID *utils.SixID, draft *models.RequestDraft) (*models.Request, error)
	FindRequestByID(ctx context.Context, requestID utils.SixID) (*models.Request, error)
	FindRequestsByUserID(ctx context.Context, userID utils.SixID) ([]models.Request, error)
	SearchRequests(ctx context.Context, query *string, categories []string, location *string, limit int, cursor *string) ([]models.Request, string, error)
	DeleteRequest(ctx context.Context, requestID, userID utils.SixID) error
	AddAttachmentToRequest(ctx context.Context, requestID utils.SixID, attachment models.Attachment) error
}

const requestsCollection = "requests"

// requestService implements IRequestService.
type requestService struct {
	db  *mongo.Database
	cfg *config.Config
}

// NewRequestService creates a new RequestService.
func NewRequestService(db *mongo.Database, cfg *config.Config) IRequestService {
	return &requestService{db: db, cfg: cfg}
}

// CreateOrUpdateRequest persists a normalized draft. With existingID nil it
// inserts a new record; otherwise it updates the record in place, which is
// what makes re-publishing an edited draft an update rather than a second
// create.
func (s *requestService) CreateOrUpdateRequest(ctx context.Context, userID utils.SixID, existingID *utils.SixID, draft *models.RequestDraft) (*models.Request, error) {
	collection := s.db.Collection(requestsCollection)
	now := time.Now().UTC()

	if existingID == nil {
		var newRequest *models.Request
		operation := func() error {
			newRequest = &models.Request{
				ID:               utils.NewSixID(),
				UserID:           userID,
				Title:            draft.Title,
				Description:      draft.Description,
				Location:         draft.Location,
				Neighborhood:     draft.Neighborhood,
				BudgetMin:        draft.BudgetMin,
				BudgetMax:        draft.BudgetMax,
				BudgetType:       draft.BudgetType,
				DeliveryTimeFrom: draft.DeliveryTimeFrom,
				Categories:       append([]string{}, draft.Categories...),
				Seriousness:      draft.Seriousness,
				Attachments:      append([]models.Attachment{}, draft.Attachments...),
				CreatedAt:        now,
				UpdatedAt:        now,
				PublishedAt:      &now,
				Deleted:          false,
			}
			_, insertErr := collection.InsertOne(ctx, newRequest)
			return insertErr
		}

		if err := db.Try(operation); err != nil {
			requestIDStr := "<unknown>"
			if newRequest != nil {
				requestIDStr = newRequest.ID.String()
			}
			return nil, fmt.Errorf("failed to insert new request for user %s (last attempted request ID: %s) after multiple retries: %w",
				userID.String(), requestIDStr, err)
		}
		return newRequest, nil
	}

	filter := bson.M{
		"_id":     *existingID,
		"user_id": userID,
		"deleted": false,
	}
	update := bson.M{"$set": bson.M{
		"title":              draft.Title,
		"description":        draft.Description,
		"location":           draft.Location,
		"neighborhood":       draft.Neighborhood,
		"budget_min":         draft.BudgetMin,
		"budget_max":         draft.BudgetMax,
		"budget_type":        draft.BudgetType,
		"delivery_time_from": draft.DeliveryTimeFrom,
		"categories":         draft.Categories,
		"seriousness":        draft.Seriousness,
		"attachments":        draft.Attachments,
		"updated_at":         now,
	}}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var updated models.Request
	err := collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&updated)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("request %s not found, not owned by user, or deleted", existingID.String())
		}
		return nil, fmt.Errorf("failed to update request %s: %w", existingID.String(), err)
	}
	return &updated, nil
}

// FindRequestByID finds a non-deleted request by its ID. It does NOT check
// ownership.
func (s *requestService) FindRequestByID(ctx context.Context, requestID utils.SixID) (*models.Request, error) {
	var request models.Request
	collection := s.db.Collection(requestsCollection)
	filter := bson.M{
		"_id":     requestID,
		"deleted": false,
	}

	err := collection.FindOne(ctx, filter).Decode(&request)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments // Use standard error
		}
		return nil, fmt.Errorf("error finding request by ID %s: %w", requestID.String(), err)
	}
	return &request, nil
}

// FindRequestsByUserID returns all visible requests for a user, newest first.
func (s *requestService) FindRequestsByUserID(ctx context.Context, userID utils.SixID) ([]models.Request, error) {
	collection := s.db.Collection(requestsCollection)
	filter := bson.M{"user_id": userID, "deleted": false}
	opts := options.Find().SetSort(bson.D{{Key: "published_at", Value: -1}})

	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("error finding requests for user %s: %w", userID.String(), err)
	}
	defer cursor.Close(ctx)

	var requests []models.Request
	if err = cursor.All(ctx, &requests); err != nil {
		return nil, fmt.Errorf("failed to decode requests for user %s: %w", userID.String(), err)
	}
	return requests, nil
}

// SearchRequests searches published requests by text, categories and
// location, with stable published_at/_id cursor pagination.
func (s *requestService) SearchRequests(ctx context.Context, query *string, categories []string, location *string, limit int, cursor *string) ([]models.Request, string, error) {
	collection := s.db.Collection(requestsCollection)

	filter := bson.M{"deleted": false}

	if query != nil && *query != "" {
		filter["$text"] = bson.M{"$search": *query}
	}
	if len(categories) > 0 {
		filter["categories"] = bson.M{"$all": categories}
	}
	if location != nil && *location != "" {
		filter["location"] = *location
	}

	opts := options.Find()
	opts.SetLimit(int64(limit + 1))
	opts.SetSort(bson.D{{Key: "published_at", Value: -1}})

	// Cursor handling - using `published_at` and `_id` for stable pagination
	if cursor != nil && *cursor != "" {
		parts := strings.Split(*cursor, "_")
		if len(parts) == 2 {
			timestampSec, tsErr := strconv.ParseInt(parts[0], 10, 64)
			lastID, idErr := utils.ParseSixID(parts[1])
			if tsErr == nil && idErr == nil {
				cursorTime := time.Unix(timestampSec, 0)
				filter["$or"] = bson.A{
					bson.M{"published_at": cursorTime, "_id": bson.M{"$lt": lastID}},
					bson.M{"published_at": bson.M{"$lt": cursorTime}},
				}
			} else {
				log.Printf("WARN: Invalid cursor format received: %s", *cursor)
			}
		} else {
			log.Printf("WARN: Invalid cursor format received: %s", *cursor)
		}
	}

	listCursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, "", fmt.Errorf("failed to execute request search query: %w", err)
	}
	defer listCursor.Close(ctx)

	var results []models.Request
	if err = listCursor.All(ctx, &results); err != nil {
		return nil, "", fmt.Errorf("failed to decode request search results: %w", err)
	}

	nextCursor := ""
	if len(results) > limit {
		lastItem := results[limit-1]
		if lastItem.PublishedAt != nil {
			nextCursor = fmt.Sprintf("%d_%s", lastItem.PublishedAt.Unix(), lastItem.ID.String())
		}
		results = results[:limit]
	}

	return results, nextCursor, nil
}

// DeleteRequest performs a soft delete by setting the deleted flag to true.
func (s *requestService) DeleteRequest(ctx context.Context, requestID, userID utils.SixID) error {
	collection := s.db.Collection(requestsCollection)
	now := time.Now().UTC()
	filter := bson.M{
		"_id":     requestID,
		"user_id": userID,
		"deleted": false,
	}
	update := bson.M{"$set": bson.M{
		"deleted":    true,
		"updated_at": now,
	}}

	result, err := collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("db error deleting request %s: %w", requestID.String(), err)
	}
	if result.MatchedCount == 0 {
		// Check why it couldn't be deleted
		var request models.Request
		checkErr := collection.FindOne(ctx, bson.M{"_id": requestID}).Decode(&request)
		if errors.Is(checkErr, mongo.ErrNoDocuments) {
			return fmt.Errorf("request %s not found", requestID.String())
		}
		if request.UserID != userID {
			return fmt.Errorf("request %s does not belong to user %s", requestID.String(), userID.String())
		}
		return fmt.Errorf("request %s is already deleted", requestID.String())
	}
	return nil
}

// AddAttachmentToRequest adds a processed attachment to a published request.
// It is called by the attachment worker after processing completes.
func (s *requestService) AddAttachmentToRequest(ctx context.Context, requestID utils.SixID, attachment models.Attachment) error {
	collection := s.db.Collection(requestsCollection)

	filter := bson.M{
		"_id":     requestID,
		"deleted": false,
	}
	update := bson.M{
		"$addToSet": bson.M{"attachments": attachment},
		"$set":      bson.M{"updated_at": time.Now().UTC()},
	}

	result, err := collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("db error adding attachment %s to request %s: %w", attachment.Key, requestID.String(), err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("request %s not found or cannot be updated when adding attachment", requestID.String())
	}
	return nil
}
