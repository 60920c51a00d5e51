package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/mohmad1412-cmd/abeely-sub001/internal/ai"
	"github.com/mohmad1412-cmd/abeely-sub001/internal/config"
	"github.com/mohmad1412-cmd/abeely-sub001/internal/db"
	"github.com/mohmad1412-cmd/abeely-sub001/internal/models"
	"github.com/mohmad1412-cmd/abeely-sub001/internal/utils"
)

const sessionsCollection = "draft_sessions"

// aiUnavailableMessage is shown when draft generation fails; the draft itself
// is never touched on failure.
const aiUnavailableMessage = "عذراً، صار خلل تقني مؤقت وما قدرت أعالج رسالتك. جرب مرة ثانية، أو كمّل طلبك يدوياً"

// ErrConfirmRequired is returned when starting a new request would discard an
// existing conversation and the caller did not confirm.
var ErrConfirmRequired = errors.New("session has history, confirmation required")

// ErrSessionNotFound is returned when a session does not exist or has aged
// out.
var ErrSessionNotFound = errors.New("session not found")

// HandleResult is the outcome of one conversational turn.
type HandleResult struct {
	Reply          string           `json:"reply"`
	Clarification  bool             `json:"clarification"`
	QuickOptions   []string         `json:"quick_options,omitempty"`
	NextQuestion   *models.Question `json:"next_question,omitempty"`
	ReadyToPublish bool             `json:"ready_to_publish"`
	AIAvailable    bool             `json:"ai_available"`
}

// ISessionService owns the authoring session lifecycle: one draft, its
// question batch, the transcript and the assisted/manual surface state.
type ISessionService interface {
	StartSession(ctx context.Context, userID *utils.SixID) (*models.DraftSession, error)
	GetSession(ctx context.Context, sessionID utils.SixID) (*models.DraftSession, error)
	// HandleMessage runs one assisted turn: clarification gate, then draft
	// generation, then the follow-up question batch.
	HandleMessage(ctx context.Context, session *models.DraftSession, text string) (*HandleResult, error)
	// AnswerQuestion folds the answer to the pending question into the draft
	// and advances the batch.
	AnswerQuestion(ctx context.Context, session *models.DraftSession, answer string) (*HandleResult, error)
	// CompleteManually abandons the remaining questions and opens the manual
	// surface with whatever the draft holds so far.
	CompleteManually(ctx context.Context, session *models.DraftSession) error
	SwitchMode(ctx context.Context, session *models.DraftSession, assisted bool) error
	// StartNewRequest resets the session to a fresh draft. When the session
	// has conversation history it refuses without confirm.
	StartNewRequest(ctx context.Context, session *models.DraftSession, confirm bool) error
	// UpdateDraft applies manual-surface edits. Unknown fields are rejected.
	UpdateDraft(ctx context.Context, session *models.DraftSession, fields map[string]interface{}) error
	ToggleSection(ctx context.Context, session *models.DraftSession, section models.DraftSection, on bool) error
	AddAttachment(ctx context.Context, session *models.DraftSession, attachment models.Attachment) error
	ClearAttachments(ctx context.Context, session *models.DraftSession) error
	SaveSession(ctx context.Context, session *models.DraftSession) error
	// DeleteAged removes unpublished sessions that were idle for longer than
	// the draft age limit. Returns the keys of the attachments they held so
	// the caller can clean up storage.
	DeleteAged(ctx context.Context) (int64, []string, error)
}

type sessionService struct {
	db              *mongo.Database
	cfg             *config.Config
	clarifyService  IClarifyService
	questionService IQuestionService
	generator       ai.Generator
}

// NewSessionService creates a new SessionService.
func NewSessionService(db *mongo.Database, cfg *config.Config, clarifyService IClarifyService, questionService IQuestionService, generator ai.Generator) ISessionService {
	return &sessionService{
		db:              db,
		cfg:             cfg,
		clarifyService:  clarifyService,
		questionService: questionService,
		generator:       generator,
	}
}

func (s *sessionService) StartSession(ctx context.Context, userID *utils.SixID) (*models.DraftSession, error) {
	collection := s.db.Collection(sessionsCollection)
	now := time.Now().UTC()

	var session *models.DraftSession
	operation := func() error {
		session = &models.DraftSession{
			ID:           utils.NewSixID(),
			UserID:       userID,
			Draft:        models.NewRequestDraft(),
			Questions:    []models.Question{},
			Messages:     []models.ChatMessage{},
			AssistedOpen: true,
			Guest:        models.GuestVerification{Step: models.GuestStepNone},
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		_, insertErr := collection.InsertOne(ctx, session)
		return insertErr
	}

	if err := db.Try(operation); err != nil {
		return nil, fmt.Errorf("failed to create draft session after multiple retries: %w", err)
	}
	return session, nil
}

func (s *sessionService) GetSession(ctx context.Context, sessionID utils.SixID) (*models.DraftSession, error) {
	var session models.DraftSession
	collection := s.db.Collection(sessionsCollection)

	err := collection.FindOne(ctx, bson.M{"_id": sessionID}).Decode(&session)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("error finding session %s: %w", sessionID.String(), err)
	}

	// Aged-out unpublished drafts behave as if they never existed.
	if s.cfg.MaxDraftAge > 0 && !session.Published && time.Since(session.UpdatedAt) > s.cfg.MaxDraftAge {
		log.Printf("DEBUG: session %s aged out (last update %s)", sessionID.String(), session.UpdatedAt)
		return nil, ErrSessionNotFound
	}
	return &session, nil
}

func (s *sessionService) HandleMessage(ctx context.Context, session *models.DraftSession, text string) (*HandleResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("empty message")
	}
	now := time.Now().UTC()
	session.Messages = append(session.Messages, models.ChatMessage{
		Role: models.ChatRoleUser, Text: text, CreatedAt: now,
	})

	// A pending clarification makes this turn an answer to it: the effective
	// input is the original text plus the answer, and the gate is not run
	// again (one clarification round per input).
	effective := text
	skipClarify := false
	if session.PendingClarification != "" {
		effective = strings.TrimSpace(session.LastUserText + " " + text)
		session.PendingClarification = ""
		skipClarify = true
	}

	if !skipClarify {
		if c := s.clarifyService.Check(effective); c != nil {
			session.PendingClarification = c.Question
			session.LastUserText = effective
			session.Messages = append(session.Messages, models.ChatMessage{
				Role: models.ChatRoleAssistant, Text: c.Question, CreatedAt: now,
			})
			if err := s.SaveSession(ctx, session); err != nil {
				return nil, err
			}
			return &HandleResult{
				Reply:         c.Question,
				Clarification: true,
				QuickOptions:  c.QuickOptions,
				AIAvailable:   true,
			}, nil
		}
	}

	result, err := s.generator.GenerateDraft(ctx, effective, session.Draft)
	if err != nil {
		log.Printf("ERROR: draft generation failed for session %s: %v", session.ID.String(), err)
		session.LastUserText = effective
		session.Messages = append(session.Messages, models.ChatMessage{
			Role: models.ChatRoleAssistant, Text: aiUnavailableMessage, CreatedAt: now,
		})
		if saveErr := s.SaveSession(ctx, session); saveErr != nil {
			return nil, saveErr
		}
		return &HandleResult{Reply: aiUnavailableMessage, AIAvailable: false}, nil
	}

	if result.IsClarification {
		session.PendingClarification = result.AIResponse
		session.LastUserText = effective
		session.Messages = append(session.Messages, models.ChatMessage{
			Role: models.ChatRoleAssistant, Text: result.AIResponse, CreatedAt: now,
		})
		if err := s.SaveSession(ctx, session); err != nil {
			return nil, err
		}
		return &HandleResult{
			Reply:         result.AIResponse,
			Clarification: true,
			QuickOptions:  result.Suggestions,
			AIAvailable:   true,
		}, nil
	}

	applyDraftResult(session.Draft, result)
	session.LastUserText = effective

	if result.AIResponse != "" {
		session.Messages = append(session.Messages, models.ChatMessage{
			Role: models.ChatRoleAssistant, Text: result.AIResponse, CreatedAt: now,
		})
	}

	// The question batch is generated once per draft, after the first
	// successful extraction.
	if !session.QuestionsGenerated {
		session.Questions = s.questionService.Generate(session.Draft, s.cfg.MinDescriptionLen)
		session.QuestionsGenerated = true
		session.CurrentQuestion = 0
	}

	if err := s.SaveSession(ctx, session); err != nil {
		return nil, err
	}

	return &HandleResult{
		Reply:          result.AIResponse,
		NextQuestion:   session.CurrentQuestionPending(),
		ReadyToPublish: session.CurrentQuestionPending() == nil,
		AIAvailable:    true,
	}, nil
}

func (s *sessionService) AnswerQuestion(ctx context.Context, session *models.DraftSession, answer string) (*HandleResult, error) {
	question := session.CurrentQuestionPending()
	if question == nil {
		return nil, fmt.Errorf("session %s has no pending question", session.ID.String())
	}
	answer = strings.TrimSpace(answer)

	now := time.Now().UTC()
	session.Messages = append(session.Messages, models.ChatMessage{
		Role: models.ChatRoleUser, Text: answer, CreatedAt: now,
	})

	question.Answer = &answer
	s.questionService.Fold(session.Draft, question.Key, answer)
	session.CurrentQuestion++

	if err := s.SaveSession(ctx, session); err != nil {
		return nil, err
	}

	next := session.CurrentQuestionPending()
	result := &HandleResult{
		NextQuestion:   next,
		ReadyToPublish: next == nil,
		AIAvailable:    true,
	}
	if next != nil {
		result.Reply = next.Question
		result.QuickOptions = next.QuickOptions
	}
	return result, nil
}

func (s *sessionService) CompleteManually(ctx context.Context, session *models.DraftSession) error {
	// Skipping questions keeps their folded answers so far; the user takes
	// over in the manual surface.
	session.CurrentQuestion = len(session.Questions)
	session.AssistedOpen = false
	return s.SaveSession(ctx, session)
}

func (s *sessionService) SwitchMode(ctx context.Context, session *models.DraftSession, assisted bool) error {
	if session.AssistedOpen == assisted {
		return nil
	}
	session.AssistedOpen = assisted
	return s.SaveSession(ctx, session)
}

func (s *sessionService) StartNewRequest(ctx context.Context, session *models.DraftSession, confirm bool) error {
	if len(session.Messages) > 0 && !confirm {
		return ErrConfirmRequired
	}

	session.Draft = models.NewRequestDraft()
	session.Questions = []models.Question{}
	session.CurrentQuestion = 0
	session.QuestionsGenerated = false
	session.Messages = []models.ChatMessage{}
	session.PendingClarification = ""
	session.LastUserText = ""
	session.AssistedOpen = true
	session.Published = false
	session.PublishedRequestID = nil
	session.OriginalPublished = nil
	return s.SaveSession(ctx, session)
}

// draftFieldSetters maps the manual-surface field names to their setters.
// Anything not listed here cannot be edited through UpdateDraft.
var draftFieldSetters = map[string]func(d *models.RequestDraft, v interface{}) error{
	"title":       func(d *models.RequestDraft, v interface{}) error { return setString(&d.Title, v) },
	"description": func(d *models.RequestDraft, v interface{}) error { return setString(&d.Description, v) },
	"location":    func(d *models.RequestDraft, v interface{}) error { return setString(&d.Location, v) },
	"neighborhood": func(d *models.RequestDraft, v interface{}) error {
		if err := setString(&d.Neighborhood, v); err != nil {
			return err
		}
		d.NeighborhoodOn = strings.TrimSpace(d.Neighborhood) != ""
		return nil
	},
	"budget_min": func(d *models.RequestDraft, v interface{}) error {
		if err := setString(&d.BudgetMin, v); err != nil {
			return err
		}
		d.BudgetOn = true
		d.BudgetType = models.BudgetTypeFixed
		return nil
	},
	"budget_max": func(d *models.RequestDraft, v interface{}) error {
		if err := setString(&d.BudgetMax, v); err != nil {
			return err
		}
		d.BudgetOn = true
		d.BudgetType = models.BudgetTypeFixed
		return nil
	},
	"budget_type": func(d *models.RequestDraft, v interface{}) error {
		var raw string
		if err := setString(&raw, v); err != nil {
			return err
		}
		switch models.BudgetType(raw) {
		case models.BudgetTypeFixed, models.BudgetTypeNegotiable, models.BudgetTypeNotSpecified:
			d.BudgetType = models.BudgetType(raw)
			if d.BudgetType == models.BudgetTypeNegotiable {
				d.BudgetMin = ""
				d.BudgetMax = ""
			}
			return nil
		default:
			return fmt.Errorf("invalid budget_type: %q", raw)
		}
	},
	"delivery_time_from": func(d *models.RequestDraft, v interface{}) error {
		if err := setString(&d.DeliveryTimeFrom, v); err != nil {
			return err
		}
		d.DeliveryOn = strings.TrimSpace(d.DeliveryTimeFrom) != ""
		return nil
	},
	"categories": func(d *models.RequestDraft, v interface{}) error {
		list, ok := v.([]interface{})
		if !ok {
			return fmt.Errorf("categories must be an array of strings")
		}
		categories := make([]string, 0, len(list))
		for _, item := range list {
			str, ok := item.(string)
			if !ok {
				return fmt.Errorf("categories must be an array of strings")
			}
			categories = append(categories, str)
		}
		d.Categories = categories
		return nil
	},
	"seriousness": func(d *models.RequestDraft, v interface{}) error {
		num, ok := v.(float64) // JSON numbers arrive as float64
		if !ok {
			return fmt.Errorf("seriousness must be a number")
		}
		d.Seriousness = int(num)
		return nil
	},
}

func setString(target *string, v interface{}) error {
	str, ok := v.(string)
	if !ok {
		return fmt.Errorf("expected string, got %T", v)
	}
	*target = str
	return nil
}

func (s *sessionService) UpdateDraft(ctx context.Context, session *models.DraftSession, fields map[string]interface{}) error {
	for name, value := range fields {
		setter, ok := draftFieldSetters[name]
		if !ok {
			return fmt.Errorf("field %q is not editable", name)
		}
		if err := setter(session.Draft, value); err != nil {
			return fmt.Errorf("invalid value for %q: %w", name, err)
		}
	}
	session.Draft.ClampSeriousness(s.cfg.DefaultSeriousness)
	return s.SaveSession(ctx, session)
}

func (s *sessionService) ToggleSection(ctx context.Context, session *models.DraftSession, section models.DraftSection, on bool) error {
	switch section {
	case models.SectionNeighborhood, models.SectionBudget, models.SectionDelivery, models.SectionAttachments:
	default:
		return fmt.Errorf("unknown section: %q", section)
	}
	session.Draft.ToggleSection(section, on)
	return s.SaveSession(ctx, session)
}

func (s *sessionService) AddAttachment(ctx context.Context, session *models.DraftSession, attachment models.Attachment) error {
	if len(session.Draft.Attachments) >= s.cfg.MaxAttachments {
		return fmt.Errorf("attachment limit of %d reached", s.cfg.MaxAttachments)
	}
	session.Draft.Attachments = append(session.Draft.Attachments, attachment)
	session.Draft.AttachmentsOn = true
	return s.SaveSession(ctx, session)
}

func (s *sessionService) ClearAttachments(ctx context.Context, session *models.DraftSession) error {
	session.Draft.Attachments = []models.Attachment{}
	return s.SaveSession(ctx, session)
}

// SaveSession persists the full session document.
func (s *sessionService) SaveSession(ctx context.Context, session *models.DraftSession) error {
	collection := s.db.Collection(sessionsCollection)
	session.UpdatedAt = time.Now().UTC()

	result, err := collection.ReplaceOne(ctx, bson.M{"_id": session.ID}, session)
	if err != nil {
		return fmt.Errorf("failed to save session %s: %w", session.ID.String(), err)
	}
	if result.MatchedCount == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// DeleteAged removes unpublished sessions that aged out.
func (s *sessionService) DeleteAged(ctx context.Context) (int64, []string, error) {
	if s.cfg.MaxDraftAge <= 0 {
		return 0, nil, nil
	}
	collection := s.db.Collection(sessionsCollection)
	now := time.Now().UTC()

	// Guest sessions age out on their own shorter TTL; nobody can come back
	// to them after the browser session is gone anyway.
	guestTTL := s.cfg.GuestSessionTTL
	if guestTTL <= 0 || guestTTL > s.cfg.MaxDraftAge {
		guestTTL = s.cfg.MaxDraftAge
	}
	filter := bson.M{
		"published": false,
		"$or": []bson.M{
			{"user_id": bson.M{"$exists": true}, "updated_at": bson.M{"$lt": now.Add(-s.cfg.MaxDraftAge)}},
			{"user_id": bson.M{"$exists": false}, "updated_at": bson.M{"$lt": now.Add(-guestTTL)}},
		},
	}

	// Collect attachment keys before deleting so orphaned objects can be
	// removed from storage.
	cursor, err := collection.Find(ctx, filter)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to query aged sessions: %w", err)
	}
	var aged []models.DraftSession
	if err = cursor.All(ctx, &aged); err != nil {
		return 0, nil, fmt.Errorf("failed to decode aged sessions: %w", err)
	}

	var keys []string
	for _, session := range aged {
		if session.Draft == nil {
			continue
		}
		for _, attachment := range session.Draft.Attachments {
			keys = append(keys, attachment.Key)
		}
	}

	result, err := collection.DeleteMany(ctx, filter)
	if err != nil {
		return 0, keys, fmt.Errorf("failed to delete aged sessions: %w", err)
	}
	return result.DeletedCount, keys, nil
}

// applyDraftResult overwrites draft fields with the non-empty extraction
// results. Sentinel values get the same canonical treatment as quick-option
// answers.
func applyDraftResult(draft *models.RequestDraft, result *ai.DraftResult) {
	if result.Title != "" {
		draft.Title = result.Title
	}
	if result.Description != "" {
		draft.Description = result.Description
	}
	if len(result.Categories) > 0 {
		draft.Categories = result.Categories
	}
	if loc := strings.TrimSpace(result.Location); loc != "" {
		if loc == models.LocationRemote {
			draft.Location = models.LocationUnspecified
		} else {
			draft.Location = loc
		}
	}
	if result.BudgetMin != "" || result.BudgetMax != "" {
		draft.BudgetMin = result.BudgetMin
		draft.BudgetMax = result.BudgetMax
		draft.BudgetType = models.BudgetTypeFixed
		draft.BudgetOn = true
	}
	if dt := strings.TrimSpace(result.DeliveryTime); dt != "" && dt != models.DeliveryFlexible {
		draft.DeliveryTimeFrom = dt
		draft.DeliveryOn = true
	}
}
