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

	"github.com/mohmad1412-cmd/abeely-sub001/internal/config"
	"github.com/mohmad1412-cmd/abeely-sub001/internal/models"
)

// PublishAction tells the caller what happened (or what it must do next).
type PublishAction string

const (
	// PublishActionPublished means a new request record was created.
	PublishActionPublished PublishAction = "published"
	// PublishActionUpdated means the existing record was updated with edits.
	PublishActionUpdated PublishAction = "updated"
	// PublishActionGoToRecord means nothing changed since the last publish;
	// the caller should just navigate to the existing record.
	PublishActionGoToRecord PublishAction = "go_to_record"
	// PublishActionIssues means the draft was blocked; Issues carries the
	// per-section messages.
	PublishActionIssues PublishAction = "issues"
	// PublishActionGuestVerification means the session has no authenticated
	// user and must go through the guest verification flow first.
	PublishActionGuestVerification PublishAction = "guest_verification"
)

// PublishIssue is one blocking problem found by the gate. Field names the
// draft field or section the message refers to.
type PublishIssue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// PublishResult is the outcome of a publish attempt.
type PublishResult struct {
	Action    PublishAction    `json:"action"`
	RequestID *string          `json:"request_id,omitempty"`
	Issues    []PublishIssue   `json:"issues,omitempty"`
	GuestStep models.GuestStep `json:"guest_step,omitempty"`
	Request   *models.Request  `json:"request,omitempty"`
}

// IPublishService is the gate between a draft and a durable request record.
type IPublishService interface {
	// Publish validates the session's draft and, when it passes, persists it
	// through the request service. With force true, failing optional sections
	// are switched off instead of blocking.
	Publish(ctx context.Context, session *models.DraftSession, force bool) (*PublishResult, error)
	// CollectIssues returns what currently blocks the draft, without side
	// effects. An empty slice means the draft would publish.
	CollectIssues(draft *models.RequestDraft) []PublishIssue
}

type publishService struct {
	db             *mongo.Database
	cfg            *config.Config
	requestService IRequestService
}

// NewPublishService creates a new PublishService.
func NewPublishService(db *mongo.Database, cfg *config.Config, requestService IRequestService) IPublishService {
	return &publishService{db: db, cfg: cfg, requestService: requestService}
}

// Blocking messages, one per section so the surface can highlight the right
// control.
const (
	issueDescriptionTooShort = "وصف الطلب قصير، اكتب تفاصيل أكثر"
	issueLocationMissing     = "حدد موقعك أو اختر «عن بعد»"
	issueNeighborhoodEmpty   = "قسم الحي مفعّل بدون قيمة، اكتب الحي أو عطّل القسم"
	issueBudgetEmpty         = "قسم الميزانية مفعّل بدون مبلغ، حدد المبلغ أو عطّل القسم"
	issueBudgetInverted      = "الحد الأعلى للميزانية أقل من الحد الأدنى"
	issueDeliveryEmpty       = "قسم مدة التنفيذ مفعّل بدون قيمة، حدد المدة أو عطّل القسم"
	issueAttachmentsEmpty    = "قسم المرفقات مفعّل بدون ملفات، أضف ملف أو عطّل القسم"
)

var errPublishInFlight = errors.New("publish already in progress for this session")

// CollectIssues implements the gate rules. Required-field issues (description,
// location) always block; section issues only apply while the section toggle
// is on.
func (s *publishService) CollectIssues(draft *models.RequestDraft) []PublishIssue {
	var issues []PublishIssue

	if len([]rune(strings.TrimSpace(draft.Description))) < s.cfg.MinDescriptionLen {
		issues = append(issues, PublishIssue{Field: "description", Message: issueDescriptionTooShort})
	}
	if strings.TrimSpace(draft.Location) == "" {
		issues = append(issues, PublishIssue{Field: "location", Message: issueLocationMissing})
	}

	if draft.NeighborhoodOn && strings.TrimSpace(draft.Neighborhood) == "" {
		issues = append(issues, PublishIssue{Field: "neighborhood", Message: issueNeighborhoodEmpty})
	}
	if draft.BudgetOn && draft.BudgetType != models.BudgetTypeNegotiable {
		if strings.TrimSpace(draft.BudgetMin) == "" && strings.TrimSpace(draft.BudgetMax) == "" {
			issues = append(issues, PublishIssue{Field: "budget", Message: issueBudgetEmpty})
		} else if min, max, ok := draft.BudgetBounds(); ok && max < min {
			issues = append(issues, PublishIssue{Field: "budget", Message: issueBudgetInverted})
		} else if !ok {
			issues = append(issues, PublishIssue{Field: "budget", Message: issueBudgetEmpty})
		}
	}
	if draft.DeliveryOn {
		v := strings.TrimSpace(draft.DeliveryTimeFrom)
		if v == "" || v == models.LocationUnspecified {
			issues = append(issues, PublishIssue{Field: "delivery", Message: issueDeliveryEmpty})
		}
	}
	if draft.AttachmentsOn && len(draft.Attachments) == 0 {
		issues = append(issues, PublishIssue{Field: "attachments", Message: issueAttachmentsEmpty})
	}

	return issues
}

// requiredIssue reports whether an issue cannot be fixed by disabling a
// section.
func requiredIssue(issue PublishIssue) bool {
	return issue.Field == "description" || issue.Field == "location"
}

func (s *publishService) Publish(ctx context.Context, session *models.DraftSession, force bool) (*PublishResult, error) {
	if session.Draft == nil {
		return nil, fmt.Errorf("session %s has no draft", session.ID.String())
	}

	if session.UserID == nil {
		// Guests are sent through phone verification before anything else;
		// the draft stays untouched so nothing is lost.
		step := session.Guest.Step
		if step == models.GuestStepNone {
			step = models.GuestStepPhone
		}
		return &PublishResult{Action: PublishActionGuestVerification, GuestStep: step}, nil
	}

	issues := s.CollectIssues(session.Draft)
	if len(issues) > 0 {
		if !force {
			return &PublishResult{Action: PublishActionIssues, Issues: issues}, nil
		}
		for _, issue := range issues {
			if requiredIssue(issue) {
				// Force cannot fix missing required fields.
				return &PublishResult{Action: PublishActionIssues, Issues: issues}, nil
			}
		}
		s.clearFailingSections(session.Draft, issues)
	}

	// Re-publishing an unchanged draft is a no-op; just point at the record.
	if session.Published && session.PublishedRequestID != nil && !session.HasUnsavedChanges() {
		id := session.PublishedRequestID.String()
		return &PublishResult{Action: PublishActionGoToRecord, RequestID: &id}, nil
	}

	if err := s.acquirePublishLock(ctx, session); err != nil {
		return nil, err
	}
	defer s.releasePublishLock(context.WithoutCancel(ctx), session)

	normalized := s.normalize(session.Draft)

	var existing = session.PublishedRequestID
	if !session.Published {
		existing = nil
	}

	request, err := s.requestService.CreateOrUpdateRequest(ctx, *session.UserID, existing, normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to persist request for session %s: %w", session.ID.String(), err)
	}

	action := PublishActionPublished
	if existing != nil {
		action = PublishActionUpdated
	}

	now := time.Now().UTC()
	session.Published = true
	session.PublishedRequestID = &request.ID
	session.OriginalPublished = session.Draft.Clone()
	session.UpdatedAt = now
	if session.AssistedOpen {
		text := "تم نشر طلبك بنجاح 🎉"
		if action == PublishActionUpdated {
			text = "تم حفظ تعديلاتك على الطلب"
		}
		session.Messages = append(session.Messages, models.ChatMessage{
			Role:      models.ChatRoleAssistant,
			Text:      text,
			CreatedAt: now,
		})
	}

	if err := s.saveSessionState(ctx, session); err != nil {
		// The record exists; losing the session update is recoverable on the
		// next load, so log and return success.
		log.Printf("WARN: request %s published but session %s state save failed: %v",
			request.ID.String(), session.ID.String(), err)
	}

	id := request.ID.String()
	return &PublishResult{Action: action, RequestID: &id, Request: request}, nil
}

// clearFailingSections switches off every optional section that produced an
// issue. Force-publish means "publish without the broken extras", not
// "publish broken extras".
func (s *publishService) clearFailingSections(draft *models.RequestDraft, issues []PublishIssue) {
	for _, issue := range issues {
		switch issue.Field {
		case "neighborhood":
			draft.ToggleSection(models.SectionNeighborhood, false)
		case "budget":
			draft.ToggleSection(models.SectionBudget, false)
		case "delivery":
			draft.ToggleSection(models.SectionDelivery, false)
		case "attachments":
			draft.ToggleSection(models.SectionAttachments, false)
		}
	}
}

// normalize produces the copy of the draft that actually gets persisted:
// seriousness clamped, the remote-location sentinel canonicalised, and
// disabled sections blanked.
func (s *publishService) normalize(draft *models.RequestDraft) *models.RequestDraft {
	d := draft.Clone()
	d.ClampSeriousness(s.cfg.DefaultSeriousness)

	d.Title = strings.TrimSpace(d.Title)
	d.Description = strings.TrimSpace(d.Description)
	if strings.TrimSpace(d.Location) == models.LocationRemote {
		d.Location = models.LocationUnspecified
	} else {
		d.Location = strings.TrimSpace(d.Location)
	}

	if !d.NeighborhoodOn {
		d.Neighborhood = ""
	}
	if !d.BudgetOn {
		d.BudgetMin = ""
		d.BudgetMax = ""
		d.BudgetType = models.BudgetTypeNotSpecified
	} else if d.BudgetType == models.BudgetTypeNegotiable {
		d.BudgetMin = ""
		d.BudgetMax = ""
	} else if !d.HasValidBudget() {
		d.BudgetMin = ""
		d.BudgetMax = ""
		d.BudgetType = models.BudgetTypeNotSpecified
	}
	if v := strings.TrimSpace(d.DeliveryTimeFrom); !d.DeliveryOn || v == "" || v == models.LocationUnspecified {
		d.DeliveryTimeFrom = ""
	}
	if !d.AttachmentsOn {
		d.Attachments = []models.Attachment{}
	}

	return d
}

// acquirePublishLock flips publish_in_flight only when it is currently false,
// so a double-tap on the publish button cannot create two records.
func (s *publishService) acquirePublishLock(ctx context.Context, session *models.DraftSession) error {
	collection := s.db.Collection(sessionsCollection)
	filter := bson.M{"_id": session.ID, "publish_in_flight": false}
	update := bson.M{"$set": bson.M{"publish_in_flight": true}}

	result, err := collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to acquire publish lock for session %s: %w", session.ID.String(), err)
	}
	if result.MatchedCount == 0 {
		return errPublishInFlight
	}
	session.PublishInFlight = true
	return nil
}

func (s *publishService) releasePublishLock(ctx context.Context, session *models.DraftSession) {
	collection := s.db.Collection(sessionsCollection)
	_, err := collection.UpdateOne(ctx,
		bson.M{"_id": session.ID},
		bson.M{"$set": bson.M{"publish_in_flight": false}})
	if err != nil {
		log.Printf("ERROR: failed to release publish lock for session %s: %v", session.ID.String(), err)
	}
	session.PublishInFlight = false
}

// saveSessionState persists the post-publish session fields. The draft itself
// is saved too because force-publish may have toggled sections off.
func (s *publishService) saveSessionState(ctx context.Context, session *models.DraftSession) error {
	collection := s.db.Collection(sessionsCollection)
	update := bson.M{"$set": bson.M{
		"draft":                session.Draft,
		"published":            session.Published,
		"published_request_id": session.PublishedRequestID,
		"original_published":   session.OriginalPublished,
		"messages":             session.Messages,
		"updated_at":           session.UpdatedAt,
	}}
	_, err := collection.UpdateOne(ctx, bson.M{"_id": session.ID}, update)
	return err
}
