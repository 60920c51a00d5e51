package models

import (
	"time"

	"github.com/mohmad1412-cmd/abeely-sub001/internal/utils"
)

// ChatRole is the author of a transcript message.
type ChatRole string

const (
	ChatRoleUser      ChatRole = "user"
	ChatRoleAssistant ChatRole = "assistant"
	ChatRoleSystem    ChatRole = "system"
)

// ChatMessage is one entry in the authoring session transcript.
type ChatMessage struct {
	Role      ChatRole  `bson:"role" json:"role"`
	Text      string    `bson:"text" json:"text"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

// GuestStep is the current step of the guest verification flow.
type GuestStep string

const (
	GuestStepNone  GuestStep = "none"
	GuestStepPhone GuestStep = "phone"
	GuestStepOtp   GuestStep = "otp"
	GuestStepTerms GuestStep = "terms"
)

// GuestVerification tracks the phone -> code -> terms gate for sessions
// without an authenticated user. The OTP code itself is never stored here;
// it lives in redis with a TTL.
type GuestVerification struct {
	Step          GuestStep `bson:"step" json:"step"`
	Phone         string    `bson:"phone,omitempty" json:"phone,omitempty"`
	TermsAccepted bool      `bson:"terms_accepted" json:"terms_accepted"`
}

// DraftSession is the authoring session document: one mutable draft, its
// question batch, the conversational transcript, and the surface state.
type DraftSession struct {
	ID     utils.SixID  `bson:"_id,omitempty" json:"id,omitempty"`
	UserID *utils.SixID `bson:"user_id,omitempty" json:"user_id,omitempty"` // nil for guests

	Draft              *RequestDraft `bson:"draft" json:"draft"`
	Questions          []Question    `bson:"questions" json:"questions"`
	CurrentQuestion    int           `bson:"current_question" json:"current_question"`
	QuestionsGenerated bool          `bson:"questions_generated" json:"questions_generated"`

	Messages []ChatMessage `bson:"messages" json:"messages"`

	// PendingClarification holds the clarification question the user still
	// has to answer; LastUserText is the original input it refers to.
	PendingClarification string `bson:"pending_clarification,omitempty" json:"pending_clarification,omitempty"`
	LastUserText         string `bson:"last_user_text,omitempty" json:"last_user_text,omitempty"`

	// AssistedOpen is the single authoritative mode flag; the manual surface
	// is open exactly when it is false.
	AssistedOpen bool `bson:"assisted_open" json:"assisted_open"`

	Published          bool          `bson:"published" json:"published"`
	PublishedRequestID *utils.SixID  `bson:"published_request_id,omitempty" json:"published_request_id,omitempty"`
	OriginalPublished  *RequestDraft `bson:"original_published,omitempty" json:"original_published,omitempty"`
	PublishInFlight    bool          `bson:"publish_in_flight" json:"-"`

	Guest GuestVerification `bson:"guest" json:"guest"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// ManualOpen reports whether the manual editing surface is the open one.
// It is intentionally derived, never stored.
func (s *DraftSession) ManualOpen() bool {
	return !s.AssistedOpen
}

// HasUnsavedChanges reports whether the draft diverged from the snapshot
// frozen at the last successful publish.
func (s *DraftSession) HasUnsavedChanges() bool {
	if !s.Published || s.OriginalPublished == nil {
		return false
	}
	return !s.Draft.Equal(s.OriginalPublished)
}

// CurrentQuestionPending returns the question awaiting an answer, or nil
// when the batch is exhausted or was never generated.
func (s *DraftSession) CurrentQuestionPending() *Question {
	if s.CurrentQuestion < 0 || s.CurrentQuestion >= len(s.Questions) {
		return nil
	}
	return &s.Questions[s.CurrentQuestion]
}
