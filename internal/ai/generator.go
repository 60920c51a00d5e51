package ai

import (
	"context"

	"github.com/mohmad1412-cmd/abeely-sub001/internal/models"
)

// DraftResult is what the model extracted from one user turn. Either it is a
// clarification (the model needs more input, AIResponse carries the question)
// or it is a draft update where the non-empty fields overwrite the draft.
type DraftResult struct {
	IsClarification bool     `json:"is_clarification"`
	AIResponse      string   `json:"response"`
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Categories      []string `json:"categories"`
	BudgetMin       string   `json:"budget_min"`
	BudgetMax       string   `json:"budget_max"`
	DeliveryTime    string   `json:"delivery_time"`
	Location        string   `json:"location"`
	Suggestions     []string `json:"suggestions"`
}

// Generator turns free-form user text into a structured draft update. The
// current draft is passed so follow-up turns refine instead of restart.
type Generator interface {
	GenerateDraft(ctx context.Context, userText string, current *models.RequestDraft) (*DraftResult, error)
}

// ConnectionChecker reports whether the generation backend is reachable.
// Implementations may cache the answer.
type ConnectionChecker interface {
	Check(ctx context.Context) (bool, error)
}
