package services

import (
	"regexp"
	"strings"

	"github.com/mohmad1412-cmd/abeely-sub001/internal/models"
)

// IQuestionService generates the missing-field question batch for a fresh
// AI draft and folds answers back into the draft.
type IQuestionService interface {
	Generate(draft *models.RequestDraft, minDescriptionLen int) []models.Question
	Fold(draft *models.RequestDraft, key models.QuestionKey, answer string)
}

// questionService implements IQuestionService.
type questionService struct{}

// NewQuestionService creates a new QuestionService.
func NewQuestionService() IQuestionService {
	return &questionService{}
}

// budgetRangeRe matches "N-M" style answers (plain or decimal numbers,
// ASCII hyphen or en dash).
var budgetRangeRe = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*[-–]\s*(\d+(?:\.\d+)?)$`)

// budgetSingleRe matches a bare number, used for both bounds.
var budgetSingleRe = regexp.MustCompile(`^\d+(?:\.\d+)?$`)

// Generate builds the question batch in fixed order: location, description,
// budget, deliveryTime — one question per missing field. It is called once
// per AI draft; re-generation mid-flow does not happen.
func (s *questionService) Generate(draft *models.RequestDraft, minDescriptionLen int) []models.Question {
	var questions []models.Question

	if strings.TrimSpace(draft.Location) == "" {
		questions = append(questions, models.Question{
			Key:          models.QuestionKeyLocation,
			Question:     "وين موقعك؟ أو هل الطلب عن بعد؟",
			QuickOptions: []string{"الرياض", "جدة", "الدمام", "مكة", models.LocationRemote},
		})
	}
	if len([]rune(strings.TrimSpace(draft.Description))) < minDescriptionLen {
		questions = append(questions, models.Question{
			Key:      models.QuestionKeyDescription,
			Question: "اشرح طلبك بتفصيل أكثر عشان يوصل لمقدمي الخدمة المناسبين",
		})
	}
	if !draft.IsBudgetEnabled() && draft.BudgetType == models.BudgetTypeNotSpecified {
		questions = append(questions, models.Question{
			Key:          models.QuestionKeyBudget,
			Question:     "كم ميزانيتك التقريبية؟",
			QuickOptions: []string{"500-1000", "1000-3000", "3000-5000", models.BudgetNegotiable},
		})
	}
	if strings.TrimSpace(draft.DeliveryTimeFrom) == "" {
		questions = append(questions, models.Question{
			Key:          models.QuestionKeyDeliveryTime,
			Question:     "متى تحتاج يكتمل الطلب؟",
			QuickOptions: []string{"اليوم", "خلال أسبوع", "خلال شهر", models.DeliveryFlexible},
		})
	}

	return questions
}

// Fold applies an answer to the draft using the per-key mapping.
func (s *questionService) Fold(draft *models.RequestDraft, key models.QuestionKey, answer string) {
	value := strings.TrimSpace(answer)

	switch key {
	case models.QuestionKeyLocation:
		// The remote sentinel canonicalises to the unspecified marker.
		if value == models.LocationRemote {
			draft.Location = models.LocationUnspecified
		} else {
			draft.Location = value
		}

	case models.QuestionKeyDescription:
		draft.Description = value

	case models.QuestionKeyBudget:
		if value == models.BudgetNegotiable {
			draft.BudgetMin = ""
			draft.BudgetMax = ""
			draft.BudgetType = models.BudgetTypeNegotiable
			draft.BudgetOn = true
			return
		}
		if m := budgetRangeRe.FindStringSubmatch(value); m != nil {
			draft.BudgetMin = m[1]
			draft.BudgetMax = m[2]
			draft.BudgetType = models.BudgetTypeFixed
			draft.BudgetOn = true
			return
		}
		if budgetSingleRe.MatchString(value) {
			draft.BudgetMin = value
			draft.BudgetMax = value
			draft.BudgetType = models.BudgetTypeFixed
			draft.BudgetOn = true
			return
		}
		// Free text that doesn't parse is not a budget; leave the draft as is.

	case models.QuestionKeyDeliveryTime:
		// "Flexible" means no deadline; it is dropped, not stored.
		if value == models.DeliveryFlexible || value == "" {
			return
		}
		draft.DeliveryTimeFrom = value
		draft.DeliveryOn = true
	}
}
