package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mohmad1412-cmd/abeely-sub001/internal/models"
)

func TestQuestionService_Generate_AllMissing(t *testing.T) {
	svc := NewQuestionService()
	draft := models.NewRequestDraft()

	questions := svc.Generate(draft, 20)

	assert.Len(t, questions, 4)
	assert.Equal(t, models.QuestionKeyLocation, questions[0].Key)
	assert.Equal(t, models.QuestionKeyDescription, questions[1].Key)
	assert.Equal(t, models.QuestionKeyBudget, questions[2].Key)
	assert.Equal(t, models.QuestionKeyDeliveryTime, questions[3].Key)
	assert.Contains(t, questions[0].QuickOptions, models.LocationRemote)
	assert.Contains(t, questions[2].QuickOptions, models.BudgetNegotiable)
	assert.Contains(t, questions[3].QuickOptions, models.DeliveryFlexible)
}

func TestQuestionService_Generate_OnlyGaps(t *testing.T) {
	svc := NewQuestionService()
	draft := models.NewRequestDraft()
	draft.Location = "الرياض"
	draft.Description = "أحتاج مصمم شعار احترافي لمشروع مقهى جديد"
	draft.BudgetOn = true
	draft.BudgetMin = "500"
	draft.BudgetMax = "1000"
	draft.BudgetType = models.BudgetTypeFixed

	questions := svc.Generate(draft, 20)

	assert.Len(t, questions, 1)
	assert.Equal(t, models.QuestionKeyDeliveryTime, questions[0].Key)
}

func TestQuestionService_Fold_Location(t *testing.T) {
	svc := NewQuestionService()
	draft := models.NewRequestDraft()

	svc.Fold(draft, models.QuestionKeyLocation, " جدة ")
	assert.Equal(t, "جدة", draft.Location)

	svc.Fold(draft, models.QuestionKeyLocation, models.LocationRemote)
	assert.Equal(t, models.LocationUnspecified, draft.Location)
}

func TestQuestionService_Fold_BudgetRange(t *testing.T) {
	svc := NewQuestionService()
	draft := models.NewRequestDraft()

	svc.Fold(draft, models.QuestionKeyBudget, "500-800")
	assert.True(t, draft.BudgetOn)
	assert.Equal(t, "500", draft.BudgetMin)
	assert.Equal(t, "800", draft.BudgetMax)
	assert.Equal(t, models.BudgetTypeFixed, draft.BudgetType)
}

func TestQuestionService_Fold_BudgetSingleNumber(t *testing.T) {
	svc := NewQuestionService()
	draft := models.NewRequestDraft()

	svc.Fold(draft, models.QuestionKeyBudget, "1500")
	assert.True(t, draft.BudgetOn)
	assert.Equal(t, "1500", draft.BudgetMin)
	assert.Equal(t, "1500", draft.BudgetMax)
}

func TestQuestionService_Fold_BudgetNegotiable(t *testing.T) {
	svc := NewQuestionService()
	draft := models.NewRequestDraft()
	draft.BudgetMin = "100"
	draft.BudgetMax = "200"

	svc.Fold(draft, models.QuestionKeyBudget, models.BudgetNegotiable)
	assert.True(t, draft.BudgetOn)
	assert.Equal(t, models.BudgetTypeNegotiable, draft.BudgetType)
	assert.Empty(t, draft.BudgetMin)
	assert.Empty(t, draft.BudgetMax)
}

func TestQuestionService_Fold_BudgetFreeTextIgnored(t *testing.T) {
	svc := NewQuestionService()
	draft := models.NewRequestDraft()

	svc.Fold(draft, models.QuestionKeyBudget, "ما أدري والله")
	assert.False(t, draft.BudgetOn)
	assert.Empty(t, draft.BudgetMin)
	assert.Equal(t, models.BudgetTypeNotSpecified, draft.BudgetType)
}

func TestQuestionService_Fold_DeliveryTime(t *testing.T) {
	svc := NewQuestionService()
	draft := models.NewRequestDraft()

	svc.Fold(draft, models.QuestionKeyDeliveryTime, "خلال أسبوع")
	assert.True(t, draft.DeliveryOn)
	assert.Equal(t, "خلال أسبوع", draft.DeliveryTimeFrom)
}

func TestQuestionService_Fold_DeliveryFlexibleDropped(t *testing.T) {
	svc := NewQuestionService()
	draft := models.NewRequestDraft()

	svc.Fold(draft, models.QuestionKeyDeliveryTime, models.DeliveryFlexible)
	assert.False(t, draft.DeliveryOn)
	assert.Empty(t, draft.DeliveryTimeFrom)
}
