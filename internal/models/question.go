package models

// QuestionKey identifies which draft field a follow-up question fills.
type QuestionKey string

const (
	QuestionKeyLocation     QuestionKey = "location"
	QuestionKeyDescription  QuestionKey = "description"
	QuestionKeyBudget       QuestionKey = "budget"
	QuestionKeyDeliveryTime QuestionKey = "deliveryTime"
)

// Question is one outstanding missing-field prompt. A batch is generated
// once from a fresh AI draft and answered strictly in order.
type Question struct {
	Key          QuestionKey `bson:"key" json:"key"`
	Question     string      `bson:"question" json:"question"`
	QuickOptions []string    `bson:"quick_options,omitempty" json:"quick_options,omitempty"`
	Answer       *string     `bson:"answer,omitempty" json:"answer,omitempty"`
}
