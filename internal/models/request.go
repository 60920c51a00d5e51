package models

import (
	"time"

	"github.com/mohmad1412-cmd/abeely-sub001/internal/utils"
)

// Request is the durable, published request record browsed by providers.
type Request struct {
	ID               utils.SixID  `bson:"_id,omitempty" json:"id,omitempty"`
	UserID           utils.SixID  `bson:"user_id" json:"user_id"`
	Title            string       `bson:"title" json:"title"`
	Description      string       `bson:"description" json:"description"`
	Location         string       `bson:"location" json:"location"`
	Neighborhood     string       `bson:"neighborhood,omitempty" json:"neighborhood,omitempty"`
	BudgetMin        string       `bson:"budget_min,omitempty" json:"budget_min,omitempty"`
	BudgetMax        string       `bson:"budget_max,omitempty" json:"budget_max,omitempty"`
	BudgetType       BudgetType   `bson:"budget_type" json:"budget_type"`
	DeliveryTimeFrom string       `bson:"delivery_time_from,omitempty" json:"delivery_time_from,omitempty"`
	Categories       []string     `bson:"categories" json:"categories"`
	Seriousness      int          `bson:"seriousness" json:"seriousness"`
	Attachments      []Attachment `bson:"attachments" json:"attachments"`
	CreatedAt        time.Time    `bson:"created_at" json:"created_at"`
	UpdatedAt        time.Time    `bson:"updated_at" json:"updated_at"`
	PublishedAt      *time.Time   `bson:"published_at,omitempty" json:"published_at,omitempty"`
	Deleted          bool         `bson:"deleted" json:"-"` // Soft delete flag
}
