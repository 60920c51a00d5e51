package models

import (
	"strconv"
	"strings"
)

// BudgetType defines how the budget of a request should be interpreted.
type BudgetType string

const (
	BudgetTypeFixed        BudgetType = "fixed"
	BudgetTypeNegotiable   BudgetType = "negotiable"
	BudgetTypeNotSpecified BudgetType = "not_specified"
)

// Location sentinels. The remote sentinel is what users type/pick when the
// request is not tied to a place; it is canonicalised to LocationUnspecified
// before the draft is persisted.
const (
	LocationRemote      = "عن بعد"
	LocationUnspecified = "غير محدد"
)

// DeliveryFlexible is the quick-option token meaning "no deadline"; it is
// dropped rather than stored.
const DeliveryFlexible = "مرن"

// BudgetNegotiable is the quick-option token that clears both budget bounds.
const BudgetNegotiable = "تفاوض"

// AttachmentKind distinguishes attachment media types.
type AttachmentKind string

const (
	AttachmentKindImage AttachmentKind = "image"
	AttachmentKindAudio AttachmentKind = "audio"
	AttachmentKindFile  AttachmentKind = "file"
)

// Attachment is a single uploaded file linked to a draft. Key is the S3
// object key.
type Attachment struct {
	Key  string         `bson:"key" json:"key"`
	Kind AttachmentKind `bson:"kind" json:"kind"`
}

// DraftSection names an optional draft section that can be toggled on/off.
type DraftSection string

const (
	SectionNeighborhood DraftSection = "neighborhood"
	SectionBudget       DraftSection = "budget"
	SectionDelivery     DraftSection = "delivery"
	SectionAttachments  DraftSection = "attachments"
)

// RequestDraft is the mutable request under construction. It lives inside a
// DraftSession document and is copied into a Request on publish.
type RequestDraft struct {
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

	// Section toggles. A toggle being on does not imply the section carries
	// a value; the Is*Enabled methods combine both.
	NeighborhoodOn bool `bson:"neighborhood_on" json:"neighborhood_on"`
	BudgetOn       bool `bson:"budget_on" json:"budget_on"`
	DeliveryOn     bool `bson:"delivery_on" json:"delivery_on"`
	AttachmentsOn  bool `bson:"attachments_on" json:"attachments_on"`
}

// NewRequestDraft returns an empty draft with defaults applied.
func NewRequestDraft() *RequestDraft {
	return &RequestDraft{
		BudgetType:  BudgetTypeNotSpecified,
		Categories:  []string{},
		Seriousness: 2,
		Attachments: []Attachment{},
	}
}

// IsNeighborhoodEnabled reports whether the neighborhood section is toggled
// on AND carries a value.
func (d *RequestDraft) IsNeighborhoodEnabled() bool {
	return d.NeighborhoodOn && strings.TrimSpace(d.Neighborhood) != ""
}

// IsBudgetEnabled reports whether the budget section is toggled on AND at
// least one bound is set.
func (d *RequestDraft) IsBudgetEnabled() bool {
	return d.BudgetOn && (strings.TrimSpace(d.BudgetMin) != "" || strings.TrimSpace(d.BudgetMax) != "")
}

// IsDeliveryEnabled reports whether the delivery section is toggled on AND
// carries a concrete (non-sentinel) value.
func (d *RequestDraft) IsDeliveryEnabled() bool {
	v := strings.TrimSpace(d.DeliveryTimeFrom)
	return d.DeliveryOn && v != "" && v != LocationUnspecified
}

// IsAttachmentsEnabled reports whether the attachments section is toggled on
// AND has at least one file.
func (d *RequestDraft) IsAttachmentsEnabled() bool {
	return d.AttachmentsOn && len(d.Attachments) > 0
}

// ToggleSection switches an optional section on or off. Toggling off clears
// the dependent values so the draft can never carry a stale hidden value.
func (d *RequestDraft) ToggleSection(section DraftSection, on bool) {
	switch section {
	case SectionNeighborhood:
		d.NeighborhoodOn = on
		if !on {
			d.Neighborhood = ""
		}
	case SectionBudget:
		d.BudgetOn = on
		if !on {
			d.BudgetMin = ""
			d.BudgetMax = ""
			d.BudgetType = BudgetTypeNotSpecified
		}
	case SectionDelivery:
		d.DeliveryOn = on
		if !on {
			d.DeliveryTimeFrom = ""
		}
	case SectionAttachments:
		d.AttachmentsOn = on
		if !on {
			d.Attachments = []Attachment{}
		}
	}
}

// IsPublishable reports whether the required fields are satisfied: the
// trimmed description must be at least minDescriptionLen runes and the
// location non-empty (the remote sentinel counts as a location).
func (d *RequestDraft) IsPublishable(minDescriptionLen int) bool {
	if len([]rune(strings.TrimSpace(d.Description))) < minDescriptionLen {
		return false
	}
	loc := strings.TrimSpace(d.Location)
	return loc != "" || d.Location == LocationRemote
}

// BudgetBounds parses both budget bounds. ok is false when either bound is
// empty or not a number.
func (d *RequestDraft) BudgetBounds() (min, max float64, ok bool) {
	minStr := strings.TrimSpace(d.BudgetMin)
	maxStr := strings.TrimSpace(d.BudgetMax)
	if minStr == "" || maxStr == "" {
		return 0, 0, false
	}
	min, errMin := strconv.ParseFloat(minStr, 64)
	max, errMax := strconv.ParseFloat(maxStr, 64)
	if errMin != nil || errMax != nil {
		return 0, 0, false
	}
	return min, max, true
}

// HasValidBudget reports whether both bounds parse and max >= min.
func (d *RequestDraft) HasValidBudget() bool {
	min, max, ok := d.BudgetBounds()
	return ok && max >= min
}

// ClampSeriousness forces seriousness into [1,3], defaulting to def when the
// stored value is out of range.
func (d *RequestDraft) ClampSeriousness(def int) {
	if d.Seriousness < 1 || d.Seriousness > 3 {
		if def < 1 || def > 3 {
			def = 2
		}
		d.Seriousness = def
	}
}

// Clone returns a deep copy of the draft, used for the frozen post-publish
// snapshot.
func (d *RequestDraft) Clone() *RequestDraft {
	cp := *d
	cp.Categories = append([]string(nil), d.Categories...)
	cp.Attachments = append([]Attachment(nil), d.Attachments...)
	return &cp
}

// Equal compares the tracked (user-editable) fields of two drafts. It drives
// the "save edits" vs "go to record" branch after publish.
func (d *RequestDraft) Equal(other *RequestDraft) bool {
	if other == nil {
		return false
	}
	if d.Title != other.Title ||
		d.Description != other.Description ||
		d.Location != other.Location ||
		d.Neighborhood != other.Neighborhood ||
		d.BudgetMin != other.BudgetMin ||
		d.BudgetMax != other.BudgetMax ||
		d.BudgetType != other.BudgetType ||
		d.DeliveryTimeFrom != other.DeliveryTimeFrom ||
		d.Seriousness != other.Seriousness {
		return false
	}
	if len(d.Categories) != len(other.Categories) {
		return false
	}
	for i := range d.Categories {
		if d.Categories[i] != other.Categories[i] {
			return false
		}
	}
	if len(d.Attachments) != len(other.Attachments) {
		return false
	}
	for i := range d.Attachments {
		if d.Attachments[i] != other.Attachments[i] {
			return false
		}
	}
	return true
}
