package services

import (
	"strings"
)

// Clarification is a follow-up question posed before any draft exists.
type Clarification struct {
	Question     string   `json:"question"`
	QuickOptions []string `json:"quick_options,omitempty"`
}

// IClarifyService decides whether raw user input needs a clarification
// question before it is worth sending to the draft generator.
type IClarifyService interface {
	Check(text string) *Clarification
}

// clarifyRule pairs a keyword lexicon with the clarification it triggers.
// Rules are evaluated in order; the first hit wins.
type clarifyRule struct {
	keywords []string
	question string
	options  []string
}

// minClearLength is the trimmed rune count below which input with no intent
// word is considered too vague to draft from.
const minClearLength = 10

// intentWords signal the user already stated what they want; input carrying
// one (and long enough) skips clarification entirely.
var intentWords = []string{
	"اريد", "أريد", "ابغى", "أبغى", "ابي", "أبي",
	"محتاج", "احتاج", "أحتاج", "مطلوب",
	"want", "need", "required",
}

// clarifyRules is the ordered domain lexicon table. Keeping it as data keeps
// the matcher independently testable and trivially extensible.
var clarifyRules = []clarifyRule{
	{
		keywords: []string{"سيارة", "سياره", "مركبة", "مركبه", "موتر", "دباب", "شاحنة", "شاحنه", "جيب", "بيك اب"},
		question: "وش تحتاج بخصوص السيارة؟",
		options:  []string{"شراء سيارة", "بيع سيارة", "إصلاح/صيانة", "قطع غيار", "تأجير", "نقل/سطحة"},
	},
	{
		keywords: []string{"شقة", "شقه", "عقار", "فيلا", "فله", "أرض", "ارض", "عمارة", "عماره", "استوديو"},
		question: "وش تحتاج بخصوص العقار؟",
		options:  []string{"شراء", "بيع", "إيجار", "تشطيب/ترميم", "تقييم", "إدارة أملاك"},
	},
	{
		keywords: []string{"جوال", "هاتف", "ايفون", "آيفون", "تلفون", "موبايل", "سامسونج"},
		question: "وش تحتاج بخصوص الجوال؟",
		options:  []string{"شراء جديد", "شراء مستعمل", "بيع", "إصلاح", "اكسسوارات", "استبدال"},
	},
	{
		keywords: []string{"لابتوب", "كمبيوتر", "حاسوب", "حاسب", "ماك بوك", "طابعة", "طابعه"},
		question: "وش تحتاج بخصوص الجهاز؟",
		options:  []string{"شراء", "بيع", "إصلاح", "ترقية قطع", "برمجيات", "صيانة دورية"},
	},
	{
		keywords: []string{"اثاث", "أثاث", "كنب", "كنبة", "طاولة", "طاوله", "دولاب", "سرير", "مجلس"},
		question: "وش تحتاج بخصوص الأثاث؟",
		options:  []string{"شراء جديد", "شراء مستعمل", "بيع", "نقل أثاث", "تفصيل", "تنجيد"},
	},
}

// genericClarification is emitted for short input with no intent word and no
// lexicon hit.
const genericClarification = "ممكن توضح أكثر وش تحتاج بالضبط؟"

// clarifyService implements IClarifyService.
type clarifyService struct{}

// NewClarifyService creates a new ClarifyService.
func NewClarifyService() IClarifyService {
	return &clarifyService{}
}

// Check runs the input through the rule table. Input that is long enough and
// carries an intent word is treated as clear and never clarified, even when
// a lexicon keyword appears inside it ("اريد تطبيق جوال" is about an app,
// not a phone). Returns nil when no clarification is needed.
func (s *clarifyService) Check(text string) *Clarification {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return &Clarification{Question: genericClarification}
	}

	long := len([]rune(trimmed)) >= minClearLength
	hasIntent := containsIntentWord(trimmed)

	if long && hasIntent {
		return nil
	}

	for _, rule := range clarifyRules {
		for _, kw := range rule.keywords {
			if strings.Contains(trimmed, kw) {
				return &Clarification{
					Question:     rule.question,
					QuickOptions: append([]string(nil), rule.options...),
				}
			}
		}
	}

	if !long && !hasIntent {
		return &Clarification{Question: genericClarification}
	}

	return nil
}

func containsIntentWord(text string) bool {
	lower := strings.ToLower(text)
	for _, w := range intentWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}
