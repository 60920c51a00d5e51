package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/mohmad1412-cmd/abeely-sub001/internal/config"
	"github.com/mohmad1412-cmd/abeely-sub001/internal/models"
)

const systemPrompt = `أنت مساعد صياغة طلبات في منصة أبيلي. المستخدم يكتب ما يحتاجه بلغته،
وأنت تحوّل كلامه إلى طلب منظّم. أرجع JSON فقط بهذه الحقول:
{"is_clarification": bool, "response": string, "title": string, "description": string,
"categories": [string], "budget_min": string, "budget_max": string,
"delivery_time": string, "location": string, "suggestions": [string]}
إذا كان الكلام غير كافٍ لفهم الطلب اجعل is_clarification=true وضع سؤالك في response.
اترك أي حقل لا تعرفه فارغاً، لا تخترع قيماً.`

// geminiGenerator is the HTTP client behind Generator. It talks the
// generateContent JSON API directly; no SDK.
type geminiGenerator struct {
	baseURL        string
	apiKey         string
	model          string
	maxInputLength int
	httpClient     *http.Client
}

// NewGenerator creates a Generator backed by the configured generation API.
func NewGenerator(cfg *config.Config) Generator {
	return &geminiGenerator{
		baseURL:        strings.TrimSuffix(cfg.AIBaseURL, "/"),
		apiKey:         cfg.AIApiKey,
		model:          cfg.AIModel,
		maxInputLength: cfg.AIMaxInputLength,
		httpClient:     &http.Client{Timeout: cfg.AITimeout},
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
	Temperature      float64 `json:"temperature"`
}

type geminiRequest struct {
	Contents          []geminiContent        `json:"contents"`
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (g *geminiGenerator) GenerateDraft(ctx context.Context, userText string, current *models.RequestDraft) (*DraftResult, error) {
	text := strings.TrimSpace(userText)
	if text == "" {
		return nil, fmt.Errorf("empty user text")
	}
	if g.maxInputLength > 0 && len([]rune(text)) > g.maxInputLength {
		runes := []rune(text)
		text = string(runes[:g.maxInputLength])
	}

	prompt := g.buildPrompt(text, current)

	reqBody := geminiRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: prompt}}},
		},
		SystemInstruction: &geminiContent{Parts: []geminiPart{{Text: systemPrompt}}},
		GenerationConfig: geminiGenerationConfig{
			ResponseMimeType: "application/json",
			Temperature:      0.2,
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal generation request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, g.model, g.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to build generation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("generation request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read generation response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("generation API returned status %d: %s", resp.StatusCode, truncateBody(body))
	}

	var apiResp geminiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode generation response: %w", err)
	}
	if apiResp.Error != nil {
		return nil, fmt.Errorf("generation API error %d (%s): %s", apiResp.Error.Code, apiResp.Error.Status, apiResp.Error.Message)
	}
	if len(apiResp.Candidates) == 0 || len(apiResp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("generation response has no candidates")
	}

	raw := stripJSONFences(apiResp.Candidates[0].Content.Parts[0].Text)
	var result DraftResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("generation output is not valid JSON: %w", err)
	}

	log.Printf("DEBUG: draft generation took %s (clarification=%t)", time.Since(start).Round(time.Millisecond), result.IsClarification)
	return &result, nil
}

// buildPrompt puts the current draft state next to the new turn so the model
// refines rather than restarts.
func (g *geminiGenerator) buildPrompt(userText string, current *models.RequestDraft) string {
	var b strings.Builder
	if current != nil && (current.Title != "" || current.Description != "") {
		state, err := json.Marshal(map[string]any{
			"title":         current.Title,
			"description":   current.Description,
			"categories":    current.Categories,
			"budget_min":    current.BudgetMin,
			"budget_max":    current.BudgetMax,
			"delivery_time": current.DeliveryTimeFrom,
			"location":      current.Location,
		})
		if err == nil {
			b.WriteString("الطلب الحالي:\n")
			b.Write(state)
			b.WriteString("\n\n")
		}
	}
	b.WriteString("رسالة المستخدم:\n")
	b.WriteString(userText)
	return b.String()
}

// stripJSONFences removes a markdown code fence when the model wraps its JSON
// in one despite the mime type hint.
func stripJSONFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func truncateBody(body []byte) string {
	const limit = 512
	if len(body) <= limit {
		return string(body)
	}
	return string(body[:limit]) + "..."
}
