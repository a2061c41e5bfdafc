package generate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/calliope-studio/calliope/internal/tasks"
)

// MediaPlanPayload is the payload for GENERATE_MEDIA_PLAN tasks.
type MediaPlanPayload struct {
	ModelPrefs
	BrandName      string   `json:"brandName"`
	Industry       string   `json:"industry,omitempty"`
	TargetAudience string   `json:"targetAudience,omitempty"`
	Platforms      []string `json:"platforms,omitempty"`
	DurationWeeks  int      `json:"durationWeeks,omitempty"`
}

// MediaPlanWeek is one week of a generated media plan.
type MediaPlanWeek struct {
	Week  int    `json:"week"`
	Theme string `json:"theme"`
	Posts []struct {
		Platform string `json:"platform"`
		Day      string `json:"day"`
		Caption  string `json:"caption"`
		Format   string `json:"format"`
	} `json:"posts"`
}

func (g *Generator) mediaPlan(ctx context.Context, t *tasks.Task) (json.RawMessage, error) {
	var p MediaPlanPayload
	if err := decodePayload(t, &p); err != nil {
		return nil, err
	}
	if p.DurationWeeks <= 0 {
		p.DurationWeeks = 4
	}

	prompt, err := renderPrompt("media_plan", p)
	if err != nil {
		return nil, err
	}

	var plan struct {
		Weeks []MediaPlanWeek `json:"weeks"`
	}
	modelUsed, err := g.run(ctx, prompt, p.ModelPrefs, &plan)
	if err != nil {
		return nil, err
	}

	return marshalResult(map[string]any{
		"weeks":     plan.Weeks,
		"modelUsed": modelUsed,
	})
}

// BrandFromIdeaPayload is the payload for CREATE_BRAND_FROM_IDEA tasks. This
// is the one kind submitted without a brand id.
type BrandFromIdeaPayload struct {
	ModelPrefs
	Idea         string `json:"idea"`
	TargetMarket string `json:"targetMarket,omitempty"`
}

func (g *Generator) brandFromIdea(ctx context.Context, t *tasks.Task) (json.RawMessage, error) {
	var p BrandFromIdeaPayload
	if err := decodePayload(t, &p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.Idea) == "" {
		return nil, fmt.Errorf("brand idea is required")
	}

	prompt, err := renderPrompt("brand_from_idea", p)
	if err != nil {
		return nil, err
	}

	var brand struct {
		Name           string   `json:"name"`
		Tagline        string   `json:"tagline"`
		Description    string   `json:"description"`
		Industry       string   `json:"industry"`
		Values         []string `json:"values"`
		ToneOfVoice    string   `json:"toneOfVoice"`
		TargetAudience string   `json:"targetAudience"`
	}
	modelUsed, err := g.run(ctx, prompt, p.ModelPrefs, &brand)
	if err != nil {
		return nil, err
	}
	if brand.Name == "" {
		return nil, fmt.Errorf("model %s returned a brand without a name", modelUsed)
	}

	return marshalResult(map[string]any{
		"brand":     brand,
		"modelUsed": modelUsed,
	})
}

// KitPayload is the payload for GENERATE_KIT tasks.
type KitPayload struct {
	ModelPrefs
	BrandName string `json:"brandName"`
	Industry  string `json:"industry,omitempty"`
	Style     string `json:"style,omitempty"`
}

func (g *Generator) kit(ctx context.Context, t *tasks.Task) (json.RawMessage, error) {
	var p KitPayload
	if err := decodePayload(t, &p); err != nil {
		return nil, err
	}

	prompt, err := renderPrompt("kit", p)
	if err != nil {
		return nil, err
	}

	var kit struct {
		Colors    map[string]string `json:"colors"`
		Fonts     map[string]string `json:"fonts"`
		LogoIdeas []string          `json:"logoIdeas"`
		Imagery   string            `json:"imagery"`
	}
	modelUsed, err := g.run(ctx, prompt, p.ModelPrefs, &kit)
	if err != nil {
		return nil, err
	}

	return marshalResult(map[string]any{
		"kit":       kit,
		"modelUsed": modelUsed,
	})
}

// IdeasPayload is the payload for GENERATE_IDEAS tasks.
type IdeasPayload struct {
	ModelPrefs
	BrandName string `json:"brandName"`
	Topic     string `json:"topic,omitempty"`
	Count     int    `json:"count,omitempty"`
}

func (g *Generator) ideas(ctx context.Context, t *tasks.Task) (json.RawMessage, error) {
	var p IdeasPayload
	if err := decodePayload(t, &p); err != nil {
		return nil, err
	}
	if p.Count <= 0 {
		p.Count = 5
	}

	prompt, err := renderPrompt("ideas", p)
	if err != nil {
		return nil, err
	}

	var out struct {
		Ideas []struct {
			Title       string `json:"title"`
			Description string `json:"description"`
			Format      string `json:"format"`
			Platform    string `json:"platform"`
		} `json:"ideas"`
	}
	modelUsed, err := g.run(ctx, prompt, p.ModelPrefs, &out)
	if err != nil {
		return nil, err
	}

	return marshalResult(map[string]any{
		"ideas":     out.Ideas,
		"modelUsed": modelUsed,
	})
}

// PersonasPayload is the payload for GENERATE_PERSONAS tasks.
type PersonasPayload struct {
	ModelPrefs
	BrandName string `json:"brandName"`
	Industry  string `json:"industry,omitempty"`
	Count     int    `json:"count,omitempty"`
}

func (g *Generator) personas(ctx context.Context, t *tasks.Task) (json.RawMessage, error) {
	var p PersonasPayload
	if err := decodePayload(t, &p); err != nil {
		return nil, err
	}
	if p.Count <= 0 {
		p.Count = 3
	}

	prompt, err := renderPrompt("personas", p)
	if err != nil {
		return nil, err
	}

	var out struct {
		Personas []json.RawMessage `json:"personas"`
	}
	modelUsed, err := g.run(ctx, prompt, p.ModelPrefs, &out)
	if err != nil {
		return nil, err
	}

	return marshalResult(map[string]any{
		"personas":  out.Personas,
		"modelUsed": modelUsed,
	})
}

// Trend type discriminator values for GENERATE_TRENDS payloads.
const (
	TrendTypeIndustry = "industry"
	TrendTypeGlobal   = "global"
)

// TrendsPayload is the payload for GENERATE_TRENDS tasks.
type TrendsPayload struct {
	ModelPrefs
	BrandName string `json:"brandName"`
	TrendType string `json:"trendType"`
	Industry  string `json:"industry,omitempty"`
}

// Trend is one generated trend entry.
type Trend struct {
	ID              string `json:"trendId"`
	Title           string `json:"title"`
	Summary         string `json:"summary"`
	WhyItMatters    string `json:"whyItMatters"`
	SuggestedAction string `json:"suggestedAction"`
}

func (g *Generator) trends(ctx context.Context, t *tasks.Task) (json.RawMessage, error) {
	var p TrendsPayload
	if err := decodePayload(t, &p); err != nil {
		return nil, err
	}

	var promptName string
	switch p.TrendType {
	case TrendTypeIndustry:
		if strings.TrimSpace(p.Industry) == "" {
			return nil, fmt.Errorf("industry is required for %s trends", TrendTypeIndustry)
		}
		promptName = "trends_industry"
	case TrendTypeGlobal:
		promptName = "trends_global"
	default:
		return nil, fmt.Errorf("unknown trendType %q (want %q or %q)", p.TrendType, TrendTypeIndustry, TrendTypeGlobal)
	}

	prompt, err := renderPrompt(promptName, p)
	if err != nil {
		return nil, err
	}

	var out struct {
		Trends []Trend `json:"trends"`
	}
	modelUsed, err := g.run(ctx, prompt, p.ModelPrefs, &out)
	if err != nil {
		return nil, err
	}
	if len(out.Trends) == 0 {
		return nil, fmt.Errorf("model %s returned no trends", modelUsed)
	}

	trendIDs := make([]string, len(out.Trends))
	for i := range out.Trends {
		out.Trends[i].ID = generateTrendID()
		trendIDs[i] = out.Trends[i].ID
	}

	return marshalResult(map[string]any{
		"message":   fmt.Sprintf("%d trends generated successfully.", len(out.Trends)),
		"trendIds":  trendIDs,
		"trends":    out.Trends,
		"modelUsed": modelUsed,
	})
}

func generateTrendID() string {
	u := uuid.New().String()
	return "trend_" + strings.ReplaceAll(u[:8], "-", "")
}
