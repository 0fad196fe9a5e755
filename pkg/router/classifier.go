package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/renalworks/nefro/pkg/agent"
	"github.com/renalworks/nefro/pkg/llms"
	"github.com/renalworks/nefro/pkg/logger"
)

// Intent is one entry of the closed classification vocabulary.
type Intent string

const (
	IntentMedicalInfo    Intent = "medical_info"
	IntentDietInfo       Intent = "diet_info"
	IntentHealthRecord   Intent = "health_record"
	IntentWelfareInfo    Intent = "welfare_info"
	IntentResearch       Intent = "research"
	IntentLearning       Intent = "learning"
	IntentPolicy         Intent = "policy"
	IntentChitChat       Intent = "chit_chat"
	IntentNonMedical     Intent = "non_medical"
	IntentIllegalRequest Intent = "illegal_request"
)

// DefaultAgent answers when every classification signal fails.
const DefaultAgent = "research_paper"

// intentAgents maps vocabulary intents onto registered agent tags.
var intentAgents = map[Intent]string{
	IntentMedicalInfo:    "research_paper",
	IntentDietInfo:       "nutrition",
	IntentHealthRecord:   "trend_visualization",
	IntentWelfareInfo:    "medical_welfare",
	IntentResearch:       "research_paper",
	IntentLearning:       "quiz",
	IntentPolicy:         "medical_welfare",
	IntentChitChat:       DefaultAgent,
	IntentNonMedical:     DefaultAgent,
	IntentIllegalRequest: DefaultAgent,
}

// emergencyKeywords trigger the fixed emergency route regardless of any
// other signal.
var emergencyKeywords = []string{
	"응급", "심정지", "호흡곤란", "의식없", "의식이 없",
	"자살", "쓰러졌", "과다출혈", "쇼크",
	"emergency", "cardiac arrest", "can't breathe", "unconscious",
}

// keywordRules is the deterministic fallback when the LLM is unusable.
// First match wins.
var keywordRules = []struct {
	keywords []string
	agentTag string
}{
	{[]string{"식단", "음식", "영양", "단백질", "칼륨", "나트륨", "먹어도", "diet", "nutrition", "food"}, "nutrition"},
	{[]string{"복지", "지원금", "혜택", "산정특례", "장애", "welfare", "benefit", "subsidy"}, "medical_welfare"},
	{[]string{"퀴즈", "문제", "공부", "학습", "quiz", "learn"}, "quiz"},
	{[]string{"수치", "추이", "그래프", "검사결과", "크레아티닌", "egfr", "trend", "chart"}, "trend_visualization"},
	{[]string{"논문", "연구", "최신", "치료법", "paper", "research", "study"}, "research_paper"},
}

// Classification is the routing decision for one request.
type Classification struct {
	AgentTags   []string `json:"agent_tags"`
	Confidence  float64  `json:"confidence"`
	IsEmergency bool     `json:"is_emergency"`
	Reasoning   string   `json:"reasoning,omitempty"`
	Method      string   `json:"method"` // forced, emergency, llm, keyword, default
}

type llmClassification struct {
	Intents     []string `json:"intents"`
	Confidence  float64  `json:"confidence"`
	IsEmergency bool     `json:"is_emergency"`
	Reasoning   string   `json:"reasoning"`
}

// Classifier turns a query into a set of target agent tags.
type Classifier struct {
	llm      llms.Provider
	hasAgent func(tag string) bool
	logger   *slog.Logger
}

func NewClassifier(llm llms.Provider, hasAgent func(tag string) bool) *Classifier {
	return &Classifier{
		llm:      llm,
		hasAgent: hasAgent,
		logger:   logger.GetLogger(),
	}
}

// Classify resolves the targets for a request. A valid context.target_agent
// short-circuits everything; the emergency scan overrides the LLM; LLM
// failures degrade to the keyword rule table and finally to the default.
func (c *Classifier) Classify(ctx context.Context, req *agent.Request) Classification {
	if forced := c.forcedTarget(req); forced != "" {
		return Classification{AgentTags: []string{forced}, Confidence: 1, Method: "forced"}
	}

	if isEmergency(req.Query) {
		return Classification{
			AgentTags:   []string{DefaultAgent},
			Confidence:  1,
			IsEmergency: true,
			Method:      "emergency",
		}
	}

	if cls, ok := c.classifyLLM(ctx, req.Query); ok {
		return cls
	}

	if tag, ok := classifyKeywords(req.Query); ok {
		return Classification{AgentTags: []string{tag}, Confidence: 0.5, Method: "keyword"}
	}

	return Classification{AgentTags: []string{DefaultAgent}, Confidence: 0, Method: "default"}
}

func (c *Classifier) forcedTarget(req *agent.Request) string {
	raw, ok := req.Context[agent.ContextTargetAgent]
	if !ok {
		return ""
	}
	tag, ok := raw.(string)
	if !ok || tag == "" {
		return ""
	}
	if c.hasAgent != nil && !c.hasAgent(tag) {
		c.logger.Warn("ignoring unknown forced target", "target", tag)
		return ""
	}
	return tag
}

func isEmergency(query string) bool {
	lowered := strings.ToLower(query)
	for _, kw := range emergencyKeywords {
		if strings.Contains(lowered, kw) {
			return true
		}
	}
	return false
}

const classifyPrompt = `You classify questions from chronic kidney disease patients and researchers.
Respond with a JSON object: {"intents": [...], "confidence": 0..1, "is_emergency": bool, "reasoning": "..."}.
Allowed intents: medical_info, diet_info, health_record, welfare_info, research, learning, policy, chit_chat, non_medical, illegal_request.
Pick every intent the question touches, most relevant first.`

func (c *Classifier) classifyLLM(ctx context.Context, query string) (Classification, bool) {
	if c.llm == nil {
		return Classification{}, false
	}

	raw, _, err := c.llm.GenerateJSON(ctx, []llms.Message{
		{Role: llms.RoleSystem, Content: classifyPrompt},
		{Role: llms.RoleUser, Content: query},
	})
	if err != nil {
		c.logger.Warn("intent classification failed", "error", err)
		return Classification{}, false
	}

	var parsed llmClassification
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		c.logger.Warn("classifier returned invalid JSON", "error", err)
		return Classification{}, false
	}
	if len(parsed.Intents) == 0 {
		return Classification{}, false
	}

	tags := mapIntents(parsed.Intents)
	if len(tags) == 0 {
		return Classification{}, false
	}

	if parsed.IsEmergency {
		return Classification{
			AgentTags:   []string{DefaultAgent},
			Confidence:  parsed.Confidence,
			IsEmergency: true,
			Reasoning:   parsed.Reasoning,
			Method:      "llm",
		}, true
	}

	return Classification{
		AgentTags:  tags,
		Confidence: parsed.Confidence,
		Reasoning:  parsed.Reasoning,
		Method:     "llm",
	}, true
}

// mapIntents converts vocabulary intents to deduplicated agent tags,
// preserving order. Unknown intents are dropped.
func mapIntents(intents []string) []string {
	seen := make(map[string]struct{}, len(intents))
	tags := make([]string, 0, len(intents))
	for _, raw := range intents {
		tag, ok := intentAgents[Intent(strings.ToLower(strings.TrimSpace(raw)))]
		if !ok {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	return tags
}

func classifyKeywords(query string) (string, bool) {
	lowered := strings.ToLower(query)
	for _, rule := range keywordRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lowered, kw) {
				return rule.agentTag, true
			}
		}
	}
	return "", false
}

// ValidIntent reports whether a raw tag belongs to the vocabulary.
func ValidIntent(raw string) bool {
	_, ok := intentAgents[Intent(raw)]
	return ok
}
