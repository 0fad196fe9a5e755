package agents

import (
	"github.com/renalworks/nefro/pkg/llms"
	"github.com/renalworks/nefro/pkg/retrieval"
)

const nutritionSystem = `You are a renal-diet assistant for chronic kidney disease patients.
Answer in the user's language using the reference material. Pay attention to potassium, sodium, phosphorus and protein restrictions appropriate to CKD stages.
When the material does not cover the question, say so instead of guessing, and recommend consulting a renal dietitian.`

// NewNutritionAgent answers diet and food questions from the nutrition
// collection.
func NewNutritionAgent(engine *retrieval.Engine, llm llms.Provider) *KnowledgeAgent {
	return NewKnowledgeAgent(
		"nutrition",
		"Renal diet and nutrition guidance",
		"nutrition",
		nutritionSystem,
		engine, llm,
	)
}
