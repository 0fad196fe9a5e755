package agents

import (
	"github.com/renalworks/nefro/pkg/llms"
	"github.com/renalworks/nefro/pkg/retrieval"
)

const welfareSystem = `You are a medical-welfare assistant for chronic kidney disease patients in Korea.
Answer in the user's language using the reference material about welfare programs, subsidies, insurance coverage and support services.
Include eligibility conditions and where to apply when the material provides them.`

// NewWelfareAgent answers welfare and benefit questions from the welfare
// programs collection.
func NewWelfareAgent(engine *retrieval.Engine, llm llms.Provider) *KnowledgeAgent {
	return NewKnowledgeAgent(
		"medical_welfare",
		"Welfare programs, subsidies and support services",
		"welfare_programs",
		welfareSystem,
		engine, llm,
	)
}
