package agents

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/renalworks/nefro/pkg/agent"
	"github.com/renalworks/nefro/pkg/litapi"
	"github.com/renalworks/nefro/pkg/llms"
	"github.com/renalworks/nefro/pkg/retrieval"
)

const researchSystem = `You are a medical-information assistant for chronic kidney disease.
Answer in the user's language using the reference material from curated medical Q&A.
Be precise about evidence quality and never give a definitive diagnosis; advise seeing a nephrologist for individual decisions.`

const paperLimit = 5

// ResearchAgent answers medical questions from the curated Q&A collection
// and attaches recent literature from PubMed.
type ResearchAgent struct {
	*KnowledgeAgent
	literature *litapi.Client
}

func NewResearchAgent(engine *retrieval.Engine, llm llms.Provider, literature *litapi.Client) *ResearchAgent {
	return &ResearchAgent{
		KnowledgeAgent: NewKnowledgeAgent(
			"research_paper",
			"Medical information and recent research literature",
			"medical_qa",
			researchSystem,
			engine, llm,
		),
		literature: literature,
	}
}

// Process runs the knowledge answer and the literature search concurrently.
// A literature failure only costs the paper list.
func (a *ResearchAgent) Process(ctx context.Context, req *agent.Request) (*agent.Response, error) {
	var (
		resp   *agent.Response
		papers []litapi.Paper
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		resp, err = a.KnowledgeAgent.Process(gctx, req)
		return err
	})
	g.Go(func() error {
		found, err := a.literature.Search(gctx, req.Query, paperLimit)
		if err != nil {
			a.logger.Warn("literature search failed", "error", err)
			return nil
		}
		papers = found
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	resp.Papers = paperRefs(papers)
	return resp, nil
}

func paperRefs(papers []litapi.Paper) []agent.PaperRef {
	refs := make([]agent.PaperRef, 0, len(papers))
	for _, p := range papers {
		refs = append(refs, agent.PaperRef{
			ID:      p.ID,
			Title:   p.Title,
			Journal: p.Journal,
			Year:    p.Year,
			URL:     p.URL,
		})
	}
	return refs
}
