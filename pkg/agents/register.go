package agents

import (
	"fmt"

	"github.com/renalworks/nefro/pkg/agent"
	"github.com/renalworks/nefro/pkg/config"
	"github.com/renalworks/nefro/pkg/docstore"
	"github.com/renalworks/nefro/pkg/litapi"
	"github.com/renalworks/nefro/pkg/llms"
	"github.com/renalworks/nefro/pkg/remote"
	"github.com/renalworks/nefro/pkg/retrieval"
	"github.com/renalworks/nefro/pkg/router"
)

// Deps carries everything the local agents need.
type Deps struct {
	Engine     *retrieval.Engine
	Store      docstore.Store
	LLM        llms.Provider
	Literature *litapi.Client
}

// RegisterAll wires the local specialists, the configured remote agents
// and finally the router into the registry. Called once at startup.
func RegisterAll(reg *agent.Registry, deps Deps, cfg *config.Config) error {
	locals := []struct {
		tag  string
		ctor agent.Constructor
	}{
		{"nutrition", func() (agent.Agent, error) {
			return NewNutritionAgent(deps.Engine, deps.LLM), nil
		}},
		{"medical_welfare", func() (agent.Agent, error) {
			return NewWelfareAgent(deps.Engine, deps.LLM), nil
		}},
		{"research_paper", func() (agent.Agent, error) {
			return NewResearchAgent(deps.Engine, deps.LLM, deps.Literature), nil
		}},
		{"quiz", func() (agent.Agent, error) {
			return NewQuizAgent(deps.LLM), nil
		}},
		{"trend_visualization", func() (agent.Agent, error) {
			return NewTrendAgent(deps.Store, deps.LLM), nil
		}},
	}

	for _, l := range locals {
		a, err := l.ctor()
		if err != nil {
			return err
		}
		if err := reg.RegisterType(l.tag, a.Metadata(), l.ctor); err != nil {
			return fmt.Errorf("failed to register %s: %w", l.tag, err)
		}
	}

	// Remote adapters are stateful (circuit, offsets); one instance per
	// server is shared across requests.
	for name, remoteCfg := range cfg.RemoteAgents {
		adapter := remote.NewAdapter(name,
			fmt.Sprintf("Remote agent at %s", remoteCfg.BaseURL), remoteCfg)
		ctor := func() (agent.Agent, error) { return adapter, nil }
		if err := reg.RegisterType(name, adapter.Metadata(), ctor); err != nil {
			return fmt.Errorf("failed to register remote agent %s: %w", name, err)
		}
	}

	rt := router.New(reg, deps.LLM, cfg.Session.SynthesisOverhead)
	if err := reg.RegisterType("router", rt.Metadata(),
		func() (agent.Agent, error) { return rt, nil }); err != nil {
		return fmt.Errorf("failed to register router: %w", err)
	}
	return nil
}
