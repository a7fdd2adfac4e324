package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	omniforge "github.com/omniforge/omniforge"
	"github.com/omniforge/omniforge/internal/config"
	"github.com/omniforge/omniforge/oauth"
	"github.com/omniforge/omniforge/observer"
	"github.com/omniforge/omniforge/provider/resolve"
	"github.com/omniforge/omniforge/skill"
	"github.com/omniforge/omniforge/store/postgres"
	"github.com/omniforge/omniforge/store/sqlite"
	"github.com/omniforge/omniforge/tools/file"
	httptool "github.com/omniforge/omniforge/tools/http"
	"github.com/omniforge/omniforge/tools/shell"
)

// app wires the runtime together from config: store, provider, skills, tool
// registry, task manager. Commands build what they need from it.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	store    omniforge.Store
	provider omniforge.Provider
	tools    *omniforge.ToolRegistry
	agents   *omniforge.AgentRegistry
	skills   *skill.Loader
	manager  *omniforge.TaskManager
	chains   *omniforge.ChainRegistry
	tracer   omniforge.Tracer
	costs    omniforge.CostTracker
	oauthMgr *oauth.Manager

	pool     *pgxpool.Pool
	shutdown func(context.Context) error
}

func newApp(ctx context.Context, configPath string, debug bool) (*app, error) {
	cfg := config.Load(configPath)

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	a := &app{
		cfg:    cfg,
		logger: logger,
		tools:  omniforge.NewToolRegistry(),
		agents: omniforge.NewAgentRegistry(),
		chains: omniforge.NewChainRegistry(),
	}

	// Store
	switch cfg.Database.Driver {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Database.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.pool = pool
		a.store = postgres.New(pool)
	default:
		a.store = sqlite.New(cfg.Database.Path, sqlite.WithLogger(logger))
	}
	if err := a.store.Init(ctx); err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	// Observability
	if cfg.Observer.Enabled {
		pricing := make(map[string]observer.ModelPricing, len(cfg.Observer.Pricing))
		for model, p := range cfg.Observer.Pricing {
			pricing[model] = observer.ModelPricing{InputPerMillion: p.Input, OutputPerMillion: p.Output}
		}
		inst, shutdown, err := observer.Init(ctx, pricing)
		if err != nil {
			return nil, fmt.Errorf("init observer: %w", err)
		}
		a.shutdown = shutdown
		a.tracer = observer.NewTracer()
		a.costs = observer.NewCostTracker(inst)
	}

	// Provider
	p, err := resolve.Provider(resolve.Config{
		Provider: cfg.LLM.Provider,
		APIKey:   cfg.LLM.APIKey,
		BaseURL:  cfg.LLM.BaseURL,
	})
	if err != nil {
		return nil, err
	}
	a.provider = p

	// Skills
	a.skills = skill.NewLoader(
		cfg.Skills.ProjectDir,
		cfg.Skills.PersonalDir,
		cfg.Skills.EnterpriseDir,
		skill.WithLogger(logger),
	)

	// Builtin tools
	a.tools.Register(file.NewReadTool(cfg.Agent.WorkspacePath))
	a.tools.Register(file.NewWriteTool(cfg.Agent.WorkspacePath))
	a.tools.Register(shell.New(cfg.Agent.WorkspacePath, 30))
	a.tools.Register(httptool.New())
	a.tools.Register(skill.NewSkillTool(a.skills))

	// OAuth
	if key := cfg.OAuth.EncryptionKey; key != "" {
		raw, err := decodeKey(key)
		if err != nil {
			return nil, fmt.Errorf("oauth key: %w", err)
		}
		cipher, err := oauth.NewAESCipher(raw)
		if err != nil {
			return nil, fmt.Errorf("oauth cipher: %w", err)
		}
		integrations := make([]oauth.IntegrationConfig, 0, len(cfg.OAuth.Integrations))
		for _, ic := range cfg.OAuth.Integrations {
			integrations = append(integrations, oauth.IntegrationConfig{
				Name:         ic.Name,
				ClientID:     ic.ClientID,
				ClientSecret: ic.ClientSecret,
				AuthURL:      ic.AuthURL,
				TokenURL:     ic.TokenURL,
				RedirectURL:  ic.RedirectURL,
				Scopes:       ic.Scopes,
			})
		}
		creds, states := oauthStores(a.store)
		a.oauthMgr = oauth.NewManager(integrations, creds, states, cipher, oauth.WithLogger(logger))
	}

	a.manager = omniforge.NewTaskManager(a.store, a.agents, omniforge.WithManagerLogger(logger))
	return a, nil
}

// oauthStores returns the store's oauth interfaces. Both backends implement
// them on the same Store type.
func oauthStores(s omniforge.Store) (oauth.CredentialStore, oauth.StateStore) {
	creds, _ := s.(oauth.CredentialStore)
	states, _ := s.(oauth.StateStore)
	return creds, states
}

// decodeKey accepts a 64-char hex key or a raw 32-byte string.
func decodeKey(key string) ([]byte, error) {
	if len(key) == 64 {
		if raw, err := hex.DecodeString(key); err == nil {
			return raw, nil
		}
	}
	if len(key) == 32 {
		return []byte(key), nil
	}
	return nil, fmt.Errorf("must be 32 bytes (or 64 hex chars), got %d", len(key))
}

// buildAgent constructs a runnable ReAct agent from a stored card, attaching
// the requested skill when one is named.
func (a *app) buildAgent(ctx context.Context, card omniforge.AgentCard, skillName string) (omniforge.Agent, error) {
	opts := []omniforge.ReActOption{
		omniforge.WithMaxIterations(a.cfg.Agent.MaxIterations),
		omniforge.WithChainRegistry(a.chains),
		omniforge.WithAgentLogger(a.logger),
		omniforge.WithGuards(omniforge.NewInjectionGuard(omniforge.InjectionLogger(a.logger))),
	}
	if card.Model == "" {
		opts = append(opts, omniforge.WithModel(a.cfg.LLM.DefaultModel))
	}
	if a.tracer != nil {
		opts = append(opts, omniforge.WithAgentTracer(a.tracer))
	}
	if a.costs != nil {
		opts = append(opts, omniforge.WithAgentCostTracker(a.costs))
	}
	if skillName != "" {
		if err := a.skills.LoadAll(); err != nil {
			return nil, err
		}
		s, err := a.skills.Get(skillName)
		if err != nil {
			return nil, err
		}
		prepared, err := a.prepareSkill(ctx, s)
		if err != nil {
			return nil, err
		}
		opts = append(opts, omniforge.WithSkill(prepared))
	}

	agent := omniforge.NewReActAgent(card, a.provider, a.tools, opts...)
	a.agents.Register(agent)
	return agent, nil
}

// prepareSkill runs variable substitution and command injection on the skill
// body before it is handed to the agent.
func (a *app) prepareSkill(ctx context.Context, s *omniforge.Skill) (*omniforge.Skill, error) {
	sub := skill.NewSubstitutor(skill.SubstitutionContext{
		SkillDir:  s.BasePath,
		Workspace: a.cfg.Agent.WorkspacePath,
	}, a.logger)
	body := sub.Substitute(s.Content)

	inj := skill.NewInjector(s.Metadata.AllowedTools, skill.WithInjectorLogger(a.logger))
	body = inj.Process(ctx, body)

	prepared := *s
	prepared.Content = body
	return &prepared, nil
}

func (a *app) close(ctx context.Context) {
	if a.shutdown != nil {
		if err := a.shutdown(ctx); err != nil {
			a.logger.Warn("observer shutdown", "error", err)
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("store close", "error", err)
	}
}
