// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package triage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/AleutianTriage/pkg/logging"
	"github.com/AleutianAI/AleutianTriage/services/triage/agent"
	"github.com/AleutianAI/AleutianTriage/services/triage/config"
	"github.com/AleutianAI/AleutianTriage/services/triage/expand"
	"github.com/AleutianAI/AleutianTriage/services/triage/llm"
	"github.com/AleutianAI/AleutianTriage/services/triage/prompts"
	"github.com/AleutianAI/AleutianTriage/services/triage/retrieval"
	"github.com/AleutianAI/AleutianTriage/services/triage/sparse"
	"github.com/AleutianAI/AleutianTriage/services/triage/stores/mongodb"
	"github.com/AleutianAI/AleutianTriage/services/triage/stores/postgres"
	"github.com/AleutianAI/AleutianTriage/services/triage/tools"
	"github.com/AleutianAI/AleutianTriage/services/triage/verify"
	"github.com/AleutianAI/AleutianTriage/services/triage/weaviate"
	"github.com/AleutianAI/AleutianTriage/services/triage/web"
)

// stack holds every wired component for one CLI invocation.
//
// Optional backends that failed to connect are nil; the consumers all
// degrade per component (fewer retrieval sources, fewer tools, an
// in-memory review queue).
type stack struct {
	cfg    *config.Config
	log    *logging.Logger
	slog   *slog.Logger
	llm    *llm.OpenAIClient
	dense  *weaviate.Client
	sparse *sparse.Client
	mongo  *mongodb.Client
	pg     *postgres.Client
	hitl   *postgres.HITLQueue
	web    *web.Client
	agent  *agent.Agent
}

// buildStack wires the full analysis pipeline from config. The LLM
// client is the only hard requirement; every store is optional.
func buildStack(ctx context.Context, cfg *config.Config) (*stack, error) {
	log := logging.New(logging.Config{
		Level:   parseLevel(cfg.Service.LogLevel),
		LogDir:  cfg.Service.LogDir,
		Service: cfg.Service.Name,
	})
	logger := log.Slog()

	llmClient, err := llm.NewOpenAIClient(llm.OpenAIConfig{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.Model,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
	}, logger)
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("llm client: %w", err)
	}

	s := &stack{cfg: cfg, log: log, slog: logger, llm: llmClient}
	s.connectStores(ctx)

	retriever := s.buildRetriever()
	verifier := s.buildVerifier()
	registry, executor := s.buildTools()

	var fetcher prompts.Fetcher
	if s.dense != nil {
		fetcher = s.dense
	}
	store := prompts.NewStore(fetcher, cfg.Caches.TemplateTTL, logger)

	ag, err := agent.New(llmClient, store, registry, executor, retriever, verifier,
		agent.Config{
			MaxIterations:    cfg.Agent.MaxIterations,
			ConfidenceTarget: cfg.Agent.ConfidenceTarget,
		}, logger)
	if err != nil {
		s.Close(ctx)
		return nil, err
	}
	s.agent = ag
	return s, nil
}

// connectStores attaches every configured backend, degrading on
// failure rather than aborting.
func (s *stack) connectStores(ctx context.Context) {
	cfg := s.cfg

	dense, err := weaviate.NewClient(weaviate.Config{
		Scheme:     cfg.Dense.Scheme,
		Host:       cfg.Dense.Host,
		DocsClass:  cfg.Dense.DocsClass,
		CasesClass: cfg.Dense.CasesClass,
		Timeout:    cfg.Dense.Timeout,
	}, s.llm, s.slog)
	if err != nil {
		s.slog.Warn("vector store unavailable, dense retrieval disabled", "error", err)
	} else {
		s.dense = dense
	}

	sparseClient, err := sparse.NewClient(cfg.Sparse.IndexPath, cfg.Sparse.Watch, s.slog)
	if err != nil {
		s.slog.Warn("sparse artefact unavailable, BM25 retrieval disabled",
			"path", cfg.Sparse.IndexPath, "error", err)
	} else {
		s.sparse = sparseClient
	}

	if cfg.Mongo.URI != "" {
		mongo, err := mongodb.NewClient(ctx, mongodb.Config{
			URI:        cfg.Mongo.URI,
			Database:   cfg.Mongo.Database,
			Collection: cfg.Mongo.Collection,
			Timeout:    cfg.Mongo.Timeout,
		}, s.slog)
		if err != nil {
			s.slog.Warn("operational store unavailable, log tools disabled", "error", err)
		} else {
			s.mongo = mongo
		}
	}

	if cfg.Postgres.DSN != "" {
		pg, err := postgres.NewClient(ctx, postgres.Config{
			DSN:     cfg.Postgres.DSN,
			Timeout: cfg.Postgres.Timeout,
		}, s.slog)
		if err != nil {
			s.slog.Warn("relational store unavailable, history tools disabled", "error", err)
		} else {
			s.pg = pg
		}
	}

	s.hitl = postgres.NewHITLQueue(s.pg, cfg.HITL.SLAHours, s.slog)
	s.web = web.NewClient(web.Config{
		Provider:     cfg.Web.Provider,
		GoogleAPIKey: cfg.Web.GoogleAPIKey,
		GoogleCSEID:  cfg.Web.GoogleCSEID,
		BingAPIKey:   cfg.Web.BingAPIKey,
		MaxResults:   cfg.Web.MaxResults,
		Timeout:      cfg.Web.Timeout,
	}, s.slog)
}

// buildRetriever assembles the fusion retriever over every connected
// source. Returns nil when no source at all is available.
func (s *stack) buildRetriever() agent.Retriever {
	var sources []retrieval.Source
	if s.dense != nil {
		sources = append(sources, retrieval.NewDenseSource(s.dense))
	}
	if s.sparse != nil {
		sources = append(sources, retrieval.NewSparseSource(s.sparse))
	}
	if s.mongo != nil {
		sources = append(sources, retrieval.NewMongoSource(s.mongo))
	}
	if s.pg != nil {
		sources = append(sources, retrieval.NewRelationalSource(s.pg))
	}

	var reranker retrieval.Reranker
	if s.cfg.Retrieval.EnableRerank {
		reranker = retrieval.NewHTTPReranker(
			s.cfg.Retrieval.RerankURL,
			s.cfg.Retrieval.RerankModel,
			s.cfg.Dense.Timeout,
			s.slog)
	}

	fusion, err := retrieval.NewFusion(sources,
		expand.NewExpander(s.cfg.Retrieval.MaxVariations),
		reranker,
		retrieval.Config{
			RRFK:      s.cfg.Retrieval.RRFK,
			RetrieveK: s.cfg.Retrieval.RetrieveK,
			TopK:      s.cfg.Retrieval.TopK,
			Workers:   s.cfg.Retrieval.Workers,
		}, s.slog)
	if err != nil {
		s.slog.Warn("fused retrieval disabled", "error", err)
		return nil
	}
	return fusion
}

// buildVerifier wires the web searcher, the self-corrector, and the
// review queue into the confidence-band router.
func (s *stack) buildVerifier() *verify.Verifier {
	var corrector *verify.Corrector
	if s.dense != nil {
		corrector = verify.NewCorrector(s.dense, s.cfg.Verify.MaxCorrectionAttempts, s.slog)
	}

	return verify.NewVerifier(s.hitl, corrector, s.web, verify.Config{
		Weights:    s.cfg.Verify.Weights,
		Thresholds: s.cfg.Verify.Thresholds,
	}, s.slog)
}

// buildTools registers every tool backed by a live client.
func (s *stack) buildTools() (*tools.Registry, *tools.Executor) {
	var source tools.CategorySource
	if s.dense != nil {
		source = s.dense
	}
	registry := tools.NewRegistry(source, s.cfg.Caches.CategoryTTL, s.slog)

	var impls []tools.Tool
	if s.dense != nil {
		impls = append(impls,
			&tools.KnowledgeSearchTool{Index: s.dense},
			&tools.CaseSearchTool{Index: s.dense})
	}
	if s.mongo != nil {
		impls = append(impls,
			&tools.MongoLogsTool{Store: s.mongo},
			&tools.MongoFailuresTool{Store: s.mongo})
	}
	if s.pg != nil {
		impls = append(impls,
			&tools.PostgresHistoryTool{Store: s.pg},
			&tools.PostgresSimilarTool{Store: s.pg})
	}
	if s.cfg.GitHub.Owner != "" && s.cfg.GitHub.Repo != "" {
		gh := tools.NewGitHubClient(tools.GitHubConfig{
			Token:   s.cfg.GitHub.Token,
			Owner:   s.cfg.GitHub.Owner,
			Repo:    s.cfg.GitHub.Repo,
			BaseURL: s.cfg.GitHub.BaseURL,
			Timeout: s.cfg.GitHub.Timeout,
		}, s.slog)
		impls = append(impls,
			&tools.GithubGetFileTool{Client: gh},
			&tools.GithubSearchCodeTool{Client: gh},
			&tools.GithubListFilesTool{Client: gh})
	}
	impls = append(impls,
		&tools.LLMCodeAnalysisTool{Client: s.llm},
		&tools.LLMExplainTool{Client: s.llm},
		&tools.WebSearchTool{Searcher: s.web})

	policy := tools.RetryPolicy{
		MaxRetries:  s.cfg.Agent.MaxRetries,
		BackoffBase: s.cfg.Agent.RetryBackoffBase,
	}
	return registry, tools.NewExecutor(registry, impls, policy, s.slog)
}

// Close releases every held resource. Errors are logged, not returned;
// the CLI is exiting either way.
func (s *stack) Close(ctx context.Context) {
	if s.sparse != nil {
		if err := s.sparse.Close(); err != nil {
			s.slog.Warn("closing sparse client", "error", err)
		}
	}
	if s.mongo != nil {
		if err := s.mongo.Close(ctx); err != nil {
			s.slog.Warn("closing operational store", "error", err)
		}
	}
	if s.pg != nil {
		if err := s.pg.Close(); err != nil {
			s.slog.Warn("closing relational store", "error", err)
		}
	}
	s.log.Close()
}

func parseLevel(name string) logging.Level {
	switch name {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}
