package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/LifeContext/lifecontext-sub000/config"
	agentcore "github.com/LifeContext/lifecontext-sub000/internal/agent/core"
	"github.com/LifeContext/lifecontext-sub000/internal/capability"
	"github.com/LifeContext/lifecontext-sub000/internal/conversation"
	"github.com/LifeContext/lifecontext-sub000/internal/memory/semantic"
	"github.com/LifeContext/lifecontext-sub000/internal/store"
	"github.com/LifeContext/lifecontext-sub000/internal/tools"
	"github.com/LifeContext/lifecontext-sub000/provider"
)

// app is the wired dependency graph shared by serve and ask.
type app struct {
	orch    *agentcore.Orchestrator
	tools   *capability.Registry
	closers []func()
}

func (a *app) Close() {
	if a.orch != nil {
		a.orch.Wait()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// buildApp connects every backend the config describes. Postgres, Redis
// and embeddings are optional: when one is unreachable the capabilities and
// memory that depend on it are left out and a warning is logged.
func buildApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	loc, err := time.LoadLocation(cfg.General.Timezone)
	if err != nil {
		return nil, fmt.Errorf("general.timezone: %w", err)
	}
	a := &app{}

	gen, embedder, err := provider.New(cfg.LLM)
	if err != nil {
		return nil, err
	}
	if gen == nil {
		logger.Warn("no text generation client configured; queries will fail with service unavailable")
	}

	deps := tools.Deps{Location: loc, Logger: logger}
	opts := agentcore.Options{
		LLM:         gen,
		Agents:      cfg.Agents,
		TaskSources: tools.TaskSources(),
		Logger:      logger,
		Now:         func() time.Time { return time.Now().In(loc) },
	}

	pgCtx, cancel := context.WithTimeout(ctx, timeoutOr(cfg.Storage.Postgres.Timeout, 5*time.Second))
	st, err := store.NewWithDSN(pgCtx, cfg.Storage.Postgres.DSN())
	cancel()
	if err != nil {
		logger.Warn("postgres unavailable; tasks, tips and memory disabled", zap.Error(err))
	} else {
		a.closers = append(a.closers, func() { _ = st.Close() })
		deps.Tasks = st
		if embedder != nil {
			mem, err := semantic.New(st, embedder, cfg.Memory, logger)
			if err != nil {
				logger.Warn("semantic memory disabled", zap.Error(err))
			} else {
				deps.Memory = mem
				opts.Memory = mem
			}
		} else {
			logger.Warn("no embedding client configured; semantic memory disabled")
		}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:        cfg.Storage.Redis.Addr(),
		Password:    cfg.Storage.Redis.Password,
		DB:          cfg.Storage.Redis.DB,
		DialTimeout: timeoutOr(cfg.Storage.Redis.Timeout, 5*time.Second),
	})
	pingCtx, cancel := context.WithTimeout(ctx, timeoutOr(cfg.Storage.Redis.Timeout, 5*time.Second))
	err = rdb.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		logger.Warn("redis unavailable; conversation history disabled", zap.String("addr", cfg.Storage.Redis.Addr()), zap.Error(err))
		_ = rdb.Close()
	} else {
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		conv := conversation.NewStore(rdb, cfg.Storage.Redis.ConversationTTL, cfg.Storage.Redis.MaxRecords, logger)
		deps.Conversations = conv
		opts.Conversations = conv
	}

	reg := capability.NewRegistry(capability.Options{
		PoolSize:       cfg.Agents.WorkerPoolSize,
		DefaultTimeout: cfg.Agents.ToolTimeout,
		Logger:         logger,
	})
	a.closers = append(a.closers, reg.Close)
	if err := tools.Register(reg, deps); err != nil {
		a.Close()
		return nil, fmt.Errorf("register capabilities: %w", err)
	}
	reg.Seal()
	logger.Info("capabilities registered", zap.Strings("names", reg.Names()))

	a.tools = reg
	opts.Tools = reg
	a.orch = agentcore.NewOrchestrator(opts)
	return a, nil
}

func timeoutOr(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}
