// Package tools registers the built-in LifeContext capabilities.
package tools

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/LifeContext/lifecontext-sub000/internal/capability"
	"github.com/LifeContext/lifecontext-sub000/internal/conversation"
	"github.com/LifeContext/lifecontext-sub000/internal/memory/semantic"
	"github.com/LifeContext/lifecontext-sub000/internal/store"
)

// Capability names.
const (
	GetUserProfile         = "get_user_profile"
	GetTasks               = "get_tasks"
	CreateTask             = "create_task"
	CompleteTask           = "complete_task"
	GetTips                = "get_tips"
	SearchMemory           = "search_memory"
	RememberPreference     = "remember_preference"
	GetRecentConversations = "get_recent_conversations"
	GetCurrentTime         = "get_current_time"
)

// TaskStore is the relational store behind the task and tip capabilities.
type TaskStore interface {
	CreateTask(ctx context.Context, rec store.TaskRecord) (store.TaskRecord, error)
	ListTasks(ctx context.Context, sessionID string, f store.TaskFilter) ([]store.TaskRecord, error)
	CompleteTask(ctx context.Context, sessionID, id string) error
	ListTips(ctx context.Context, sessionID string, limit int) ([]store.TipRecord, error)
}

// MemoryAPI is the semantic memory behind profile and search capabilities.
type MemoryAPI interface {
	Profile(ctx context.Context, sessionID, query string) (semantic.Profile, error)
	Search(ctx context.Context, sessionID, query string, topK int) ([]store.MemoryHit, error)
	RememberFact(ctx context.Context, sessionID, fact string) error
}

// ConversationAPI reads recent exchanges.
type ConversationAPI interface {
	Recent(ctx context.Context, sessionID string, n int) ([]conversation.Record, error)
}

// Deps are the backends capabilities run against. Nil backends leave their
// capabilities unregistered, except the baseline profile which always exists.
type Deps struct {
	Tasks         TaskStore
	Memory        MemoryAPI
	Conversations ConversationAPI
	Location      *time.Location
	Now           func() time.Time
	Logger        *zap.Logger
}

var errNoSession = errors.New("session_id required")

type toolset struct {
	deps   Deps
	logger *zap.Logger
}

// Register adds every capability the deps support to reg.
func Register(reg *capability.Registry, deps Deps) error {
	if deps.Location == nil {
		deps.Location = time.Local
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	ts := &toolset{deps: deps, logger: deps.Logger.Named("tools")}

	caps := []capability.Capability{ts.profileCapability(), ts.timeCapability()}
	if deps.Tasks != nil {
		caps = append(caps, ts.taskCapabilities()...)
	}
	if deps.Memory != nil {
		caps = append(caps, ts.memoryCapabilities()...)
	}
	if deps.Conversations != nil {
		caps = append(caps, ts.conversationCapability())
	}
	for _, c := range caps {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// TaskSources names the capabilities whose output lists existing tasks.
func TaskSources() []string { return []string{GetTasks} }

func (ts *toolset) now() time.Time { return ts.deps.Now().In(ts.deps.Location) }
