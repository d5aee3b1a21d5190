package tools

import (
	"context"
	"errors"
	"time"

	"github.com/LifeContext/lifecontext-sub000/internal/capability"
	"github.com/LifeContext/lifecontext-sub000/internal/helpers"
)

type memoryHitView struct {
	Content  string `json:"content"`
	Kind     string `json:"memory_kind"`
	StoredAt string `json:"stored_at"`
}

type exchangeView struct {
	Query    string `json:"query"`
	Response string `json:"response"`
	When     string `json:"when"`
}

func (ts *toolset) memoryCapabilities() []capability.Capability {
	return []capability.Capability{
		{
			Name:        SearchMemory,
			Description: "Semantic search over everything remembered for the user: earlier context, saved pages and profile facts.",
			Params: []capability.Param{
				{Name: "query", Type: capability.TypeString, Required: true},
				{Name: "limit", Type: capability.TypeInteger, Description: "maximum results (default 5)"},
			},
			Mode: capability.ModeAsync,
			Handler: func(ctx context.Context, args capability.Args) (any, error) {
				session := capability.SessionID(ctx, args)
				if session == "" {
					return nil, errNoSession
				}
				hits, err := ts.deps.Memory.Search(ctx, session, args.String("query"), args.Int("limit", 5))
				if err != nil {
					return nil, err
				}
				out := make([]memoryHitView, 0, len(hits))
				for _, h := range hits {
					out = append(out, memoryHitView{
						Content:  h.Content,
						Kind:     h.Kind,
						StoredAt: h.CreatedAt.In(ts.deps.Location).Format(dueLayout),
					})
				}
				return out, nil
			},
		},
		{
			Name:        RememberPreference,
			Description: "Store a durable fact or preference the user asked you to remember.",
			Params: []capability.Param{
				{Name: "fact", Type: capability.TypeString, Required: true},
			},
			Mode: capability.ModeAsync,
			Handler: func(ctx context.Context, args capability.Args) (any, error) {
				session := capability.SessionID(ctx, args)
				if session == "" {
					return nil, errNoSession
				}
				fact := args.String("fact")
				if fact == "" {
					return nil, errors.New("fact required")
				}
				if err := ts.deps.Memory.RememberFact(ctx, session, fact); err != nil {
					return nil, err
				}
				return "remembered: " + fact, nil
			},
		},
	}
}

func (ts *toolset) conversationCapability() capability.Capability {
	return capability.Capability{
		Name:        GetRecentConversations,
		Description: "The user's most recent questions and the answers they got.",
		Params: []capability.Param{
			{Name: "limit", Type: capability.TypeInteger, Description: "maximum exchanges (default 5)"},
		},
		Mode: capability.ModeAsync,
		Handler: func(ctx context.Context, args capability.Args) (any, error) {
			session := capability.SessionID(ctx, args)
			if session == "" {
				return nil, errNoSession
			}
			recs, err := ts.deps.Conversations.Recent(ctx, session, args.Int("limit", 5))
			if err != nil {
				return nil, err
			}
			out := make([]exchangeView, 0, len(recs))
			for _, r := range recs {
				out = append(out, exchangeView{
					Query:    r.Query,
					Response: helpers.Preview(r.Response, 300),
					When:     r.CreatedAt.In(ts.deps.Location).Format(time.RFC3339),
				})
			}
			return out, nil
		},
	}
}

func (ts *toolset) timeCapability() capability.Capability {
	return capability.Capability{
		Name:        GetCurrentTime,
		Description: "Current local date, time and weekday.",
		Mode:        capability.ModeSync,
		Handler: func(ctx context.Context, args capability.Args) (any, error) {
			now := ts.now()
			return map[string]string{
				"date":     now.Format("2006-01-02"),
				"time":     now.Format("15:04"),
				"weekday":  now.Weekday().String(),
				"timezone": now.Location().String(),
			}, nil
		},
	}
}
