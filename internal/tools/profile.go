package tools

import (
	"context"

	"go.uber.org/zap"

	"github.com/LifeContext/lifecontext-sub000/internal/capability"
	"github.com/LifeContext/lifecontext-sub000/internal/helpers"
)

type profileView struct {
	SessionID    string   `json:"session_id"`
	Facts        []string `json:"facts"`
	Related      []string `json:"related,omitempty"`
	RecentTopics []string `json:"recent_topics,omitempty"`
	CurrentPage  string   `json:"current_page,omitempty"`
	Note         string   `json:"note,omitempty"`
}

func (ts *toolset) profileCapability() capability.Capability {
	return capability.Capability{
		Name:        GetUserProfile,
		Description: "Baseline facts about the user: stored preferences, facts related to the question, recent conversation topics and the page they are viewing.",
		Params: []capability.Param{
			{Name: "query", Type: capability.TypeString, Required: true, Description: "the user's question"},
			{Name: "session_id", Type: capability.TypeString, Description: "session to look up"},
			{Name: "page_url", Type: capability.TypeString, Description: "page the user is viewing"},
		},
		Mode:    capability.ModeAsync,
		Handler: ts.profile,
	}
}

// profile degrades per backend: a failing lookup is logged and the rest of
// the profile is still returned.
func (ts *toolset) profile(ctx context.Context, args capability.Args) (any, error) {
	session := capability.SessionID(ctx, args)
	if session == "" {
		return nil, errNoSession
	}
	view := profileView{SessionID: session, Facts: []string{}, CurrentPage: args.String("page_url")}
	if ts.deps.Memory != nil {
		p, err := ts.deps.Memory.Profile(ctx, session, args.String("query"))
		if err != nil {
			ts.logger.Warn("profile lookup failed", zap.String("session", session), zap.Error(err))
		} else {
			view.Facts = append(view.Facts, p.Facts...)
			view.Related = p.Related
		}
	}
	if ts.deps.Conversations != nil {
		recs, err := ts.deps.Conversations.Recent(ctx, session, 3)
		if err != nil {
			ts.logger.Warn("recent conversations lookup failed", zap.String("session", session), zap.Error(err))
		}
		for _, r := range recs {
			view.RecentTopics = append(view.RecentTopics, helpers.Preview(r.Query, 120))
		}
	}
	if len(view.Facts) == 0 && len(view.Related) == 0 && len(view.RecentTopics) == 0 {
		view.Note = "no profile information stored yet"
	}
	return view, nil
}
