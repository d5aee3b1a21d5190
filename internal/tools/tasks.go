package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/LifeContext/lifecontext-sub000/internal/capability"
	"github.com/LifeContext/lifecontext-sub000/internal/store"
)

// maxOccurrences bounds how many instances one recurring task expands to.
const maxOccurrences = 14

const dueLayout = "2006-01-02 15:04"

type taskView struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Title     string `json:"title"`
	Notes     string `json:"notes,omitempty"`
	Due       string `json:"due,omitempty"`
	Day       string `json:"day,omitempty"`
	Recurring bool   `json:"recurring,omitempty"`
	Status    string `json:"status"`
}

type tipView struct {
	Title   string `json:"title,omitempty"`
	Content string `json:"content"`
}

func (ts *toolset) taskCapabilities() []capability.Capability {
	return []capability.Capability{
		{
			Name:        GetTasks,
			Description: "The user's tasks and calendar events in a time window, with recurring entries expanded. Use for schedule, agenda and to-do questions.",
			Params: []capability.Param{
				{Name: "range", Type: capability.TypeString, Description: "today, tomorrow, week or all (default today)"},
				{Name: "from", Type: capability.TypeString, Description: "window start, YYYY-MM-DD or RFC3339; overrides range"},
				{Name: "to", Type: capability.TypeString, Description: "window end, exclusive"},
				{Name: "status", Type: capability.TypeString, Description: "open or done"},
			},
			Mode:    capability.ModeAsync,
			Handler: ts.getTasks,
		},
		{
			Name:        CreateTask,
			Description: "Create a task or event for the user. Only use when the user explicitly asks to add something.",
			Params: []capability.Param{
				{Name: "title", Type: capability.TypeString, Required: true},
				{Name: "due", Type: capability.TypeString, Description: "YYYY-MM-DD HH:MM or RFC3339"},
				{Name: "notes", Type: capability.TypeString},
				{Name: "recurrence", Type: capability.TypeString, Description: "cron expression for repeating entries, e.g. \"0 9 * * MON-FRI\""},
			},
			Mode:    capability.ModeAsync,
			Handler: ts.createTask,
		},
		{
			Name:        CompleteTask,
			Description: "Mark one of the user's tasks as done, by id from get_tasks.",
			Params: []capability.Param{
				{Name: "task_id", Type: capability.TypeString, Required: true},
			},
			Mode:    capability.ModeAsync,
			Handler: ts.completeTask,
		},
		{
			Name:        GetTips,
			Description: "Tips and notes the user saved for themselves.",
			Params: []capability.Param{
				{Name: "limit", Type: capability.TypeInteger, Description: "maximum tips (default 5)"},
			},
			Mode:    capability.ModeAsync,
			Handler: ts.getTips,
		},
	}
}

func (ts *toolset) getTasks(ctx context.Context, args capability.Args) (any, error) {
	session := capability.SessionID(ctx, args)
	if session == "" {
		return nil, errNoSession
	}
	from, to, err := ts.window(args)
	if err != nil {
		return nil, err
	}
	recs, err := ts.deps.Tasks.ListTasks(ctx, session, store.TaskFilter{From: from, To: to, Status: args.String("status")})
	if err != nil {
		return nil, err
	}

	views := make([]taskView, 0, len(recs))
	for _, t := range recs {
		if t.Recurrence == "" {
			views = append(views, ts.view(t, t.DueAt))
			continue
		}
		winFrom, winTo := from, to
		if winFrom.IsZero() {
			winFrom = ts.now()
		}
		if winTo.IsZero() {
			winTo = winFrom.AddDate(0, 0, 7)
		}
		for _, at := range t.Occurrences(winFrom.In(ts.deps.Location), winTo, maxOccurrences) {
			at := at
			v := ts.view(t, &at)
			v.Recurring = true
			views = append(views, v)
		}
	}
	sort.SliceStable(views, func(i, j int) bool {
		switch {
		case views[i].Due == "":
			return false
		case views[j].Due == "":
			return true
		}
		return views[i].Due < views[j].Due
	})
	return views, nil
}

func (ts *toolset) createTask(ctx context.Context, args capability.Args) (any, error) {
	session := capability.SessionID(ctx, args)
	if session == "" {
		return nil, errNoSession
	}
	title := strings.TrimSpace(args.String("title"))
	if title == "" {
		return nil, errors.New("title required")
	}
	rec := store.TaskRecord{
		SessionID:  session,
		Title:      title,
		Notes:      args.String("notes"),
		Recurrence: strings.TrimSpace(args.String("recurrence")),
	}
	if due := strings.TrimSpace(args.String("due")); due != "" {
		at, err := ts.parseTime(due)
		if err != nil {
			return nil, fmt.Errorf("due: %w", err)
		}
		rec.DueAt = &at
	}
	created, err := ts.deps.Tasks.CreateTask(ctx, rec)
	if err != nil {
		return nil, err
	}
	v := ts.view(created, created.DueAt)
	v.Kind = "created_task"
	return v, nil
}

func (ts *toolset) completeTask(ctx context.Context, args capability.Args) (any, error) {
	session := capability.SessionID(ctx, args)
	if session == "" {
		return nil, errNoSession
	}
	id := strings.TrimSpace(args.String("task_id"))
	if id == "" {
		return nil, errors.New("task_id required")
	}
	if err := ts.deps.Tasks.CompleteTask(ctx, session, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("task %s not found", id)
		}
		return nil, err
	}
	return map[string]string{"id": id, "status": store.TaskStatusDone, "kind": "completed_task"}, nil
}

func (ts *toolset) getTips(ctx context.Context, args capability.Args) (any, error) {
	session := capability.SessionID(ctx, args)
	if session == "" {
		return nil, errNoSession
	}
	tips, err := ts.deps.Tasks.ListTips(ctx, session, args.Int("limit", 5))
	if err != nil {
		return nil, err
	}
	out := make([]tipView, 0, len(tips))
	for _, t := range tips {
		out = append(out, tipView{Title: t.Title, Content: t.Content})
	}
	return out, nil
}

func (ts *toolset) view(t store.TaskRecord, due *time.Time) taskView {
	v := taskView{ID: t.ID, Kind: "task", Title: t.Title, Notes: t.Notes, Status: t.Status}
	if due != nil {
		local := due.In(ts.deps.Location)
		v.Due = local.Format(dueLayout)
		v.Day = ts.relativeDay(local)
	}
	return v
}

func (ts *toolset) relativeDay(at time.Time) string {
	today := startOfDay(ts.now())
	switch d := startOfDay(at); {
	case d.Equal(today):
		return "today"
	case d.Equal(today.AddDate(0, 0, 1)):
		return "tomorrow"
	default:
		return at.Weekday().String()
	}
}

// window resolves the requested range into [from, to). Zero times mean
// unbounded.
func (ts *toolset) window(args capability.Args) (time.Time, time.Time, error) {
	if raw := strings.TrimSpace(args.String("from")); raw != "" {
		from, err := ts.parseTime(raw)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("from: %w", err)
		}
		to := from.AddDate(0, 0, 1)
		if rawTo := strings.TrimSpace(args.String("to")); rawTo != "" {
			if to, err = ts.parseTime(rawTo); err != nil {
				return time.Time{}, time.Time{}, fmt.Errorf("to: %w", err)
			}
		}
		return from, to, nil
	}
	today := startOfDay(ts.now())
	switch strings.ToLower(strings.TrimSpace(args.String("range"))) {
	case "", "today":
		return today, today.AddDate(0, 0, 1), nil
	case "tomorrow":
		return today.AddDate(0, 0, 1), today.AddDate(0, 0, 2), nil
	case "week":
		return today, today.AddDate(0, 0, 7), nil
	case "all":
		return time.Time{}, time.Time{}, nil
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("unknown range %q", args.String("range"))
	}
}

func (ts *toolset) parseTime(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	for _, layout := range []string{dueLayout, "2006-01-02T15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, raw, ts.deps.Location); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", raw)
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
