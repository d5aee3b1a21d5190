package tools

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/LifeContext/lifecontext-sub000/internal/capability"
	"github.com/LifeContext/lifecontext-sub000/internal/conversation"
	"github.com/LifeContext/lifecontext-sub000/internal/memory/semantic"
	"github.com/LifeContext/lifecontext-sub000/internal/store"
)

// Monday 2026-03-02 08:00 UTC.
var fixedNow = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

type fakeTasks struct {
	tasks      []store.TaskRecord
	tips       []store.TipRecord
	created    []store.TaskRecord
	completed  []string
	lastFilter store.TaskFilter
	err        error
}

func (f *fakeTasks) CreateTask(ctx context.Context, rec store.TaskRecord) (store.TaskRecord, error) {
	if f.err != nil {
		return store.TaskRecord{}, f.err
	}
	rec.ID = "t-new"
	rec.Status = store.TaskStatusOpen
	f.created = append(f.created, rec)
	return rec, nil
}

func (f *fakeTasks) ListTasks(ctx context.Context, sessionID string, filter store.TaskFilter) ([]store.TaskRecord, error) {
	f.lastFilter = filter
	return f.tasks, f.err
}

func (f *fakeTasks) CompleteTask(ctx context.Context, sessionID, id string) error {
	if id == "missing" {
		return store.ErrNotFound
	}
	f.completed = append(f.completed, id)
	return nil
}

func (f *fakeTasks) ListTips(ctx context.Context, sessionID string, limit int) ([]store.TipRecord, error) {
	if limit < len(f.tips) {
		return f.tips[:limit], nil
	}
	return f.tips, nil
}

type fakeMemory struct {
	profile semantic.Profile
	hits    []store.MemoryHit
	facts   []string
	err     error
}

func (f *fakeMemory) Profile(ctx context.Context, sessionID, query string) (semantic.Profile, error) {
	return f.profile, f.err
}

func (f *fakeMemory) Search(ctx context.Context, sessionID, query string, topK int) ([]store.MemoryHit, error) {
	return f.hits, f.err
}

func (f *fakeMemory) RememberFact(ctx context.Context, sessionID, fact string) error {
	f.facts = append(f.facts, fact)
	return f.err
}

type fakeConversations struct {
	recs []conversation.Record
}

func (f *fakeConversations) Recent(ctx context.Context, sessionID string, n int) ([]conversation.Record, error) {
	if n < len(f.recs) {
		return f.recs[:n], nil
	}
	return f.recs, nil
}

func newRegistry(t *testing.T, deps Deps) (*capability.Registry, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	deps.Logger = zap.New(core)
	deps.Location = time.UTC
	deps.Now = func() time.Time { return fixedNow }
	reg := capability.NewRegistry(capability.Options{Logger: deps.Logger})
	t.Cleanup(reg.Close)
	require.NoError(t, Register(reg, deps))
	reg.Seal()
	return reg, logs
}

func sessionCtx() context.Context {
	return capability.WithSession(context.Background(), "s1")
}

func TestRegisterOnlyAddsSupportedCapabilities(t *testing.T) {
	reg, _ := newRegistry(t, Deps{})
	assert.ElementsMatch(t, []string{GetUserProfile, GetCurrentTime}, reg.Names())

	full, _ := newRegistry(t, Deps{Tasks: &fakeTasks{}, Memory: &fakeMemory{}, Conversations: &fakeConversations{}})
	assert.ElementsMatch(t, []string{
		GetUserProfile, GetCurrentTime, GetTasks, CreateTask, CompleteTask, GetTips,
		SearchMemory, RememberPreference, GetRecentConversations,
	}, full.Names())
}

func TestProfileCombinesMemoryConversationsAndPage(t *testing.T) {
	mem := &fakeMemory{profile: semantic.Profile{Facts: []string{"prefers mornings"}, Related: []string{"gym on fridays"}}}
	conv := &fakeConversations{recs: []conversation.Record{{Query: "q3"}, {Query: "q2"}, {Query: "q1"}, {Query: "q0"}}}
	reg, _ := newRegistry(t, Deps{Memory: mem, Conversations: conv})

	v, err := reg.Invoke(sessionCtx(), GetUserProfile, capability.Args{"query": "plan my week", "page_url": "https://example.com"})
	require.NoError(t, err)
	p := v.(profileView)
	assert.Equal(t, "s1", p.SessionID)
	assert.Equal(t, []string{"prefers mornings"}, p.Facts)
	assert.Equal(t, []string{"gym on fridays"}, p.Related)
	assert.Equal(t, []string{"q3", "q2", "q1"}, p.RecentTopics)
	assert.Equal(t, "https://example.com", p.CurrentPage)
	assert.Empty(t, p.Note)
}

func TestProfileDegradesWhenMemoryFails(t *testing.T) {
	reg, logs := newRegistry(t, Deps{Memory: &fakeMemory{err: errors.New("db down")}})
	v, err := reg.Invoke(sessionCtx(), GetUserProfile, capability.Args{"query": "hi"})
	require.NoError(t, err)
	p := v.(profileView)
	assert.Empty(t, p.Facts)
	assert.NotEmpty(t, p.Note)
	assert.Equal(t, 1, logs.FilterMessage("profile lookup failed").Len())
}

func TestProfileRequiresSession(t *testing.T) {
	reg, _ := newRegistry(t, Deps{})
	_, err := reg.Invoke(context.Background(), GetUserProfile, capability.Args{"query": "hi"})
	assert.ErrorIs(t, err, errNoSession)
}

func TestGetTasksTodayWindowAndOrdering(t *testing.T) {
	at := func(h int) *time.Time { v := fixedNow.Add(time.Duration(h) * time.Hour); return &v }
	tasks := &fakeTasks{tasks: []store.TaskRecord{
		{ID: "undated", Title: "buy milk", Status: store.TaskStatusOpen},
		{ID: "late", Title: "dentist", DueAt: at(7), Status: store.TaskStatusOpen},
		{ID: "early", Title: "standup", DueAt: at(1), Status: store.TaskStatusOpen},
	}}
	reg, _ := newRegistry(t, Deps{Tasks: tasks})

	v, err := reg.Invoke(sessionCtx(), GetTasks, capability.Args{})
	require.NoError(t, err)
	views := v.([]taskView)
	require.Len(t, views, 3)
	assert.Equal(t, "early", views[0].ID)
	assert.Equal(t, "2026-03-02 09:00", views[0].Due)
	assert.Equal(t, "today", views[0].Day)
	assert.Equal(t, "task", views[0].Kind)
	assert.Equal(t, "late", views[1].ID)
	assert.Equal(t, "undated", views[2].ID)

	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), tasks.lastFilter.From)
	assert.Equal(t, time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC), tasks.lastFilter.To)
}

func TestGetTasksExpandsRecurringEntries(t *testing.T) {
	tasks := &fakeTasks{tasks: []store.TaskRecord{
		{ID: "gym", Title: "gym", Recurrence: "0 18 * * MON-FRI", Status: store.TaskStatusOpen},
	}}
	reg, _ := newRegistry(t, Deps{Tasks: tasks})

	v, err := reg.Invoke(sessionCtx(), GetTasks, capability.Args{"range": "week"})
	require.NoError(t, err)
	views := v.([]taskView)
	require.Len(t, views, 5)
	assert.True(t, views[0].Recurring)
	assert.Equal(t, "2026-03-02 18:00", views[0].Due)
	assert.Equal(t, "tomorrow", views[1].Day)
	assert.Equal(t, "2026-03-06 18:00", views[4].Due)
}

func TestGetTasksRejectsUnknownRange(t *testing.T) {
	reg, _ := newRegistry(t, Deps{Tasks: &fakeTasks{}})
	_, err := reg.Invoke(sessionCtx(), GetTasks, capability.Args{"range": "fortnight"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fortnight")
}

func TestGetTasksExplicitWindow(t *testing.T) {
	tasks := &fakeTasks{}
	reg, _ := newRegistry(t, Deps{Tasks: tasks})
	_, err := reg.Invoke(sessionCtx(), GetTasks, capability.Args{"from": "2026-03-10", "to": "2026-03-12"})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), tasks.lastFilter.From)
	assert.Equal(t, time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC), tasks.lastFilter.To)
}

func TestCreateTaskParsesDueAndTagsKind(t *testing.T) {
	tasks := &fakeTasks{}
	reg, _ := newRegistry(t, Deps{Tasks: tasks})

	v, err := reg.Invoke(sessionCtx(), CreateTask, capability.Args{"title": " call mum ", "due": "2026-03-03 15:00"})
	require.NoError(t, err)
	view := v.(taskView)
	assert.Equal(t, "created_task", view.Kind)
	assert.Equal(t, "tomorrow", view.Day)
	require.Len(t, tasks.created, 1)
	assert.Equal(t, "call mum", tasks.created[0].Title)
	assert.Equal(t, "s1", tasks.created[0].SessionID)
	require.NotNil(t, tasks.created[0].DueAt)
	assert.Equal(t, time.Date(2026, 3, 3, 15, 0, 0, 0, time.UTC), *tasks.created[0].DueAt)
}

func TestCreateTaskValidation(t *testing.T) {
	reg, _ := newRegistry(t, Deps{Tasks: &fakeTasks{}})
	_, err := reg.Invoke(sessionCtx(), CreateTask, capability.Args{"title": "  "})
	assert.Error(t, err)
	_, err = reg.Invoke(sessionCtx(), CreateTask, capability.Args{"title": "x", "due": "next-ish"})
	assert.Error(t, err)
}

func TestCompleteTask(t *testing.T) {
	tasks := &fakeTasks{}
	reg, _ := newRegistry(t, Deps{Tasks: tasks})
	_, err := reg.Invoke(sessionCtx(), CompleteTask, capability.Args{"task_id": "t1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, tasks.completed)

	_, err = reg.Invoke(sessionCtx(), CompleteTask, capability.Args{"task_id": "missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestGetTipsHonoursLimit(t *testing.T) {
	tasks := &fakeTasks{tips: []store.TipRecord{{Content: "a"}, {Content: "b"}, {Content: "c"}}}
	reg, _ := newRegistry(t, Deps{Tasks: tasks})
	v, err := reg.Invoke(sessionCtx(), GetTips, capability.Args{"limit": float64(2)})
	require.NoError(t, err)
	assert.Len(t, v.([]tipView), 2)
}

func TestSearchAndRememberPreference(t *testing.T) {
	mem := &fakeMemory{hits: []store.MemoryHit{{Content: "flight LH123", Kind: store.MemoryKindPage, CreatedAt: fixedNow}}}
	reg, _ := newRegistry(t, Deps{Memory: mem})

	v, err := reg.Invoke(sessionCtx(), SearchMemory, capability.Args{"query": "flight"})
	require.NoError(t, err)
	hits := v.([]memoryHitView)
	require.Len(t, hits, 1)
	assert.Equal(t, "flight LH123", hits[0].Content)
	assert.Equal(t, store.MemoryKindPage, hits[0].Kind)

	_, err = reg.Invoke(sessionCtx(), RememberPreference, capability.Args{"fact": "vegetarian"})
	require.NoError(t, err)
	assert.Equal(t, []string{"vegetarian"}, mem.facts)
}

func TestRecentConversationsClipsResponses(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}
	conv := &fakeConversations{recs: []conversation.Record{{Query: "q", Response: string(long), CreatedAt: fixedNow}}}
	reg, _ := newRegistry(t, Deps{Conversations: conv})
	v, err := reg.Invoke(sessionCtx(), GetRecentConversations, capability.Args{})
	require.NoError(t, err)
	ex := v.([]exchangeView)
	require.Len(t, ex, 1)
	assert.Less(t, len(ex[0].Response), 400)
}

func TestCurrentTime(t *testing.T) {
	reg, _ := newRegistry(t, Deps{})
	v, err := reg.Invoke(context.Background(), GetCurrentTime, nil)
	require.NoError(t, err)
	m := v.(map[string]string)
	assert.Equal(t, "2026-03-02", m["date"])
	assert.Equal(t, "Monday", m["weekday"])
	assert.Equal(t, "08:00", m["time"])
}
