package core

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/LifeContext/lifecontext-sub000/internal/extract"
	"github.com/LifeContext/lifecontext-sub000/internal/helpers"
	"github.com/LifeContext/lifecontext-sub000/internal/metrics"
	"github.com/LifeContext/lifecontext-sub000/provider/types"
)

const conflictSystemPrompt = `You check a scheduling request against the user's existing tasks and events.
Report a conflict only when the request overlaps an existing entry in time.
Return JSON only: {"has_conflict": true|false, "warning": "short message for the user", "conflicts": [{"existing": "...", "slot": "...", "reason": "..."}]}`

// slotWindow is how close two times must be to count as overlapping.
const slotWindow = 60

var (
	clock12 = regexp.MustCompile(`\b(1[0-2]|0?[1-9])(?::([0-5]\d))?\s*([ap])\.?m\.?\b`)
	clock24 = regexp.MustCompile(`\b([01]?\d|2[0-3]):([0-5]\d)\b`)
	isoDate = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)
	dayWord = regexp.MustCompile(`\b(today|tonight|tomorrow|monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
)

// slot is a point in time at minute resolution; date is "2006-01-02".
type slot struct {
	date   string
	minute int
}

func (s slot) String() string {
	return fmt.Sprintf("%s %02d:%02d", s.date, s.minute/60, s.minute%60)
}

// ConflictGuard detects scheduling requests that overlap existing entries.
type ConflictGuard struct {
	gen         generator
	logger      *zap.Logger
	now         func() time.Time
	taskSources map[string]struct{}
}

func NewConflictGuard(gen generator, now func() time.Time, taskSources []string, logger *zap.Logger) *ConflictGuard {
	if now == nil {
		now = time.Now
	}
	set := make(map[string]struct{}, len(taskSources))
	for _, s := range taskSources {
		set[s] = struct{}{}
	}
	return &ConflictGuard{gen: gen, logger: logger.Named("conflict"), now: now, taskSources: set}
}

// Check runs once after gathering. Anything that goes wrong is reported as
// no conflict.
func (g *ConflictGuard) Check(ctx context.Context, cc *ContextCollection, intent Intent) ConflictResult {
	if !intent.IsSchedulingRequest() {
		return ConflictResult{}
	}
	entries := g.taskLike(cc)
	if len(entries) == 0 {
		return ConflictResult{}
	}

	now := g.now()
	wanted := parseSlots(intent.Query, now)
	var details []ConflictDetail
	for _, it := range entries {
		for _, have := range parseSlots(it.Content, now) {
			for _, want := range wanted {
				if overlaps(have, want) {
					details = append(details, ConflictDetail{
						Existing: describeEntry(it),
						Slot:     have.String(),
						Reason:   "overlaps the requested time",
					})
				}
			}
		}
	}
	if len(details) > 0 {
		return ConflictResult{
			HasConflict: true,
			Warning:     conflictWarning(details),
			Details:     details,
		}
	}
	return g.ask(ctx, intent, entries)
}

func (g *ConflictGuard) ask(ctx context.Context, intent Intent, entries []ContextItem) ConflictResult {
	var b strings.Builder
	fmt.Fprintf(&b, "NOW: %s\nREQUEST: %s\n\nEXISTING:\n", g.now().Format("Monday 2006-01-02 15:04"), intent.Query)
	for i, it := range entries {
		fmt.Fprintf(&b, "[%d] %s\n", i, helpers.Preview(it.Content, 300))
	}
	out, err := g.gen.complete(ctx, "conflict", types.CompletionRequest{
		Messages:        messages(conflictSystemPrompt, b.String()),
		ZeroTemperature: true,
		MaxTokens:       300,
	})
	if err != nil {
		g.logger.Warn("conflict check failed, assuming none", zap.Error(err))
		return ConflictResult{}
	}
	var payload struct {
		HasConflict bool   `json:"has_conflict"`
		Warning     string `json:"warning"`
		Conflicts   []any  `json:"conflicts"`
	}
	if err := extract.ParseInto(out, extract.ShapeObject, "", &payload); err != nil {
		metrics.ParseFailures.WithLabelValues("conflict").Inc()
		g.logger.Debug("unparseable conflict reply", zap.Error(err))
		return ConflictResult{}
	}
	if !payload.HasConflict {
		return ConflictResult{}
	}
	res := ConflictResult{HasConflict: true, Warning: strings.TrimSpace(payload.Warning)}
	for _, c := range payload.Conflicts {
		switch v := c.(type) {
		case string:
			res.Details = append(res.Details, ConflictDetail{Existing: v})
		case map[string]any:
			res.Details = append(res.Details, ConflictDetail{
				Existing: firstString(v, "existing", "title", "task", "event"),
				Slot:     firstString(v, "slot", "time"),
				Reason:   firstString(v, "reason", "description"),
			})
		}
	}
	if res.Warning == "" {
		res.Warning = conflictWarning(res.Details)
	}
	return res
}

// taskLike selects the entries worth checking: items gathered in this
// request from task capabilities or tagged as tasks or events. Recalled
// memory and page text are never authoritative, and finished tasks no
// longer hold their slot.
func (g *ConflictGuard) taskLike(cc *ContextCollection) []ContextItem {
	var out []ContextItem
	for _, it := range cc.Items() {
		if it.Source == SourceSessionMemory || it.Source == SourcePageContext {
			continue
		}
		if finished(it) {
			continue
		}
		if kind, _ := it.Metadata["kind"].(string); kind == "task" || kind == "event" {
			out = append(out, it)
			continue
		}
		if _, ok := g.taskSources[it.Source]; ok {
			out = append(out, it)
		}
	}
	return out
}

// entryFields decodes a rendered task or event object. ok is false for
// plain-text entries.
func entryFields(it ContextItem) (fields map[string]any, ok bool) {
	content := strings.TrimSpace(it.Content)
	if !strings.HasPrefix(content, "{") {
		return nil, false
	}
	if err := json.Unmarshal([]byte(content), &fields); err != nil {
		return nil, false
	}
	return fields, true
}

func finished(it ContextItem) bool {
	fields, ok := entryFields(it)
	if !ok {
		return false
	}
	switch status, _ := fields["status"].(string); strings.ToLower(status) {
	case "done", "completed", "cancelled", "canceled":
		return true
	}
	return false
}

// describeEntry names an entry for the user: "title (due)" for task
// objects, a short preview of the text otherwise.
func describeEntry(it ContextItem) string {
	fields, ok := entryFields(it)
	if !ok {
		return helpers.Preview(it.Content, 200)
	}
	title := firstString(fields, "title", "name", "summary")
	due := firstString(fields, "due", "time", "start")
	switch {
	case title != "" && due != "":
		return fmt.Sprintf("%s (%s)", title, due)
	case title != "":
		return title
	}
	return helpers.Preview(it.Content, 200)
}

func overlaps(a, b slot) bool {
	if a.date != b.date {
		return false
	}
	d := a.minute - b.minute
	if d < 0 {
		d = -d
	}
	return d < slotWindow
}

func conflictWarning(details []ConflictDetail) string {
	if len(details) == 0 {
		return "This request conflicts with something already on your schedule."
	}
	d := details[0]
	if d.Slot != "" {
		return fmt.Sprintf("Heads up: that time clashes with an existing entry at %s: %s", d.Slot, d.Existing)
	}
	return fmt.Sprintf("Heads up: that time clashes with an existing entry: %s", d.Existing)
}

// parseSlots finds (day, time) pairs in text. Every time found is paired
// with the first day mentioned, or today when no day is given.
func parseSlots(text string, now time.Time) []slot {
	lower := strings.ToLower(text)
	date := resolveDay(lower, now)

	var minutes []int
	masked := lower
	for _, m := range clock12.FindAllStringSubmatchIndex(lower, -1) {
		h, _ := strconv.Atoi(lower[m[2]:m[3]])
		min := 0
		if m[4] >= 0 {
			min, _ = strconv.Atoi(lower[m[4]:m[5]])
		}
		pm := lower[m[6]:m[7]] == "p"
		if h == 12 {
			h = 0
		}
		if pm {
			h += 12
		}
		minutes = append(minutes, h*60+min)
		masked = masked[:m[0]] + strings.Repeat(" ", m[1]-m[0]) + masked[m[1]:]
	}
	for _, m := range clock24.FindAllStringSubmatch(masked, -1) {
		h, _ := strconv.Atoi(m[1])
		min, _ := strconv.Atoi(m[2])
		minutes = append(minutes, h*60+min)
	}

	out := make([]slot, 0, len(minutes))
	for _, m := range minutes {
		out = append(out, slot{date: date, minute: m})
	}
	return out
}

// mentionsDay reports whether text names a day.
func mentionsDay(text string) bool {
	lower := strings.ToLower(text)
	return dayWord.MatchString(lower) || isoDate.MatchString(lower)
}

func hasClockTime(text string) bool {
	lower := strings.ToLower(text)
	return clock12.MatchString(lower) || clock24.MatchString(lower)
}

func resolveDay(lower string, now time.Time) string {
	if m := isoDate.FindString(lower); m != "" {
		return m
	}
	day := now
	switch w := dayWord.FindString(lower); w {
	case "", "today", "tonight":
	case "tomorrow":
		day = now.AddDate(0, 0, 1)
	default:
		for i := 0; i < 7; i++ {
			d := now.AddDate(0, 0, i)
			if strings.ToLower(d.Weekday().String()) == w {
				day = d
				break
			}
		}
	}
	return day.Format("2006-01-02")
}
