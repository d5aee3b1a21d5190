package core

import (
	"regexp"
	"strings"
)

var (
	scheduleWords = []string{"schedule", "book", "calendar", "meeting", "appointment", "reschedule", "slot", "free at", "available at", "my day", "agenda"}
	taskWords     = []string{"task", "todo", "to-do", "to do", "remind", "deadline", "due", "finish", "complete"}
	recallWords   = []string{"remember", "did i", "last time", "what was", "earlier", "previous", "yesterday i", "recall"}

	// "schedule ... 3pm", "book ... tomorrow"
	schedulingVerb = regexp.MustCompile(`\b(schedule|book|set up|arrange|plan|add|put|move|reschedule)\b`)
)

// ClassifyIntent maps a query onto an IntentType with keyword rules. It is
// deterministic and order-sensitive: scheduling wins over tasks, tasks over
// recall.
func ClassifyIntent(query string) Intent {
	q := strings.ToLower(strings.TrimSpace(query))
	in := Intent{Query: query, Type: IntentGeneral, Metadata: map[string]string{}}
	switch {
	case containsAny(q, scheduleWords):
		in.Type = IntentSchedule
	case containsAny(q, taskWords):
		in.Type = IntentTask
	case containsAny(q, recallWords):
		in.Type = IntentRecall
	}
	if schedulingVerb.MatchString(q) && (hasClockTime(q) || mentionsDay(q)) {
		in.Type = IntentSchedule
		in.Metadata["scheduling_request"] = "true"
	}
	return in
}

// IsSchedulingRequest reports whether the query asks to place something at a
// time, which is when conflict checking applies.
func (in Intent) IsSchedulingRequest() bool {
	return in.Metadata["scheduling_request"] == "true"
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// RetrievalQuery is the text used for lookups: the optimized rewrite when one
// was applied, the original query otherwise.
func (in Intent) RetrievalQuery() string {
	if q := in.Metadata["retrieval_query"]; q != "" {
		return q
	}
	return in.Query
}
