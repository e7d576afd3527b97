package lifecycle

import (
	"pmhub/internal/records/models"
)

func from(statuses ...string) []string { return statuses }

func today(s Stamp) string { return s.Now.Format(models.DateLayout) }

// stampDate sets each named field to the transition date.
func stampDate(names ...string) SideEffect {
	return func(s Stamp) models.Fields {
		out := models.Fields{}
		for _, n := range names {
			out[n] = today(s)
		}
		return out
	}
}

// finish stamps an end date and marks the record fully complete.
func finish(dateField string) SideEffect {
	return func(s Stamp) models.Fields {
		return models.Fields{dateField: today(s), "pct_complete": float64(100)}
	}
}

func stampApproval(s Stamp) models.Fields {
	return models.Fields{"approved_by": s.Actor, "approved_date": today(s)}
}

func stampDecision(s Stamp) models.Fields {
	return models.Fields{"decided_by": s.Actor, "decided_at": today(s)}
}

// riskRule attaches the checks and stamp shared by every risk transition.
func riskRule(r Rule) Rule {
	r.Guards = append(r.Guards, scoreConsistent)
	r.SideEffect = stampDate("last_review_date")
	return r
}

// Machines returns fresh copies of the built-in machines.
func Machines() []Machine {
	return []Machine{
		{
			EntityType: models.EntityTask,
			Initial:    []string{"backlog", "todo"},
			Rules: []Rule{
				{From: from("backlog"), To: "todo"},
				{From: from("backlog", "todo", "blocked", "review"), To: "in_progress"},
				{From: from("todo"), To: "backlog"},
				{From: from("in_progress"), To: "todo"},
				{From: from("in_progress"), To: "review"},
				{From: from("in_progress"), To: "blocked"},
				{From: from("review"), To: "done", SideEffect: stampDate("completed_date")},
				{From: from("done"), To: "in_progress", Action: "reopen"},
			},
		},
		{
			EntityType: models.EntityCharter,
			Initial:    []string{"draft"},
			Terminal:   []string{"approved"},
			Rules: []Rule{
				{From: from("draft"), To: "submitted", Action: "submit", Guards: []Guard{charterComplete}},
				{From: from("rejected"), To: "submitted", Action: "resubmit", Guards: []Guard{charterComplete}},
				{From: from("submitted"), To: "under_review", Action: "review"},
				{From: from("submitted", "under_review"), To: "approved", Action: "approve", SideEffect: stampApproval},
				{From: from("submitted", "under_review"), To: "rejected", Action: "reject"},
			},
		},
		{
			EntityType: models.EntityRisk,
			Initial:    []string{"identified"},
			Terminal:   []string{"resolved", "closed"},
			Rules: []Rule{
				riskRule(Rule{From: from("identified"), To: "qualitative_analysis"}),
				riskRule(Rule{From: from("qualitative_analysis"), To: "response_planning", Guards: []Guard{riskAssessed}}),
				riskRule(Rule{From: from("response_planning"), To: "monitoring", Guards: []Guard{responsePlanned}}),
				riskRule(Rule{From: from("monitoring"), To: "response_planning", Action: "replan"}),
				riskRule(Rule{From: from("monitoring"), To: "resolved"}),
				riskRule(Rule{FromAny: true, To: "closed", Action: "close"}),
			},
		},
		{
			EntityType: models.EntityGate,
			Initial:    []string{"pending"},
			Terminal:   []string{"approved", "rejected"},
			Rules: []Rule{
				{From: from("pending", "deferred"), To: "approved", Action: "approve", Guards: []Guard{decisionRecorded}, SideEffect: stampDecision},
				{From: from("pending", "deferred"), To: "rejected", Action: "reject", Guards: []Guard{decisionRecorded}, SideEffect: stampDecision},
				{From: from("pending"), To: "deferred", Action: "defer", Guards: []Guard{decisionRecorded}, SideEffect: stampDecision},
			},
		},
		{
			EntityType: models.EntityProject,
			Initial:    []string{"planning", "active"},
			Terminal:   []string{"completed", "cancelled"},
			Rules: []Rule{
				{From: from("planning", "on_hold"), To: "active"},
				{From: from("active"), To: "on_hold"},
				{From: from("active"), To: "completed", SideEffect: finish("actual_end_date")},
				{FromAny: true, To: "cancelled", Action: "cancel"},
			},
		},
		{
			EntityType: models.EntityPortfolio,
			Initial:    []string{"active"},
			Terminal:   []string{"archived"},
			Rules: []Rule{
				{From: from("on_hold"), To: "active"},
				{From: from("active"), To: "on_hold"},
				{From: from("active", "on_hold"), To: "archived", Action: "archive"},
			},
		},
		{
			EntityType: models.EntitySprint,
			Initial:    []string{"planning"},
			Terminal:   []string{"closed"},
			Rules: []Rule{
				{From: from("planning"), To: "active", Guards: []Guard{sprintScheduled}},
				{From: from("active"), To: "review"},
				{From: from("review", "active"), To: "closed", Action: "close"},
			},
		},
		{
			EntityType: models.EntityPhase,
			Initial:    []string{"not_started"},
			Terminal:   []string{"complete"},
			Rules: []Rule{
				{From: from("not_started"), To: "active", SideEffect: stampDate("actual_start")},
				{From: from("active"), To: "complete", SideEffect: finish("actual_end")},
			},
		},
		{
			EntityType: models.EntityDeliverable,
			Initial:    []string{"not_started"},
			Terminal:   []string{"approved"},
			Rules: []Rule{
				{From: from("not_started"), To: "in_progress"},
				{From: from("in_progress"), To: "complete", SideEffect: stampDate("completed_date")},
				{From: from("complete"), To: "in_progress", Action: "rework"},
				{From: from("complete"), To: "approved", Action: "approve"},
			},
		},
		{
			EntityType: models.EntityDependency,
			Initial:    []string{"active"},
			Rules: []Rule{
				{From: from("active"), To: "resolved"},
				{From: from("active"), To: "accepted", Action: "accept"},
				{From: from("resolved", "accepted"), To: "active", Action: "reopen"},
			},
		},
	}
}
