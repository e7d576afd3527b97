package models

// Kind is the value type a field accepts.
type Kind int

const (
	KindString Kind = iota
	KindEnum
	KindInt
	KindNumber
	KindDate
	KindBool
	KindID
	KindStatus
)

const (
	maxNameLen    = 200
	maxTextLen    = 5000
	maxGenericLen = 500
	maxURLLen     = 2000
)

// FieldSpec describes one updatable field.
type FieldSpec struct {
	Kind     Kind
	MaxLen   int
	Min, Max float64
	Bounded  bool
	Enum     []string
	Required bool
}

func str(maxLen int) FieldSpec { return FieldSpec{Kind: KindString, MaxLen: maxLen} }
func text() FieldSpec          { return str(maxTextLen) }
func name() FieldSpec          { return FieldSpec{Kind: KindString, MaxLen: maxNameLen, Required: true} }
func short() FieldSpec         { return str(maxGenericLen) }
func enum(values ...string) FieldSpec {
	return FieldSpec{Kind: KindEnum, Enum: values}
}
func intRange(lo, hi float64) FieldSpec {
	return FieldSpec{Kind: KindInt, Min: lo, Max: hi, Bounded: true}
}
func num(lo, hi float64) FieldSpec {
	return FieldSpec{Kind: KindNumber, Min: lo, Max: hi, Bounded: true}
}
func nonNegative() FieldSpec { return FieldSpec{Kind: KindNumber, Min: 0, Max: 1e15, Bounded: true} }
func rank() FieldSpec        { return FieldSpec{Kind: KindNumber} }
func date() FieldSpec        { return FieldSpec{Kind: KindDate} }
func ref() FieldSpec         { return FieldSpec{Kind: KindID} }
func status() FieldSpec      { return FieldSpec{Kind: KindStatus} }

func (f FieldSpec) required() FieldSpec {
	f.Required = true
	return f
}

// DateRange requires Start <= End when both are set.
type DateRange struct {
	Start, End string
}

// Schema is the field allowlist and validation table for one entity type.
type Schema struct {
	Type       EntityType
	Fields     map[string]FieldSpec
	DateRanges []DateRange
	// RankField orders records within RankScope; empty when the type is unranked.
	RankField string
	RankScope string
}

// SchemaFor returns the schema registered for an entity type.
func SchemaFor(et EntityType) (*Schema, bool) {
	s, ok := schemas[et]
	return s, ok
}

// EntityTypes lists every registered entity type.
func EntityTypes() []EntityType {
	out := make([]EntityType, 0, len(schemas))
	for et := range schemas {
		out = append(out, et)
	}
	return out
}

var (
	healthValues     = []string{"green", "yellow", "red"}
	deliveryMethods  = []string{"waterfall", "agile", "hybrid"}
	taskTypes        = []string{"epic", "story", "task", "bug", "subtask"}
	priorityLevels   = []string{"critical", "high", "medium", "low"}
	riskCategories   = []string{"technical", "resource", "schedule", "scope", "budget", "external", "organizational"}
	riskResponses    = []string{"avoid", "transfer", "mitigate", "accept", "escalate"}
	riskProximity    = []string{"near_term", "mid_term", "long_term"}
	phaseTypes       = []string{"initiation", "planning", "design", "build", "test", "deploy", "closeout"}
	dependencyTypes  = []string{"blocking", "dependent", "shared_resource", "informational"}
	dependencyLevels = []string{"high", "medium", "low"}
)

var schemas = map[EntityType]*Schema{
	EntityPortfolio: {
		Type: EntityPortfolio,
		Fields: map[string]FieldSpec{
			"name":               name(),
			"description":        text(),
			"owner":              short(),
			"status":             status(),
			"health":             enum(healthValues...),
			"department_id":      ref(),
			"budget_total":       nonNegative(),
			"strategic_priority": short(),
		},
	},
	EntityProject: {
		Type: EntityProject,
		Fields: map[string]FieldSpec{
			"name":             name(),
			"description":      text(),
			"owner":            short(),
			"sponsor":          short(),
			"status":           status(),
			"health":           enum(healthValues...),
			"delivery_method":  enum(deliveryMethods...),
			"current_phase_id": ref(),
			"priority_rank":    rank(),
			"pct_complete":     intRange(0, 100),
			"budget_total":     nonNegative(),
			"budget_spent":     nonNegative(),
			"start_date":       date(),
			"target_date":      date(),
			"actual_end_date":  date(),
			"portfolio_id":     ref(),
		},
		DateRanges: []DateRange{{Start: "start_date", End: "target_date"}},
		RankField:  "priority_rank",
		RankScope:  "portfolio_id",
	},
	EntityCharter: {
		Type: EntityCharter,
		Fields: map[string]FieldSpec{
			"project_id":       ref().required(),
			"project_name":     name(),
			"version":          short(),
			"business_case":    text(),
			"objectives":       text(),
			"scope_in":         text(),
			"scope_out":        text(),
			"assumptions":      text(),
			"constraints":      text(),
			"stakeholders":     text(),
			"success_criteria": text(),
			"risks":            text(),
			"budget":           text(),
			"timeline":         text(),
			"delivery_method":  enum(deliveryMethods...),
			"description":      text(),
			"approved_by":      short(),
			"approved_date":    date(),
			"status":           status(),
		},
	},
	EntityPhase: {
		Type: EntityPhase,
		Fields: map[string]FieldSpec{
			"project_id":      ref().required(),
			"name":            name(),
			"phase_type":      enum(phaseTypes...),
			"phase_order":     intRange(0, 100),
			"delivery_method": enum(deliveryMethods...),
			"status":          status(),
			"start_date":      date(),
			"end_date":        date(),
			"actual_start":    date(),
			"actual_end":      date(),
			"pct_complete":    intRange(0, 100),
		},
		DateRanges: []DateRange{{Start: "start_date", End: "end_date"}, {Start: "actual_start", End: "actual_end"}},
	},
	EntityGate: {
		Type: EntityGate,
		Fields: map[string]FieldSpec{
			"project_id": ref(),
			"phase_id":   ref(),
			"gate_order": intRange(0, 100),
			"name":       name(),
			"status":     status(),
			"criteria":   text(),
			"decision":   text(),
			"decided_by": short(),
			"decided_at": date(),
		},
	},
	EntityDeliverable: {
		Type: EntityDeliverable,
		Fields: map[string]FieldSpec{
			"phase_id":       ref(),
			"name":           name(),
			"description":    text(),
			"status":         status(),
			"owner":          short(),
			"due_date":       date(),
			"completed_date": date(),
			"artifact_url":   str(maxURLLen),
		},
	},
	EntitySprint: {
		Type: EntitySprint,
		Fields: map[string]FieldSpec{
			"project_id":      ref().required(),
			"name":            name(),
			"goal":            text(),
			"start_date":      date(),
			"end_date":        date(),
			"status":          status(),
			"capacity_points": intRange(0, 1000),
			"phase_id":        ref(),
		},
		DateRanges: []DateRange{{Start: "start_date", End: "end_date"}},
	},
	EntityTask: {
		Type: EntityTask,
		Fields: map[string]FieldSpec{
			"project_id":     ref(),
			"title":          name(),
			"description":    text(),
			"task_type":      enum(taskTypes...),
			"status":         status(),
			"priority":       enum(priorityLevels...),
			"assignee":       short(),
			"story_points":   intRange(0, 100),
			"due_date":       date(),
			"backlog_rank":   rank(),
			"sprint_id":      ref(),
			"phase_id":       ref(),
			"parent_task_id": ref(),
			"completed_date": date(),
		},
		RankField: "backlog_rank",
		RankScope: "project_id",
	},
	EntityRisk: {
		Type: EntityRisk,
		Fields: map[string]FieldSpec{
			"project_id":           ref(),
			"title":                name(),
			"description":          text(),
			"category":             enum(riskCategories...),
			"probability":          intRange(1, 5).required(),
			"impact":               intRange(1, 5).required(),
			FieldScore:             intRange(1, 25),
			"status":               status(),
			"mitigation_plan":      text(),
			"response_strategy":    enum(riskResponses...),
			"contingency_plan":     text(),
			"trigger_conditions":   text(),
			"risk_proximity":       enum(riskProximity...),
			"risk_urgency":         short(),
			"residual_probability": intRange(1, 5),
			"residual_impact":      intRange(1, 5),
			FieldResidualScore:     intRange(1, 25),
			"secondary_risks":      text(),
			"identified_date":      date(),
			"last_review_date":     date(),
			"response_owner":       short(),
			"owner":                short(),
		},
	},
	EntityDependency: {
		Type: EntityDependency,
		Fields: map[string]FieldSpec{
			"source_project_id": ref().required(),
			"target_project_id": ref().required(),
			"dependency_type":   enum(dependencyTypes...).required(),
			"risk_level":        enum(dependencyLevels...),
			"description":       text(),
			"status":            status(),
		},
	},
	EntityComment: {
		Type: EntityComment,
		Fields: map[string]FieldSpec{
			"target_type": short().required(),
			"target_id":   ref().required(),
			"author":      short().required(),
			"body":        text().required(),
		},
	},
	EntityTimeEntry: {
		Type: EntityTimeEntry,
		Fields: map[string]FieldSpec{
			"task_id":   ref().required(),
			"user_id":   short().required(),
			"hours":     num(0, 24).required(),
			"work_date": date().required(),
			"notes":     text(),
		},
	},
}
