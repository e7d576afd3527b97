package lifecycle

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"

	"pmhub/internal/records/models"
)

// Guard is a named precondition. Check returns the unmet condition, or "".
type Guard struct {
	Name  string
	Check func(fields models.Fields) string
}

// decodeFields maps a record's fields onto a typed view.
func decodeFields[T any](fields models.Fields) (T, error) {
	var out T
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return out, err
	}
	if err := dec.Decode(map[string]any(fields)); err != nil {
		return out, fmt.Errorf("decode fields: %w", err)
	}
	return out, nil
}

func missing(pairs ...string) string {
	var absent []string
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			absent = append(absent, pairs[i])
		}
	}
	if len(absent) == 0 {
		return ""
	}
	return "missing " + strings.Join(absent, ", ")
}

type charterContent struct {
	ProjectName  string `mapstructure:"project_name"`
	BusinessCase string `mapstructure:"business_case"`
	Objectives   string `mapstructure:"objectives"`
}

var charterComplete = Guard{
	Name: "charter_complete",
	Check: func(fields models.Fields) string {
		c, err := decodeFields[charterContent](fields)
		if err != nil {
			return err.Error()
		}
		return missing("project_name", c.ProjectName, "business_case", c.BusinessCase, "objectives", c.Objectives)
	},
}

type gateDecision struct {
	Decision string `mapstructure:"decision"`
}

var decisionRecorded = Guard{
	Name: "decision_recorded",
	Check: func(fields models.Fields) string {
		g, err := decodeFields[gateDecision](fields)
		if err != nil {
			return err.Error()
		}
		return missing("decision", g.Decision)
	},
}

type sprintWindow struct {
	StartDate string `mapstructure:"start_date"`
	EndDate   string `mapstructure:"end_date"`
}

var sprintScheduled = Guard{
	Name: "sprint_scheduled",
	Check: func(fields models.Fields) string {
		w, err := decodeFields[sprintWindow](fields)
		if err != nil {
			return err.Error()
		}
		return missing("start_date", w.StartDate, "end_date", w.EndDate)
	},
}

var riskAssessed = Guard{
	Name: "risk_assessed",
	Check: func(fields models.Fields) string {
		in, err := decodeFields[riskInputs](fields)
		if err != nil {
			return err.Error()
		}
		var absent []string
		if in.Probability == nil {
			absent = append(absent, "probability")
		}
		if in.Impact == nil {
			absent = append(absent, "impact")
		}
		if len(absent) > 0 {
			return "missing " + strings.Join(absent, ", ")
		}
		return ""
	},
}

type riskResponse struct {
	ResponseStrategy string `mapstructure:"response_strategy"`
}

var responsePlanned = Guard{
	Name: "response_planned",
	Check: func(fields models.Fields) string {
		r, err := decodeFields[riskResponse](fields)
		if err != nil {
			return err.Error()
		}
		return missing("response_strategy", r.ResponseStrategy)
	},
}

var scoreConsistent = Guard{
	Name: "score_consistent",
	Check: func(fields models.Fields) string {
		if err := CheckRiskScores(fields); err != nil {
			return err.Error()
		}
		return ""
	},
}
