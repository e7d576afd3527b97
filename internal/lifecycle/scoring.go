package lifecycle

import (
	"fmt"

	"pmhub/internal/records/models"
	dErrors "pmhub/pkg/domain-errors"
)

type riskInputs struct {
	Probability         *float64 `mapstructure:"probability"`
	Impact              *float64 `mapstructure:"impact"`
	Score               *float64 `mapstructure:"score"`
	ResidualProbability *float64 `mapstructure:"residual_probability"`
	ResidualImpact      *float64 `mapstructure:"residual_impact"`
	ResidualScore       *float64 `mapstructure:"residual_score"`
}

type scorePair struct {
	field    string
	inputs   string
	a, b     *float64
	supplied any
	present  bool
}

func (p scorePair) derive(out models.Fields) error {
	if p.a == nil || p.b == nil {
		if p.supplied != nil {
			return dErrors.Validation(p.field, fmt.Sprintf("cannot be set without %s", p.inputs))
		}
		if p.present {
			out[p.field] = nil
		}
		return nil
	}
	want := *p.a * *p.b
	if p.supplied != nil && !models.Equal(p.supplied, want) {
		return dErrors.Validation(p.field, fmt.Sprintf("must equal %s (%s), got %s",
			p.inputs, models.FormatValue(want), models.FormatValue(p.supplied)))
	}
	out[p.field] = want
	return nil
}

// DeriveRiskScores recomputes score = probability × impact and
// residual_score = residual_probability × residual_impact over merged, the
// record as it will be stored. supplied holds the caller's own input; a score
// there that disagrees is rejected. The returned fields overlay merged; a nil
// value removes a residual score whose inputs are gone.
func DeriveRiskScores(supplied, merged models.Fields) (models.Fields, error) {
	in, err := decodeFields[riskInputs](merged)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "risk score inputs")
	}
	out := models.Fields{}
	pairs := []scorePair{
		{
			field: models.FieldScore, inputs: "probability × impact",
			a: in.Probability, b: in.Impact,
			supplied: supplied[models.FieldScore], present: merged.Has(models.FieldScore),
		},
		{
			field: models.FieldResidualScore, inputs: "residual_probability × residual_impact",
			a: in.ResidualProbability, b: in.ResidualImpact,
			supplied: supplied[models.FieldResidualScore], present: merged.Has(models.FieldResidualScore),
		},
	}
	for _, p := range pairs {
		if err := p.derive(out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// CheckRiskScores reports whether stored scores agree with their inputs. An
// absent score is not an inconsistency; a residual score without both inputs is.
func CheckRiskScores(fields models.Fields) error {
	in, err := decodeFields[riskInputs](fields)
	if err != nil {
		return err
	}
	if in.Score != nil && in.Probability != nil && in.Impact != nil && *in.Score != *in.Probability**in.Impact {
		return fmt.Errorf("score %s does not equal probability × impact", models.FormatValue(*in.Score))
	}
	if in.ResidualScore == nil {
		return nil
	}
	if in.ResidualProbability == nil || in.ResidualImpact == nil {
		return fmt.Errorf("residual_score set without residual_probability and residual_impact")
	}
	if *in.ResidualScore != *in.ResidualProbability**in.ResidualImpact {
		return fmt.Errorf("residual_score %s does not equal residual_probability × residual_impact", models.FormatValue(*in.ResidualScore))
	}
	return nil
}
