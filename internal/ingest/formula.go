package ingest

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Formula derives Metric as Numerator / Denominator × Scale from the actual
// values of the same tenant, source, sub-source, date and category.
type Formula struct {
	Metric      string  `yaml:"metric" json:"metric"`
	Numerator   string  `yaml:"numerator" json:"numerator"`
	Denominator string  `yaml:"denominator" json:"denominator"`
	Scale       float64 `yaml:"scale" json:"scale"`
}

// DefaultFormulas are used when no formulas file is configured.
func DefaultFormulas() []Formula {
	return []Formula{
		{Metric: "CTR", Numerator: "Clicks", Denominator: "Impressions", Scale: 100},
		{Metric: "Conversion Rate", Numerator: "Leads", Denominator: "Clicks", Scale: 100},
		{Metric: "Cost Per Lead", Numerator: "Spend", Denominator: "Leads", Scale: 1},
	}
}

type formulaFile struct {
	Formulas []Formula `yaml:"formulas"`
}

// LoadFormulas reads a YAML file of the form
//
//	formulas:
//	  - metric: CTR
//	    numerator: Clicks
//	    denominator: Impressions
//	    scale: 100
//
// An empty path returns DefaultFormulas.
func LoadFormulas(path string) ([]Formula, error) {
	if path == "" {
		return DefaultFormulas(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read formulas file: %w", err)
	}
	var f formulaFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse formulas file %s: %w", path, err)
	}
	if err := ValidateFormulas(f.Formulas); err != nil {
		return nil, fmt.Errorf("formulas file %s: %w", path, err)
	}
	return f.Formulas, nil
}

// ValidateFormulas checks names are present and unique and that no formula
// consumes another derived metric. A zero scale is set to 1.
func ValidateFormulas(fs []Formula) error {
	derived := make(map[string]bool, len(fs))
	for i := range fs {
		f := &fs[i]
		f.Metric = strings.TrimSpace(f.Metric)
		f.Numerator = strings.TrimSpace(f.Numerator)
		f.Denominator = strings.TrimSpace(f.Denominator)
		if f.Metric == "" || f.Numerator == "" || f.Denominator == "" {
			return fmt.Errorf("formula %d: metric, numerator and denominator are required", i)
		}
		if derived[f.Metric] {
			return fmt.Errorf("formula %q defined twice", f.Metric)
		}
		derived[f.Metric] = true
		if f.Scale == 0 {
			f.Scale = 1
		}
	}
	for _, f := range fs {
		if derived[f.Numerator] || derived[f.Denominator] {
			return errors.New("formula " + f.Metric + " depends on a derived metric")
		}
	}
	return nil
}

// compute returns nil when the numerator is missing or the denominator is
// missing or zero.
func (f Formula) compute(num, den *float64) *float64 {
	if num == nil || den == nil || *den == 0 {
		return nil
	}
	v := *num / *den * f.Scale
	return &v
}
