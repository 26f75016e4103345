package ingest

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/d9705996/clientpulse/internal/model"
)

// DateLayout is the only accepted observation date format.
const DateLayout = "2006-01-02"

// validate normalises one raw row. A non-empty reason means the row is
// rejected.
func (m *batchMerge) validate(index int, raw RawObservation) (*validRow, string) {
	reject := func(format string, args ...any) (*validRow, string) {
		return nil, fmt.Errorf("%w: %s", ErrMalformedObservation, fmt.Sprintf(format, args...)).Error()
	}

	date := strings.TrimSpace(raw.Date)
	if date == "" {
		return reject("date is required")
	}
	if _, err := time.Parse(DateLayout, date); err != nil {
		return reject("date %q is not YYYY-MM-DD", raw.Date)
	}
	metric := strings.TrimSpace(raw.Metric)
	if metric == "" {
		return reject("metric is required")
	}
	category := strings.TrimSpace(raw.Category)
	if category == "" {
		return reject("category is required")
	}
	kind, err := model.ParseValueKind(raw.Kind)
	if err != nil {
		return reject("%v", err)
	}
	if kind == model.ValueCalculated && m.r.derived[metric] {
		return reject("metric %q is derived by formula and cannot be imported", metric)
	}
	if raw.Value == nil && kind != model.ValueCalculated {
		return reject("value is required for %s rows", kind)
	}
	if raw.Value != nil && (math.IsNaN(*raw.Value) || math.IsInf(*raw.Value, 0)) {
		return reject("value must be a finite number")
	}

	if len(m.tenant.Categories) > 0 {
		canonical, ok := lookupFold(m.tenant.Categories, category)
		if !ok {
			return reject("category %q is not allowed for this tenant", category)
		}
		category = canonical
	}

	var value *float64
	if raw.Value != nil {
		v := *raw.Value
		value = &v
	}
	return &validRow{
		index: index,
		key:   obsKey{date: date, category: category, metric: metric, kind: kind},
		value: value,
	}, ""
}

func lookupFold(list []string, v string) (string, bool) {
	for _, e := range list {
		if strings.EqualFold(e, v) {
			return e, true
		}
	}
	return "", false
}
