package rules

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/iamrudi/AgentDash-sub001/pkg/models"
)

// compare applies a basic, string or membership operator to resolved values.
// Windowed and state-transition operators are handled by the evaluator since
// they need more than the two operands.
func compare(op models.ConditionOperator, actual, expected interface{}) (bool, error) {
	switch op {
	case models.OpGT, models.OpGTE, models.OpLT, models.OpLTE:
		a, err := toFloat(actual)
		if err != nil {
			return false, fmt.Errorf("actual value: %w", err)
		}
		b, err := toFloat(expected)
		if err != nil {
			return false, fmt.Errorf("expected value: %w", err)
		}
		switch op {
		case models.OpGT:
			return a > b, nil
		case models.OpGTE:
			return a >= b, nil
		case models.OpLT:
			return a < b, nil
		default:
			return a <= b, nil
		}
	case models.OpEQ:
		return looseEqual(actual, expected), nil
	case models.OpNEQ:
		return !looseEqual(actual, expected), nil
	case models.OpContains:
		return strings.Contains(toString(actual), toString(expected)), nil
	case models.OpNotContains:
		return !strings.Contains(toString(actual), toString(expected)), nil
	case models.OpMatches:
		re, err := regexp.Compile(toString(expected))
		if err != nil {
			return false, fmt.Errorf("invalid pattern: %w", err)
		}
		return re.MatchString(toString(actual)), nil
	case models.OpIn:
		return member(actual, expected)
	case models.OpNotIn:
		ok, err := member(actual, expected)
		return !ok, err
	default:
		return false, fmt.Errorf("unsupported operator %q", op)
	}
}

// looseEqual compares values numerically when both sides coerce to numbers,
// otherwise by string form. JSON decoding turns every number into float64, so
// strict type equality would reject 5 == 5.0.
func looseEqual(a, b interface{}) bool {
	af, aErr := toFloat(a)
	bf, bErr := toFloat(b)
	if aErr == nil && bErr == nil {
		return af == bf
	}
	return toString(a) == toString(b)
}

func member(actual, expected interface{}) (bool, error) {
	list, ok := expected.([]interface{})
	if !ok {
		return false, fmt.Errorf("expected value for membership operator must be a list, got %T", expected)
	}
	for _, item := range list {
		if looseEqual(actual, item) {
			return true, nil
		}
	}
	return false, nil
}

func toFloat(v interface{}) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int32:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case json.Number:
		return t.Float64()
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, fmt.Errorf("value %q is not numeric", t)
		}
		return f, nil
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	case nil:
		return 0, fmt.Errorf("value is missing")
	default:
		return 0, fmt.Errorf("value of type %T is not numeric", v)
	}
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

// toTime parses a value carrying a timestamp for the inactivity operator.
func toTime(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		ts, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return time.Time{}, fmt.Errorf("value %q is not an RFC 3339 timestamp", t)
		}
		return ts, nil
	default:
		return time.Time{}, fmt.Errorf("value of type %T is not a timestamp", v)
	}
}

// aggregate reduces a series to a baseline value.
func aggregate(values []float64, agg models.WindowAggregation) (float64, error) {
	if len(values) == 0 {
		return 0, fmt.Errorf("window holds no data points")
	}
	switch agg {
	case models.AggSum:
		var sum float64
		for _, v := range values {
			sum += v
		}
		return sum, nil
	case models.AggAvg, "":
		var sum float64
		for _, v := range values {
			sum += v
		}
		return sum / float64(len(values)), nil
	case models.AggMin:
		min := values[0]
		for _, v := range values[1:] {
			if v < min {
				min = v
			}
		}
		return min, nil
	case models.AggMax:
		max := values[0]
		for _, v := range values[1:] {
			if v > max {
				max = v
			}
		}
		return max, nil
	default:
		return 0, fmt.Errorf("unsupported aggregation %q", agg)
	}
}

// zScore computes how many standard deviations current sits from the mean of
// the series.
func zScore(values []float64, current float64) (float64, error) {
	if len(values) < 2 {
		return 0, fmt.Errorf("window needs at least two data points")
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values))
	stddev := math.Sqrt(variance)
	if stddev == 0 {
		return 0, fmt.Errorf("window has zero variance")
	}
	return (current - mean) / stddev, nil
}
