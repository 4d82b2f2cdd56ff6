package trigger

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mohitkumar/autoflow/logger"
	"github.com/mohitkumar/autoflow/model"
	"github.com/mohitkumar/autoflow/util"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"
)

const OP_EQUALS = "equals"
const OP_NOT_EQUALS = "not_equals"
const OP_CONTAINS = "contains"
const OP_GREATER_THAN = "greater_than"
const OP_LESS_THAN = "less_than"
const OP_IS_SET = "is_set"
const OP_IS_NOT_SET = "is_not_set"

var operators = []string{OP_EQUALS, OP_NOT_EQUALS, OP_CONTAINS, OP_GREATER_THAN, OP_LESS_THAN, OP_IS_SET, OP_IS_NOT_SET}

func IsOperator(op string) bool {
	return slices.Contains(operators, op)
}

// Evaluate ANDs every filter against entity; an empty set passes. Filters
// that could not be evaluated count as false and are returned as
// model.FilterEvaluationError values. They never abort evaluation.
func Evaluate(filters []model.Filter, entity map[string]any) (bool, []error) {
	pass := true
	var errs []error
	for _, f := range filters {
		ok, err := evaluate(f, entity)
		if err != nil {
			logger.Warn("filter evaluation failed", zap.String("field", f.FieldPath), zap.String("operator", f.Operator), zap.Error(err))
			errs = append(errs, err)
		}
		if !ok {
			pass = false
		}
	}
	return pass, errs
}

func evaluate(f model.Filter, entity map[string]any) (bool, error) {
	value, present := util.Lookup(entity, f.FieldPath)
	switch f.Operator {
	case OP_IS_SET:
		return present && !isEmpty(value), nil
	case OP_IS_NOT_SET:
		return !present || isEmpty(value), nil
	}
	if !present {
		return false, model.FilterEvaluationError{FieldPath: f.FieldPath, Message: "field not present on entity"}
	}
	switch f.Operator {
	case OP_EQUALS:
		return equal(value, f.Value), nil
	case OP_NOT_EQUALS:
		return !equal(value, f.Value), nil
	case OP_CONTAINS:
		return contains(value, f.Value), nil
	case OP_GREATER_THAN, OP_LESS_THAN:
		left, lok := toFloat(value)
		right, rok := toFloat(f.Value)
		if !lok || !rok {
			return false, model.FilterEvaluationError{FieldPath: f.FieldPath, Message: fmt.Sprintf("%v and %v are not both numeric", value, f.Value)}
		}
		if f.Operator == OP_GREATER_THAN {
			return left > right, nil
		}
		return left < right, nil
	default:
		return false, model.FilterEvaluationError{FieldPath: f.FieldPath, Message: fmt.Sprintf("unknown operator %q", f.Operator)}
	}
}

func isEmpty(v any) bool {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val) == ""
	case []any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	}
	return false
}

func equal(a any, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func contains(haystack any, needle any) bool {
	switch h := haystack.(type) {
	case string:
		return strings.Contains(strings.ToLower(h), strings.ToLower(fmt.Sprint(needle)))
	case []any:
		return slices.ContainsFunc(h, func(item any) bool { return equal(item, needle) })
	case []string:
		return slices.ContainsFunc(h, func(item string) bool { return equal(item, needle) })
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}
