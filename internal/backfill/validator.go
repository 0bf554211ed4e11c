package backfill

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SaleTotalTolerance is the largest accepted gap between a sale total and its line items.
var SaleTotalTolerance = decimal.New(1, -2)

// ValidationResult lists every problem found in a batch.
type ValidationResult struct {
	Errors []string `json:"errors"`
}

// OK reports whether the batch passed validation.
func (r ValidationResult) OK() bool {
	return len(r.Errors) == 0
}

// Err converts the result into a *ValidationError, or nil when valid.
func (r ValidationResult) Err() error {
	if r.OK() {
		return nil
	}
	return &ValidationError{Problems: append([]string(nil), r.Errors...)}
}

// Validator statically checks a batch before anything is written.
type Validator struct {
	validate *validator.Validate
}

// NewValidator builds a validator with the record struct tags registered.
func NewValidator() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	if err := v.RegisterValidation("notblank", validators.NotBlank); err != nil {
		panic(err)
	}
	return &Validator{validate: v}
}

// Validate checks every record and accumulates all problems. It performs no I/O.
func (v *Validator) Validate(batch ImportBatch) ValidationResult {
	var res ValidationResult
	add := func(format string, args ...any) {
		res.Errors = append(res.Errors, fmt.Sprintf(format, args...))
	}

	if batch.TargetActor == uuid.Nil {
		add("batch: target_actor is required")
	}
	if batch.SystemActor == uuid.Nil {
		add("batch: system_actor is required")
	}

	seen := make(map[string]int, len(batch.Catalog))
	for i, rec := range batch.Catalog {
		label := fmt.Sprintf("catalog[%d]", i)
		v.structProblems(label, rec, add)
		if !rec.DefaultPrice.IsPositive() {
			add("%s: default_price must be greater than 0", label)
		}
		key := catalogKey(rec.Name)
		if key == "" {
			continue
		}
		if first, ok := seen[key]; ok {
			add("%s: name %q duplicates catalog[%d]", label, rec.Name, first)
			continue
		}
		seen[key] = i
	}

	for i, rec := range batch.Sales {
		label := fmt.Sprintf("sale[%d]", i)
		if rec.Date.IsZero() {
			add("%s: date is required", label)
		}
		v.structProblems(label, rec, add)
		if !rec.TotalAmount.IsPositive() {
			add("%s: total_amount must be greater than 0", label)
		}
		if len(rec.LineItems) == 0 {
			add("%s: at least one line item is required", label)
			continue
		}
		sum := rec.LineItemsTotal()
		if diff := sum.Sub(rec.TotalAmount).Abs(); diff.GreaterThan(SaleTotalTolerance) {
			add("%s: line items total %s does not match total_amount %s (mismatch %s)",
				label, sum.StringFixed(2), rec.TotalAmount.StringFixed(2), diff.StringFixed(2))
		}
	}

	for i, rec := range batch.Expenses {
		label := fmt.Sprintf("expense[%d]", i)
		if rec.Date.IsZero() {
			add("%s: date is required", label)
		}
		v.structProblems(label, rec, add)
		if !rec.Amount.IsPositive() {
			add("%s: amount must be greater than 0", label)
		}
	}
	return res
}

func (v *Validator) structProblems(label string, rec any, add func(string, ...any)) {
	err := v.validate.Struct(rec)
	if err == nil {
		return
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		add("%s: %v", label, err)
		return
	}
	for _, fe := range verrs {
		add("%s: %s", label, describeFieldError(fe))
	}
}

func describeFieldError(fe validator.FieldError) string {
	field := fieldPath(fe)
	switch fe.Tag() {
	case "required", "notblank":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s %q must be one of %s", field, fmt.Sprint(fe.Value()), strings.ReplaceAll(fe.Param(), " ", ", "))
	case "datetime":
		return fmt.Sprintf("%s %q must use the HH:MM format", field, fmt.Sprint(fe.Value()))
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}

// fieldPath drops the struct name from the namespace, e.g. "line_items[1].item_name".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if idx := strings.Index(ns, "."); idx >= 0 {
		return ns[idx+1:]
	}
	return fe.Field()
}

func catalogKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
