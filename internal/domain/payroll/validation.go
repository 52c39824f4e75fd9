package payroll

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	_ = v.RegisterValidation("nonneg", func(fl validator.FieldLevel) bool {
		switch d := fl.Field().Interface().(type) {
		case decimal.Decimal:
			return !d.IsNegative()
		case *decimal.Decimal:
			return d == nil || !d.IsNegative()
		}
		return false
	})
	_ = v.RegisterValidation("pct", func(fl validator.FieldLevel) bool {
		switch d := fl.Field().Interface().(type) {
		case decimal.Decimal:
			return validPercent(d)
		case *decimal.Decimal:
			return d == nil || validPercent(*d)
		}
		return false
	})
	return v
}

func validPercent(d decimal.Decimal) bool {
	return !d.IsNegative() && !d.GreaterThan(hundred)
}

// validateStruct runs tag validation and reports the first failure as a ValidationError.
func validateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return invalid("", err.Error())
	}
	fe := verrs[0]
	return invalid(fe.Field(), describeTag(fe))
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "nonneg", "gte":
		if fe.Param() == "" || fe.Param() == "0" {
			return "must not be negative"
		}
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "pct":
		return "must be a percentage between 0 and 100"
	case "oneof":
		return fmt.Sprintf("must be one of %s", fe.Param())
	}
	return fmt.Sprintf("failed %s validation", fe.Tag())
}
