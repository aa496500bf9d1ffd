package api

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/complyio/complyio/internal/rules"
	"github.com/complyio/complyio/pkg/shared/errors"
	"github.com/complyio/complyio/pkg/shared/validation"
)

// newValidator returns a validator that reports json field names and knows
// the rulename and itemid tags.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("rulename", func(fl validator.FieldLevel) bool {
		return rules.IsKnownName(fl.Field().String())
	})
	_ = v.RegisterValidation("itemid", func(fl validator.FieldLevel) bool {
		return validation.IsValidItemID(fl.Field().String())
	})
	return v
}

// validateStruct converts validator failures into a ValidationError on the
// first failing field.
func (s *Server) validateStruct(body interface{}) error {
	err := s.validate.Struct(body)
	if err == nil {
		return nil
	}
	fieldErrors, ok := err.(validator.ValidationErrors)
	if !ok || len(fieldErrors) == 0 {
		return errors.NewValidationError("", "%v", err)
	}
	fe := fieldErrors[0]
	return errors.NewValidationError(fe.Field(), "%s", describe(fe))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "min":
		return "must contain at least " + fe.Param() + " element(s)"
	case "oneof":
		return "must be one of " + fe.Param()
	case "rulename":
		return "is not a known rule name"
	case "itemid":
		return "must be a positive number or a GUID"
	default:
		return "failed on the " + fe.Tag() + " rule"
	}
}
