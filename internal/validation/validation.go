// Package validation wraps go-playground/validator with the project's
// custom rules and translates failures into apperr.ValidationError.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/nhle/notifyhub/internal/apperr"
	"github.com/nhle/notifyhub/internal/model"
)

// Validator checks request structs against their validate tags.
type Validator struct {
	v *validator.Validate
}

// New returns a Validator that reports JSON field names and knows the
// servicetype, authtype, priority and status rules.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})

	rules := map[string]func(string) bool{
		"servicetype": func(s string) bool { return model.ServiceType(s).Valid() },
		"authtype":    func(s string) bool { return model.AuthType(s).Valid() },
		"priority":    func(s string) bool { return model.Priority(s).Valid() },
		"status":      func(s string) bool { return model.Status(s).Valid() },
	}
	for tag, ok := range rules {
		// Registration only fails for empty tags.
		_ = v.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
			return ok(fl.Field().String())
		})
	}

	return &Validator{v: v}
}

// Struct validates s and returns the first failure as a ValidationError.
func (val *Validator) Struct(s any) error {
	err := val.v.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &apperr.ValidationError{Message: err.Error()}
	}

	fe := verrs[0]
	return &apperr.ValidationError{Field: fieldPath(fe.Namespace()), Message: describe(fe)}
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(ns string) string {
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		switch fe.Kind() {
		case reflect.Slice, reflect.Map:
			return fmt.Sprintf("must have at most %s entries", fe.Param())
		case reflect.String:
			return fmt.Sprintf("must be at most %s characters", fe.Param())
		}
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "url":
		return "must be a valid URL"
	case "servicetype":
		return fmt.Sprintf("unknown service type %q", fe.Value())
	case "authtype":
		return fmt.Sprintf("unknown auth type %q", fe.Value())
	case "priority":
		return fmt.Sprintf("unknown priority %q", fe.Value())
	case "status":
		return fmt.Sprintf("unknown status %q", fe.Value())
	}
	return fmt.Sprintf("failed %q validation", fe.Tag())
}
