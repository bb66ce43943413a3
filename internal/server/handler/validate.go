package handler

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is shared by every handler; validator.Validate caches struct
// metadata and is safe for concurrent use.
var validate = newValidator()

type requestValidator struct {
	v *validator.Validate
}

func newValidator() *requestValidator {
	v := validator.New()
	// Report JSON field names rather than Go field names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &requestValidator{v: v}
}

// Structured returns field -> message for every failed rule, or nil.
func (rv *requestValidator) Structured(i any) map[string]string {
	err := rv.v.Struct(i)
	if err == nil {
		return nil
	}
	errs := make(map[string]string)
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		errs["_global"] = err.Error()
		return errs
	}
	for _, e := range verrs {
		msg := fmt.Sprintf("failed validation on '%s'", e.Tag())
		switch e.Tag() {
		case "required":
			msg = "This field is required"
		case "eth_addr":
			msg = "Must be a 0x-prefixed 20-byte hex address"
		case "oneof":
			msg = fmt.Sprintf("Must be one of: %s", e.Param())
		case "gt":
			msg = fmt.Sprintf("Must be greater than %s", e.Param())
		case "gte", "min":
			msg = fmt.Sprintf("Must be at least %s", e.Param())
		case "lte", "max":
			msg = fmt.Sprintf("Must be at most %s", e.Param())
		}
		errs[e.Field()] = msg
	}
	return errs
}
