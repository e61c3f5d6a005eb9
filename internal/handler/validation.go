package handler

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report JSON field names so error messages match the request body.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// bindJSON parses the body into dst and validates it. The returned error is
// safe to show to the caller.
func bindJSON(c *fiber.Ctx, dst interface{}) error {
	if err := c.BodyParser(dst); err != nil {
		return errors.New("invalid request body")
	}
	return validateStruct(dst)
}

func validateStruct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) || len(validationErrors) == 0 {
		return errors.New("invalid request body")
	}

	first := validationErrors[0]
	field := first.Field()
	switch first.Tag() {
	case "required":
		return fmt.Errorf("field '%s' is required", field)
	case "email":
		return fmt.Errorf("field '%s' must be a valid email address", field)
	case "max":
		return fmt.Errorf("field '%s' must be at most %s characters long", field, first.Param())
	case "len":
		return fmt.Errorf("field '%s' must be exactly %s characters long", field, first.Param())
	case "numeric":
		return fmt.Errorf("field '%s' must contain digits only", field)
	case "oneof":
		return fmt.Errorf("field '%s' must be one of: %s", field, first.Param())
	default:
		return fmt.Errorf("field '%s' is invalid", field)
	}
}
