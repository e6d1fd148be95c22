package handler

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/sifan077/shortlinkd/internal/errx"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// FieldError describes one rejected request field.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

// bindBody parses the JSON body into dst and validates it. Failures are
// errx.Invalid errors carrying the offending fields.
func bindBody(c *fiber.Ctx, op string, dst any) error {
	if err := c.BodyParser(dst); err != nil {
		return errx.E(op, errx.Invalid, errors.New("invalid request body"))
	}
	return validateStruct(op, dst)
}

func validateStruct(op string, v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errx.E(op, errx.Invalid, err)
	}
	fields := make([]FieldError, 0, len(verrs))
	names := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, FieldError{Field: fe.Field(), Rule: fe.Tag()})
		names = append(names, fe.Field())
	}
	return errx.E(op, errx.Invalid, &validationError{
		msg:    fmt.Sprintf("invalid fields: %s", strings.Join(names, ", ")),
		fields: fields,
	})
}

type validationError struct {
	msg    string
	fields []FieldError
}

func (e *validationError) Error() string { return e.msg }

func fieldErrors(err error) []FieldError {
	var ve *validationError
	if errors.As(err, &ve) {
		return ve.fields
	}
	return nil
}
