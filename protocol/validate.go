package protocol

import (
	"reflect"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate runs the struct's validate tags. Non-struct values pass.
func Validate(v any) error {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil
	}
	return validate.Struct(v)
}
