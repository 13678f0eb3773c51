package model

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/teambition/rrule-go"
)

var validate *validator.Validate

func init() {
	validate = validator.New()

	// Report JSON field names instead of Go struct names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = validate.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	_ = validate.RegisterValidation("datelayout", func(fl validator.FieldLevel) bool {
		_, err := time.Parse(DateLayout, fl.Field().String())
		return err == nil
	})
	_ = validate.RegisterValidation("timelayout", func(fl validator.FieldLevel) bool {
		_, err := time.Parse(TimeLayout, fl.Field().String())
		return err == nil
	})
	_ = validate.RegisterValidation("eventtype", func(fl validator.FieldLevel) bool {
		return EventType(fl.Field().String()).Valid()
	})
	_ = validate.RegisterValidation("rrule", func(fl validator.FieldLevel) bool {
		_, err := rrule.StrToROption(fl.Field().String())
		return err == nil
	})
}

// ErrInvalidEvent wraps every validation failure returned by ValidateEvent.
var ErrInvalidEvent = errors.New("invalid event")

// ValidateEvent checks the user-editable fields of e.
func ValidateEvent(e Event) error {
	err := validate.Struct(e)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrInvalidEvent, strings.Join(fields, ", "))
}
