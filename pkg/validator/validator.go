package validator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/jwalitptl/booking-engine/internal/timezone"
	apperrors "github.com/jwalitptl/booking-engine/pkg/errors"
)

// FieldError is one failed rule, keyed by the JSON field name.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

var messages = map[string]string{
	"required":    "is required",
	"required_if": "is required",
	"min":         "is too small",
	"max":         "is too large",
	"oneof":       "is not an allowed value",
	"gtfield":     "must be after %s",
	"clock":       "must be a HH:MM time of day",
	"timezone":    "must be an IANA timezone",
}

// Validator provides validation functionality
type Validator struct {
	v *validator.Validate
}

func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	register(v)
	return &Validator{v: v}
}

var registerOnce sync.Once

// RegisterGinBinding makes gin's ShouldBind* validate `validate` tags with this
// package's rules and error format.
func RegisterGinBinding() {
	registerOnce.Do(func() {
		binding.Validator = &ginValidator{v: New()}
	})
}

type ginValidator struct {
	v *Validator
}

func (g *ginValidator) ValidateStruct(obj interface{}) error {
	if obj == nil {
		return nil
	}
	val := reflect.ValueOf(obj)
	for val.Kind() == reflect.Pointer {
		if val.IsNil() {
			return nil
		}
		val = val.Elem()
	}
	if val.Kind() != reflect.Struct {
		return nil
	}
	return g.v.Validate(obj)
}

func (g *ginValidator) Engine() interface{} {
	return g.v.v
}

func register(v *validator.Validate) {
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	_ = v.RegisterValidation("clock", func(fl validator.FieldLevel) bool {
		_, err := timezone.ParseClock(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("timezone", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return s == "" || timezone.IsValid(s)
	})
}

// Validate checks obj's validate tags and returns a validation AppError listing every failed field.
func (v *Validator) Validate(obj interface{}) error {
	err := v.v.Struct(obj)
	if err == nil {
		return nil
	}
	return Translate(err)
}

// Translate turns validator errors into a validation AppError. Other errors pass through.
func Translate(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	fields := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		msg, ok := messages[fe.Tag()]
		if !ok {
			msg = "failed " + fe.Tag() + " validation"
		}
		if strings.Contains(msg, "%s") {
			msg = fmt.Sprintf(msg, fe.Param())
		}
		fields = append(fields, FieldError{Field: fieldPath(fe), Message: msg})
	}

	appErr := apperrors.BadRequest("request validation failed", err)
	appErr.Details = fields
	return appErr
}

// fieldPath drops the top-level struct name from the namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}
