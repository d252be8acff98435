package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator проверяет структуры форм по тегам validate.
type Validator struct {
	validate *validator.Validate
}

// New создаёт валидатор с зарегистрированным правилом isbn.
// Паникует, если правило не удалось зарегистрировать.
func New() *Validator {
	v, err := newValidator(map[string]validator.Func{
		// Встроенное правило isbn не допускает дефисы, поэтому заменяем его своим.
		"isbn": func(fl validator.FieldLevel) bool {
			return IsValidISBN(fl.Field().String())
		},
	})
	if err != nil {
		panic(err)
	}
	return v
}

func newValidator(rules map[string]validator.Func) (*Validator, error) {
	v := validator.New(validator.WithRequiredStructEnabled())
	for tag, fn := range rules {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return nil, fmt.Errorf("register validation %q: %w", tag, err)
		}
	}
	return &Validator{validate: v}, nil
}

// Struct валидирует структуру и возвращает validator.ValidationErrors при нарушениях.
func (v *Validator) Struct(s any) error {
	return v.validate.Struct(s)
}

// Messages переводит ошибки валидации в сообщения для пользователя по именам полей.
func Messages(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}

	res := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		res[fe.Field()] = message(fe)
	}
	return res
}

// Summary склеивает сообщения валидации в одну строку для flash-сообщения.
func Summary(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fe.Field()+": "+message(fe))
	}
	return strings.Join(parts, "; ")
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "isbn":
		return "must be a valid ISBN-10 or ISBN-13"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	default:
		return fmt.Sprintf("failed on '%s'", fe.Tag())
	}
}
