package validation

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	structValidator *validator.Validate
	structOnce      sync.Once
)

func structs() *validator.Validate {
	structOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		// wsurl accepts ws:// and wss:// endpoints only.
		_ = v.RegisterValidation("wsurl", func(fl validator.FieldLevel) bool {
			u, err := url.Parse(fl.Field().String())
			if err != nil || u.Host == "" {
				return false
			}
			return u.Scheme == "ws" || u.Scheme == "wss"
		})
		// nspath accepts socket namespace paths such as "/" or "/chat".
		_ = v.RegisterValidation("nspath", func(fl validator.FieldLevel) bool {
			p := fl.Field().String()
			return strings.HasPrefix(p, "/") && !strings.ContainsAny(p, " ?#")
		})
		structValidator = v
	})
	return structValidator
}

// Struct validates a struct using its `validate` tags.
func Struct(v any) error {
	if v == nil {
		return errors.New("value cannot be nil")
	}
	if err := structs().Struct(v); err != nil {
		return formatValidationError(err)
	}
	return nil
}

func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s: is required", fe.Namespace()))
		case "wsurl":
			msgs = append(msgs, fmt.Sprintf("%s: %q is not a ws:// or wss:// URL", fe.Namespace(), fe.Value()))
		case "nspath":
			msgs = append(msgs, fmt.Sprintf("%s: %q is not a namespace path", fe.Namespace(), fe.Value()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s: failed %q (param %q)", fe.Namespace(), fe.Tag(), fe.Param()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}
