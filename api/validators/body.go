package validators

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	pkgerrors "github.com/angelmondragon/codevault-backend/pkg/errors"
)

const defaultMaxBodyBytes int64 = 1 << 20

// structValidator reports fields by their json name so error details match the request body.
var structValidator = sync.OnceValue(func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		switch name {
		case "-":
			return ""
		case "":
			return f.Name
		}
		return name
	})
	return v
})

type bodyRules struct {
	optional bool
	maxBytes int64
}

type BodyOption func(*bodyRules)

// Optional accepts an empty body and validates dest as left.
func Optional() BodyOption { return func(b *bodyRules) { b.optional = true } }

// MaxBytes overrides the 1 MiB body cap.
func MaxBytes(n int64) BodyOption { return func(b *bodyRules) { b.maxBytes = n } }

// DecodeJSONBody reads exactly one JSON object into dest and runs its validate tags. Unknown
// fields are rejected.
func DecodeJSONBody(r *http.Request, dest any, opts ...BodyOption) error {
	rules := bodyRules{maxBytes: defaultMaxBodyBytes}
	for _, opt := range opts {
		opt(&rules)
	}

	body := http.MaxBytesReader(nil, r.Body, rules.maxBytes)
	defer func() {
		_, _ = io.Copy(io.Discard, body)
	}()

	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	err := dec.Decode(dest)
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, io.EOF) && rules.optional:
	case errors.As(err, &tooLarge):
		return pkgerrors.New(pkgerrors.CodeValidation, "request body too large").
			WithDetails(map[string]any{"max_bytes": tooLarge.Limit})
	case err != nil:
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid request body").
			WithDetails(map[string]any{"error": err.Error()})
	case dec.More():
		return pkgerrors.New(pkgerrors.CodeValidation, "request body must contain a single JSON object")
	}
	return Struct(dest)
}

// Struct runs validate tags on v and returns a CodeValidation error keyed by json field name.
func Struct(v any) error {
	err := structValidator().Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "validation failed")
	}
	details := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		details[fe.Field()] = describe(fe)
	}
	return pkgerrors.New(pkgerrors.CodeValidation, "validation failed").WithDetails(details)
}

var tagMessages = map[string]string{
	"required": "is required",
	"min":      "must be at least %s",
	"max":      "must be at most %s",
	"gt":       "must be greater than %s",
	"gte":      "must be at least %s",
	"oneof":    "must be one of: %s",
	"uuid":     "must be a valid uuid",
	"uuid4":    "must be a valid uuid",
	"email":    "must be a valid email",
}

func describe(fe validator.FieldError) string {
	msg, ok := tagMessages[fe.Tag()]
	if !ok {
		return "is invalid"
	}
	if strings.Contains(msg, "%s") {
		return fmt.Sprintf(msg, fe.Param())
	}
	return msg
}
