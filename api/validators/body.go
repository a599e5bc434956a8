package validators

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/stockledger-backend/pkg/errors"
)

// MaxBodyBytes bounds request bodies. A full reconciliation batch fits well
// inside it.
const MaxBodyBytes = 4 << 20

// unitPattern matches unit tokens such as bottle, glass or case_6.
var unitPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,31}$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" || tag == "-" {
			return f.Name
		}
		return tag
	})
	// decimals validate as floats so numeric tags such as gt=0 apply
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.InexactFloat64()
		}
		return nil
	}, decimal.Decimal{})
	_ = v.RegisterValidation("unit", func(fl validator.FieldLevel) bool {
		return unitPattern.MatchString(fl.Field().String())
	})
	return v
}

// DecodeJSONBody decodes a single JSON document into dest, rejecting unknown
// fields and trailing data, then runs struct validation.
func DecodeJSONBody(r *http.Request, dest any) error {
	body := io.LimitReader(r.Body, MaxBodyBytes+1)
	defer func() {
		_, _ = io.Copy(io.Discard, body)
	}()

	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return invalidBody(err)
	}
	if decoder.More() {
		return invalidBody(errors.New("body must contain a single JSON document"))
	}
	if decoder.InputOffset() > MaxBodyBytes {
		return invalidBody(fmt.Errorf("body exceeds %d bytes", MaxBodyBytes))
	}
	return ValidateStruct(dest)
}

// ValidateStruct runs struct tag validation and reports failures per field.
func ValidateStruct(dest any) error {
	err := validate.Struct(dest)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "validation failed")
	}
	details := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		details[fieldPath(fe)] = validationMessage(fe)
	}
	return pkgerrors.New(pkgerrors.CodeValidation, "validation failed").WithDetails(details)
}

func invalidBody(err error) error {
	return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid request body").
		WithDetails(map[string]any{"error": err.Error()})
}

// fieldPath drops the struct name prefix so nested items read as
// transactions[2].quantity.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of %s", fe.Param())
	case "nefield":
		return "must differ from " + fe.Param()
	case "unit":
		return "must be a lowercase unit name"
	}
	return "is invalid"
}
