package errors

import (
	"errors"
	"fmt"
	"strings"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
)

// ValidationError represents a single field validation failure.
type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationErrors is returned when a document fails schema validation.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	reasons := make([]string, 0, len(v))
	for _, e := range v {
		reasons = append(reasons, fmt.Sprintf("%s: %s", e.Field, e.Reason))
	}
	return "validation failed: " + strings.Join(reasons, "; ")
}

// MissingInReqErr is a error function corresponding to missing request entities.
func MissingInReqErr(field string) error {
	return NewWithCode(CodeInvalidInput, fmt.Sprintf("Missing %s in request body.", field))
}

// InvalidInReqErr is a error function corresponding to invalid requests.
func InvalidInReqErr(field string) error {
	return NewWithCode(CodeInvalidInput, fmt.Sprintf("Invalid %s in request body.", field))
}

// ValidationErr converts validator errors to per-field messages, translated when trans is non nil.
func ValidationErr(err error, trans ut.Translator) error {
	var verr validator.ValidationErrors
	if errors.As(err, &verr) {
		return validationErr(verr, trans)
	}
	return err
}

func validationErr(verr validator.ValidationErrors, trans ut.Translator) ValidationErrors {
	errs := ValidationErrors{}
	for _, f := range verr {
		err := f.ActualTag()
		if f.Param() != "" {
			err = fmt.Sprintf("%s=%s", err, f.Param())
		}
		if trans != nil {
			err = f.Translate(trans)
		}
		field := f.Namespace()
		// drop the root struct name, callers only care about the document path
		if idx := strings.Index(field, "."); idx >= 0 {
			field = field[idx+1:]
		}
		errs = append(errs, ValidationError{Field: field, Reason: err})
	}
	return errs
}
