package policy

import (
	"reflect"
	"strings"

	errs "github.com/LambdaTest/flakewatch/pkg/errors"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

const (
	yamlTagName  = "yaml"
	emptyTagName = "-"
	subString    = 2
	globTag      = "glob"
)

// Validator validates policy documents and reports per field messages.
type Validator struct {
	validate *validator.Validate
	trans    ut.Translator
}

// NewValidator configures the struct validator with english translations and yaml field names.
func NewValidator() (*Validator, error) {
	validate := validator.New()
	eng := en.New()
	uni := ut.New(eng, eng)
	trans, _ := uni.GetTranslator("en")
	if err := en_translations.RegisterDefaultTranslations(validate, trans); err != nil {
		return nil, err
	}
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get(yamlTagName), ",", subString)[0]
		if name == emptyTagName || name == "" {
			return fld.Name
		}
		return name
	})
	if err := validate.RegisterValidation(globTag, func(fl validator.FieldLevel) bool {
		return doublestar.ValidatePattern(fl.Field().String())
	}); err != nil {
		return nil, err
	}
	if err := validate.RegisterTranslation(globTag, trans,
		func(ut ut.Translator) error {
			return ut.Add(globTag, "{0} must be a valid glob pattern", true)
		},
		func(ut ut.Translator, fe validator.FieldError) string {
			t, _ := ut.T(globTag, fe.Field())
			return t
		}); err != nil {
		return nil, err
	}
	return &Validator{validate: validate, trans: trans}, nil
}

// Validate checks the document field constraints.
func (v *Validator) Validate(doc *Document) error {
	if err := v.validate.Struct(doc); err != nil {
		return errs.ValidationErr(err, v.trans)
	}
	return nil
}
