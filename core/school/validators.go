package school

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/rollbook/core"
)

var (
	batchTag  = "batch"
	batchText = "select a valid batch"

	modeTag  = "mode"
	modeText = "select a valid mode"

	endBeforeJoinText = "end date cannot be before the join date"
)

// InitValidators registers the school validators & translations.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(batchTag, func(fl validator.FieldLevel) bool {
		return Batch(fl.Field().String()).Valid()
	})
	core.RegisterCustomTranslation(validate, translator, batchTag, batchText)

	_ = validate.RegisterValidation(modeTag, func(fl validator.FieldLevel) bool {
		return Mode(fl.Field().String()).Valid()
	})
	core.RegisterCustomTranslation(validate, translator, modeTag, modeText)
}
