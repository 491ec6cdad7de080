package handler

import (
	"fmt"

	"github.com/crypto_custody/draftvault/model"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// RegisterValidators adds the custom binding tags used by the request
// structs. Call once before serving.
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return fmt.Errorf("unexpected binding engine %T", binding.Validator.Engine())
	}
	return v.RegisterValidation("draftstatus", func(fl validator.FieldLevel) bool {
		return model.DraftStatus(fl.Field().String()).Valid()
	})
}
