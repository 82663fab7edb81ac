package appointment

import (
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/careslot/scheduling-api/internal/model"
)

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		// timeslot restricts a field to the bookable slot vocabulary.
		_ = v.RegisterValidation("timeslot", func(fl validator.FieldLevel) bool {
			return model.ValidSlotLabel(fl.Field().String())
		})
	}
}
