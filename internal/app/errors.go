package app

import (
	"net/http"
	"strings"

	"swipeskills/internal/logging"
	"swipeskills/internal/service"
	"swipeskills/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

// statusFor maps the service error taxonomy onto HTTP statuses
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, service.ErrInvalidOperation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrTransient):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// respondError writes the error envelope for a service error
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	log := logging.FromContext(c.Request.Context()).WithError(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed")
		if status == http.StatusServiceUnavailable {
			util.ErrorResponse(c, status, "Service temporarily unavailable, please retry", nil)
			return
		}
		util.InternalServerError(c, "Internal server error")
		return
	}
	log.Debug("request rejected")
	util.ErrorResponse(c, status, err.Error(), nil)
}

// bindError reports a request binding failure, listing failed fields
func bindError(c *gin.Context, err error) {
	var validationErr validator.ValidationErrors
	if errors.As(err, &validationErr) {
		fields := make(map[string]string, len(validationErr))
		for _, fieldErr := range validationErr {
			fields[fieldErr.Field()] = fieldErr.Tag()
		}
		util.ErrorResponse(c, http.StatusBadRequest, "Invalid request", fields)
		return
	}
	util.BadRequest(c, err.Error())
}

// registerValidators adds the custom binding tags used by request structs
func registerValidators() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
}
