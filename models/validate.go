package models

import (
	"reflect"

	"github.com/go-playground/validator/v10"
)

/*
RegisterWithValidator register with the validator this custom validation support

	@param v *validator.Validate - the validator to register against
	@return whether successful
*/
func RegisterWithValidator(v *validator.Validate) error {
	if err := v.RegisterValidation(
		"queue_status", validateQueueStatusType,
	); err != nil {
		return err
	}

	if err := v.RegisterValidation(
		"connection_status", validateConnectionStatusType,
	); err != nil {
		return err
	}

	return nil
}

func validateQueueStatusType(fl validator.FieldLevel) bool {
	if fl.Field().Kind() != reflect.String {
		return false
	}
	switch QueueStatusENUMType(fl.Field().String()) {
	case QueueStatusPending:
		fallthrough
	case QueueStatusFailed:
		return true
	}
	return false
}

func validateConnectionStatusType(fl validator.FieldLevel) bool {
	if fl.Field().Kind() != reflect.String {
		return false
	}
	switch ConnectionStatusENUMType(fl.Field().String()) {
	case ConnectionStatusPending:
		fallthrough
	case ConnectionStatusAccepted:
		fallthrough
	case ConnectionStatusBlocked:
		return true
	}
	return false
}
