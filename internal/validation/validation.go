package validation

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
)

// Failure reasons carried by ValidationError.
const (
	ReasonRequired  = "required"
	ReasonMalformed = "malformed"
	ReasonTooShort  = "too_short"
	ReasonInvalid   = "invalid"
)

// MinNotesLength is the minimum trimmed length of a status note.
const MinNotesLength = 5

var validate *validator.Validate

func init() {
	validate = validator.New()

	// report fields by their JSON names
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})

	RegisterCustomValidations()
}

// ValidationError names the first request field that failed and why.
type ValidationError struct {
	Field  string
	Reason string
	Param  string
}

func (e *ValidationError) Error() string {
	switch e.Reason {
	case ReasonRequired:
		return fmt.Sprintf("%s is required", e.Field)
	case ReasonMalformed:
		return "Invalid Ethereum address format"
	case ReasonTooShort:
		return fmt.Sprintf("%s must be at least %s characters long", label(e.Field), e.Param)
	default:
		return fmt.Sprintf("%s is invalid", e.Field)
	}
}

// UpdateStatusRequest is the input of a status note write.
type UpdateStatusRequest struct {
	TrackingID  string `json:"trackingId" validate:"required"`
	FromAddress string `json:"fromAddress" validate:"required,ledger_address"`
	Notes       string `json:"notes" validate:"required,trimmed_min=5"`
}

// ValidateUpdateRequest checks the syntactic preconditions of a status note
// write. It performs no I/O.
func ValidateUpdateRequest(trackingID, notes, fromAddress string) error {
	return ValidateStruct(UpdateStatusRequest{
		TrackingID:  strings.TrimSpace(trackingID),
		FromAddress: fromAddress,
		Notes:       notes,
	})
}

// ValidateStruct validates a struct using validation tags and returns the
// first failure as a *ValidationError.
func ValidateStruct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok || len(fieldErrs) == 0 {
		return err
	}

	return fromFieldError(fieldErrs[0])
}

// RegisterCustomValidations registers custom validation functions
func RegisterCustomValidations() {
	validate.RegisterValidation("ledger_address", func(fl validator.FieldLevel) bool {
		// 20 byte hex, 0x prefix optional, checksum casing not enforced
		return common.IsHexAddress(fl.Field().String())
	})

	validate.RegisterValidation("trimmed_min", func(fl validator.FieldLevel) bool {
		n, err := strconv.Atoi(fl.Param())
		if err != nil {
			return false
		}
		return utf8.RuneCountInString(strings.TrimSpace(fl.Field().String())) >= n
	})
}

func fromFieldError(fe validator.FieldError) *ValidationError {
	reason := ReasonInvalid
	switch fe.Tag() {
	case "required":
		reason = ReasonRequired
	case "ledger_address":
		reason = ReasonMalformed
	case "trimmed_min":
		reason = ReasonTooShort
	}

	return &ValidationError{Field: fe.Field(), Reason: reason, Param: fe.Param()}
}

func label(field string) string {
	if field == "" {
		return field
	}
	return strings.ToUpper(field[:1]) + field[1:]
}
