package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validAddress = "0xABCDabcdABCDabcdABCDabcdABCDabcdABCDabcd"

func TestValidateUpdateRequest(t *testing.T) {
	tests := []struct {
		name       string
		trackingID string
		notes      string
		from       string
		field      string
		reason     string
	}{
		{name: "valid", trackingID: "TRACK001", notes: "Package received at warehouse", from: validAddress},
		{name: "address without prefix", trackingID: "TRACK001", notes: "Package received", from: "abcdabcdabcdabcdabcdabcdabcdabcdabcdabcd"},
		{name: "exactly five characters", trackingID: "TRACK001", notes: "  12345  ", from: validAddress},
		{name: "missing tracking id", trackingID: "", notes: "Package received", from: validAddress, field: "trackingId", reason: ReasonRequired},
		{name: "blank tracking id", trackingID: "   ", notes: "Package received", from: validAddress, field: "trackingId", reason: ReasonRequired},
		{name: "missing address", trackingID: "TRACK001", notes: "Package received", from: "", field: "fromAddress", reason: ReasonRequired},
		{name: "malformed address", trackingID: "TRACK001", notes: "Package received", from: "not-an-address", field: "fromAddress", reason: ReasonMalformed},
		{name: "address with bad hex", trackingID: "TRACK001", notes: "Package received", from: "0xZZCDabcdABCDabcdABCDabcdABCDabcdABCDabcd", field: "fromAddress", reason: ReasonMalformed},
		{name: "short address", trackingID: "TRACK001", notes: "Package received", from: "0xabcd", field: "fromAddress", reason: ReasonMalformed},
		{name: "short notes", trackingID: "TRACK001", notes: "ok", from: validAddress, field: "notes", reason: ReasonTooShort},
		{name: "padded short notes", trackingID: "TRACK001", notes: "   ok    ", from: validAddress, field: "notes", reason: ReasonTooShort},
		{name: "empty notes", trackingID: "TRACK001", notes: "", from: validAddress, field: "notes", reason: ReasonRequired},
		{name: "address checked before notes", trackingID: "TRACK001", notes: "ok", from: "nope", field: "fromAddress", reason: ReasonMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUpdateRequest(tt.trackingID, tt.notes, tt.from)
			if tt.field == "" {
				require.NoError(t, err)
				return
			}

			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)
			assert.Equal(t, tt.reason, vErr.Reason)
		})
	}
}

func TestValidationErrorMessages(t *testing.T) {
	err := ValidateUpdateRequest("TRACK001", "ok", validAddress)
	require.EqualError(t, err, "Notes must be at least 5 characters long")

	err = ValidateUpdateRequest("TRACK001", "Package received", "not-an-address")
	require.EqualError(t, err, "Invalid Ethereum address format")

	err = ValidateUpdateRequest("", "Package received", validAddress)
	require.EqualError(t, err, "trackingId is required")
}

func TestNotesLengthCountsCharacters(t *testing.T) {
	// four runes, more than five bytes
	require.Error(t, ValidateUpdateRequest("TRACK001", "ñøté", validAddress))
	require.NoError(t, ValidateUpdateRequest("TRACK001", "ñøtés", validAddress))
}

func TestValidateStruct(t *testing.T) {
	type request struct {
		Owner string `json:"owner" validate:"required,ledger_address"`
		Label string `json:"label" validate:"required"`
	}

	require.NoError(t, ValidateStruct(request{Owner: validAddress, Label: "x"}))

	var vErr *ValidationError
	require.ErrorAs(t, ValidateStruct(request{Owner: validAddress}), &vErr)
	assert.Equal(t, "label", vErr.Field)
	assert.Equal(t, ReasonRequired, vErr.Reason)
}
