package id_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/retainer/id"
)

func TestConstructorsAndParsers(t *testing.T) {
	tests := []struct {
		name    string
		newFn   func() id.ID
		parseFn func(string) (id.ID, error)
		prefix  string
	}{
		{"ContractID", id.NewContractID, id.ParseContractID, "ctr_"},
		{"UsagePeriodID", id.NewUsagePeriodID, id.ParseUsagePeriodID, "uper_"},
		{"SessionID", id.NewSessionID, id.ParseSessionID, "tmr_"},
		{"DraftID", id.NewDraftID, id.ParseDraftID, "drft_"},
		{"LineItemID", id.NewLineItemID, id.ParseLineItemID, "li_"},
		{"BatchID", id.NewBatchID, id.ParseBatchID, "dbat_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := tt.newFn()
			assert.True(t, strings.HasPrefix(original.String(), tt.prefix), "got %q", original)

			parsed, err := tt.parseFn(original.String())
			require.NoError(t, err)
			assert.Equal(t, original.String(), parsed.String())
		})
	}
}

func TestCrossTypeRejection(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		parseFn func(string) (id.ID, error)
	}{
		{"ParseContractID rejects uper_", id.NewUsagePeriodID().String(), id.ParseContractID},
		{"ParseUsagePeriodID rejects tmr_", id.NewSessionID().String(), id.ParseUsagePeriodID},
		{"ParseSessionID rejects drft_", id.NewDraftID().String(), id.ParseSessionID},
		{"ParseDraftID rejects li_", id.NewLineItemID().String(), id.ParseDraftID},
		{"ParseLineItemID rejects ctr_", id.NewContractID().String(), id.ParseLineItemID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.parseFn(tt.input)
			assert.Error(t, err)
		})
	}
}

func TestParseEmpty(t *testing.T) {
	_, err := id.Parse("")
	assert.Error(t, err)
}

func TestNilID(t *testing.T) {
	var i id.ID
	assert.True(t, i.IsNil())
	assert.Empty(t, i.String())
	assert.Empty(t, string(i.Prefix()))
}

func TestMarshalUnmarshalText(t *testing.T) {
	original := id.NewContractID()
	data, err := original.MarshalText()
	require.NoError(t, err)

	var restored id.ID
	require.NoError(t, restored.UnmarshalText(data))
	assert.Equal(t, original.String(), restored.String())

	var nilID id.ID
	data, err = nilID.MarshalText()
	require.NoError(t, err)

	var restoredNil id.ID
	require.NoError(t, restoredNil.UnmarshalText(data))
	assert.True(t, restoredNil.IsNil())
}

func TestValueScan(t *testing.T) {
	original := id.NewUsagePeriodID()
	val, err := original.Value()
	require.NoError(t, err)

	var scanned id.ID
	require.NoError(t, scanned.Scan(val))
	assert.Equal(t, original.String(), scanned.String())

	var fromBytes id.ID
	require.NoError(t, fromBytes.Scan([]byte(original.String())))
	assert.Equal(t, original.String(), fromBytes.String())

	var nilID id.ID
	val, err = nilID.Value()
	require.NoError(t, err)
	assert.Nil(t, val)

	var scannedNil id.ID
	require.NoError(t, scannedNil.Scan(nil))
	assert.True(t, scannedNil.IsNil())

	assert.Error(t, scannedNil.Scan(42))
}

func TestUniqueness(t *testing.T) {
	a := id.NewDraftID()
	b := id.NewDraftID()
	assert.NotEqual(t, a.String(), b.String())
}
