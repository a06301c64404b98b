package mongo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

func TestCommitWritesContractDecides(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))

	var ran []string
	step := func(name string, err error) func(context.Context) error {
		return func(context.Context) error {
			ran = append(ran, name)
			return err
		}
	}

	err := commitWrites(ctx, log, "acme",
		step("advance", nil),
		step("close", errors.New("socket closed")),
		step("open", nil),
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"advance", "close", "open"}, ran)
	assert.Contains(t, buf.String(), "client_id=acme")
	assert.Contains(t, buf.String(), "socket closed")

	ran = nil
	err = commitWrites(ctx, log, "acme",
		step("advance", errVersionMismatch),
		step("close", nil),
	)
	require.ErrorIs(t, err, errVersionMismatch)
	assert.Equal(t, []string{"advance"}, ran)
}

func TestTransactionsUnsupported(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"standalone", mongo.CommandError{Code: 20, Message: "Transaction numbers are only allowed on a replica set member or mongos"}, true},
		{"wrapped", fmt.Errorf("commit: %w", mongo.CommandError{Code: 20}), true},
		{"other command error", mongo.CommandError{Code: 11000}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, transactionsUnsupported(tt.err))
		})
	}
}
