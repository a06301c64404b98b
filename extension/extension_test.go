package extension

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/retainer/contract"
	redisidem "github.com/xraph/retainer/idempotency/redis"
	"github.com/xraph/retainer/store/memory"
)

func TestMergeConfigurations(t *testing.T) {
	tests := []struct {
		name         string
		yaml         Config
		programmatic Config
		want         Config
	}{
		{
			name: "defaults fill empty config",
			want: DefaultConfig(),
		},
		{
			name:         "yaml wins over programmatic values",
			yaml:         Config{IdempotencyTTL: time.Hour, LaborTax: LaborTaxSharedBase},
			programmatic: Config{IdempotencyTTL: time.Minute, LaborTax: LaborTaxTierRate},
			want:         Config{IdempotencyTTL: time.Hour, LaborTax: LaborTaxSharedBase},
		},
		{
			name:         "programmatic fills gaps",
			programmatic: Config{DisableMigrate: true, Redis: redisidem.Config{Addr: "localhost:6379"}},
			want: Config{
				DisableMigrate: true,
				IdempotencyTTL: 24 * time.Hour,
				LaborTax:       LaborTaxTierRate,
				Redis:          redisidem.Config{Addr: "localhost:6379", KeyPrefix: redisidem.DefaultKeyPrefix},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mergeConfigurations(tt.yaml, tt.programmatic))
		})
	}
}

func TestLaborTaxPolicy(t *testing.T) {
	c := &contract.Contract{
		BaseTaxRate:  decimal.NewFromInt(19),
		TierTaxRates: map[contract.Tier]decimal.Decimal{"senior": decimal.NewFromInt(7)},
	}

	tier, err := laborTaxPolicy(LaborTaxTierRate)
	require.NoError(t, err)
	assert.True(t, tier(c, "senior").Equal(decimal.NewFromInt(7)))
	assert.True(t, tier(c, "junior").Equal(decimal.NewFromInt(19)))

	shared, err := laborTaxPolicy(LaborTaxSharedBase)
	require.NoError(t, err)
	assert.True(t, shared(c, "senior").Equal(decimal.NewFromInt(19)))

	_, err = laborTaxPolicy("flat")
	assert.Error(t, err)
}

func TestOptions(t *testing.T) {
	s := memory.New()
	e := New(
		WithStore(s),
		WithDisableMigrate(),
		WithIdempotencyTTL(time.Hour),
		WithLaborTax(LaborTaxSharedBase),
		WithRedisAddr("redis:6379"),
	)

	assert.Same(t, s, e.store)
	assert.True(t, e.config.DisableMigrate)
	assert.Equal(t, time.Hour, e.config.IdempotencyTTL)
	assert.Equal(t, LaborTaxSharedBase, e.config.LaborTax)
	assert.Equal(t, "redis:6379", e.config.Redis.Addr)
	assert.Nil(t, e.Engine())
}
