package settings

import (
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPaymentWindowFallback(t *testing.T) {
	holder := NewStaticHolder(BillingSettings{})
	assert.Equal(t, FallbackPaymentWindowDays, holder.DefaultPaymentWindowDays(snowflake.ID(42)))
}

func TestGlobalPaymentWindow(t *testing.T) {
	holder := NewStaticHolder(BillingSettings{PaymentWindowDays: 14})
	assert.Equal(t, 14, holder.DefaultPaymentWindowDays(snowflake.ID(42)))
}

func TestOrgOverrideWins(t *testing.T) {
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	orgID := node.Generate()

	days := 7
	holder := NewStaticHolder(BillingSettings{
		PaymentWindowDays: 14,
		Organizations: map[string]OrgSettings{
			orgID.String(): {PaymentWindowDays: &days},
		},
	})

	assert.Equal(t, 7, holder.DefaultPaymentWindowDays(orgID))
	assert.Equal(t, 14, holder.DefaultPaymentWindowDays(node.Generate()))
}

func TestValidateRejectsNegative(t *testing.T) {
	assert.Error(t, validate(BillingSettings{PaymentWindowDays: -1}))

	bad := -3
	assert.Error(t, validate(BillingSettings{
		Organizations: map[string]OrgSettings{"1": {PaymentWindowDays: &bad}},
	}))
}
