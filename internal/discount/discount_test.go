package discount

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyNilDiscountUnchanged(t *testing.T) {
	got, err := Apply(10000, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), got)
}

func TestApplyNonPositiveValueUnchanged(t *testing.T) {
	got, err := Apply(10000, &Discount{Type: TypePercentage, Value: decimal.Zero})
	require.NoError(t, err)
	assert.Equal(t, int64(10000), got)

	got, err = Apply(10000, &Discount{Type: TypeFixed, Value: decimal.NewFromInt(-5)})
	require.NoError(t, err)
	assert.Equal(t, int64(10000), got)
}

func TestApplyPercentage(t *testing.T) {
	// 10% off 100.00
	got, err := Apply(10000, &Discount{Type: TypePercentage, Value: decimal.NewFromInt(10)})
	require.NoError(t, err)
	assert.Equal(t, int64(9000), got)

	// 20% off 50.00 must be 40.00 exactly
	got, err = Apply(5000, &Discount{Type: TypePercentage, Value: decimal.NewFromInt(20)})
	require.NoError(t, err)
	assert.Equal(t, int64(4000), got)
}

func TestApplyPercentageNoCentDrift(t *testing.T) {
	// Repeated application over regeneration cycles always yields the same cents.
	d := &Discount{Type: TypePercentage, Value: decimal.NewFromInt(20)}
	for i := 0; i < 1000; i++ {
		got, err := Apply(5000, d)
		require.NoError(t, err)
		require.Equal(t, int64(4000), got)
	}
}

func TestApplyPercentageOutOfRange(t *testing.T) {
	_, err := Apply(10000, &Discount{Type: TypePercentage, Value: decimal.NewFromInt(101)})
	assert.ErrorIs(t, err, ErrInvalidPercentage)
}

func TestApplyFullPercentage(t *testing.T) {
	got, err := Apply(10000, &Discount{Type: TypePercentage, Value: decimal.NewFromInt(100)})
	require.NoError(t, err)
	assert.Equal(t, int64(0), got)
}

func TestApplyFixed(t *testing.T) {
	got, err := Apply(10000, &Discount{Type: TypeFixed, Value: decimal.NewFromInt(2500)})
	require.NoError(t, err)
	assert.Equal(t, int64(7500), got)
}

func TestApplyFixedExceedingAmountRejected(t *testing.T) {
	_, err := Apply(10000, &Discount{Type: TypeFixed, Value: decimal.NewFromInt(15000)})
	assert.ErrorIs(t, err, ErrExceedsAmount)
}

func TestApplyUnknownTypeRejected(t *testing.T) {
	_, err := Apply(10000, &Discount{Type: "BOGOF", Value: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, ErrInvalidType)
}

func TestPercentageRounding(t *testing.T) {
	// 10% off 1.05 is 0.945; rounds half away from zero to 0.95.
	got, err := Apply(105, &Discount{Type: TypePercentage, Value: decimal.NewFromInt(10)})
	require.NoError(t, err)
	assert.Equal(t, int64(95), got)
}
