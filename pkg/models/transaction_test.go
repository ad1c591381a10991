package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAmountToMoney(t *testing.T) {
	testCases := []struct {
		name           string
		amount         Amount
		expectedAmount int64
		expectedCurr   string
	}{
		{
			name:           "Whole number",
			amount:         Amount{Value: "100", Currency: "USD"},
			expectedAmount: 10000,
			expectedCurr:   "USD",
		},
		{
			name:           "Decimal number",
			amount:         Amount{Value: "25.99", Currency: "RUB"},
			expectedAmount: 2599,
			expectedCurr:   "RUB",
		},
		{
			name:           "Single decimal place",
			amount:         Amount{Value: "10.5", Currency: "USD"},
			expectedAmount: 1050,
			expectedCurr:   "USD",
		},
		{
			name:           "Negative outflow",
			amount:         Amount{Value: "-1250.50", Currency: "RUB"},
			expectedAmount: -125050,
			expectedCurr:   "RUB",
		},
		{
			name:           "Extra fraction digits are rounded",
			amount:         Amount{Value: "1.005", Currency: "EUR"},
			expectedAmount: 101,
			expectedCurr:   "EUR",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := tc.amount.ToMoney()
			require.NoError(t, err)
			assert.Equal(t, tc.expectedAmount, result.Amount())
			assert.Equal(t, tc.expectedCurr, result.Currency().Code)
		})
	}
}

func TestAmountToMoneyInvalid(t *testing.T) {
	_, err := Amount{Value: "abc", Currency: "RUB"}.ToMoney()
	assert.Error(t, err)

	// Display never fails
	assert.Equal(t, "abc RUB", Amount{Value: "abc", Currency: "RUB"}.Display())
}

func TestPreferredBalances(t *testing.T) {
	balances := []Balance{
		{AccountID: "A1", Bank: "vbank", Amount: "50.00", Currency: "RUB", BalanceType: BalanceTypeOpeningBooked},
		{AccountID: "A1", Bank: "vbank", Amount: "70.00", Currency: "RUB", BalanceType: BalanceTypeInterimBooked},
		{AccountID: "A1", Bank: "abank", Amount: "10.00", Currency: "RUB", BalanceType: "expected"},
		{AccountID: "A2", Bank: "vbank", Amount: "5.00", Currency: "RUB", BalanceType: "expected"},
		{AccountID: "A2", Bank: "vbank", Amount: "6.00", Currency: "RUB", BalanceType: BalanceTypeOpeningBooked},
	}

	selected := PreferredBalances(balances)
	require.Len(t, selected, 3)

	// Same account id on two banks stays two accounts
	assert.Equal(t, "70.00", selected[0].Amount)
	assert.Equal(t, "abank", selected[1].Bank)
	assert.Equal(t, "10.00", selected[1].Amount)
	assert.Equal(t, "6.00", selected[2].Amount)
}

func TestConsentResponseApproved(t *testing.T) {
	assert.True(t, ConsentResponse{Status: ConsentStatusApproved, ConsentID: "c-1", AutoApproved: true}.Approved())
	assert.True(t, ConsentResponse{Status: ConsentStatusApproved, ConsentID: "c-1"}.Approved())
	assert.False(t, ConsentResponse{Status: ConsentStatusPending, RequestID: "r-1"}.Approved())
	assert.False(t, ConsentResponse{Status: ConsentStatusApproved}.Approved())
}

func TestLinkedAccountQueryID(t *testing.T) {
	assert.Equal(t, "acc-1", LinkedAccount{AccountNumber: "4081", AccountID: "acc-1"}.QueryID())
	assert.Equal(t, "4081", LinkedAccount{AccountNumber: "4081"}.QueryID())
}
