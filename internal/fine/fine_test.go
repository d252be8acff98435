package fine

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/mmeshcher/bookworm/internal/model"
)

func TestCalculate(t *testing.T) {
	due := time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		returned time.Time
		rate     string
		want     string
	}{
		{
			name:     "returned on due date",
			returned: due,
			rate:     "1.00",
			want:     "0",
		},
		{
			name:     "one day late",
			returned: due.AddDate(0, 0, 1),
			rate:     "0.75",
			want:     "0.75",
		},
		{
			name:     "ten days late at half rate",
			returned: due.AddDate(0, 0, 10),
			rate:     "0.50",
			want:     "5.00",
		},
		{
			name:     "returned early",
			returned: due.AddDate(0, 0, -3),
			rate:     "1.00",
			want:     "0",
		},
		{
			name:     "later the same day",
			returned: due.Add(23 * time.Hour),
			rate:     "1.00",
			want:     "0",
		},
		{
			name:     "rounded to cents",
			returned: due.AddDate(0, 0, 3),
			rate:     "0.333",
			want:     "1.00",
		},
		{
			name:     "zero rate",
			returned: due.AddDate(0, 0, 4),
			rate:     "0",
			want:     "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Calculate(due, tt.returned, decimal.RequireFromString(tt.rate))
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s, want %s", got, tt.want)
			assert.False(t, got.IsNegative())
		})
	}
}

func TestCalculate_AgreesWithOverdueFlag(t *testing.T) {
	due := time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)
	loan := model.Loan{DueDate: due, Status: model.LoanStatusActive}
	rate := decimal.RequireFromString("0.25")

	for h := -48; h <= 72; h += 5 {
		at := due.Add(time.Duration(h) * time.Hour)
		assert.Equal(t, loan.IsOverdue(at), Calculate(due, at, rate).IsPositive(), "at %s", at)
	}
}
