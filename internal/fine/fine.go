// Package fine рассчитывает штрафы за несвоевременный возврат книг.
package fine

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/bookworm/internal/model"
)

// DefaultDailyRate используется, если ставка не задана в конфигурации.
var DefaultDailyRate = decimal.RequireFromString("1.00")

// Calculate возвращает сумму штрафа за просрочку между dueDate и returnDate.
// Просрочка считается в целых календарных днях, сумма округляется до центов.
// Для возврата в срок или раньше срока результат равен нулю.
func Calculate(dueDate, returnDate time.Time, dailyRate decimal.Decimal) decimal.Decimal {
	days := model.DaysLate(dueDate, returnDate)
	if days <= 0 || !dailyRate.IsPositive() {
		return decimal.Zero
	}
	return dailyRate.Mul(decimal.NewFromInt(int64(days))).Round(2)
}
