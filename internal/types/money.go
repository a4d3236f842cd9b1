// README: Common money value object used across modules. JPY has no subunits, so
// Amount is always whole yen.
package types

const CurrencyJPY = "JPY"

type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func Yen(amount int64) Money {
	return Money{Amount: amount, Currency: CurrencyJPY}
}
