package pricing

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// FormatYen renders an amount the way the customer UI shows it, e.g. ¥7,150.
func FormatYen(amount int64) string {
	return message.NewPrinter(language.Japanese).Sprintf("¥%d", amount)
}

// Display returns the customer-facing strings for a breakdown.
func (b FareBreakdown) Display() map[string]string {
	return map[string]string{
		"base_fare":            FormatYen(b.BaseFare),
		"toll_fee":             FormatYen(b.Surcharges.TollFee),
		"cargo_surcharge":      FormatYen(b.Surcharges.CargoSurcharge),
		"urgency_surcharge":    FormatYen(b.Surcharges.UrgencySurcharge),
		"helper_fee":           FormatYen(b.Surcharges.HelperFee),
		"waiting_fee":          FormatYen(b.Surcharges.WaitingFee),
		"loading_fee":          FormatYen(b.Surcharges.LoadingFee),
		"net_price":            FormatYen(b.NetPrice),
		"tax_amount":           FormatYen(b.TaxAmount),
		"total_customer_price": FormatYen(b.TotalCustomerPrice),
	}
}
