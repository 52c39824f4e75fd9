package payroll

import "github.com/shopspring/decimal"

var (
	zero    = decimal.Zero
	hundred = decimal.NewFromInt(100)
	twelve  = decimal.NewFromInt(12)
)

// round2 rounds half away from zero to cents.
func round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// percentOf returns base*rate/100, unrounded.
func percentOf(base, rate decimal.Decimal) decimal.Decimal {
	return base.Mul(rate).Div(hundred)
}

func minDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

func maxDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

func sumDecimals(values ...decimal.Decimal) decimal.Decimal {
	total := zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

func decimalOrZero(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return zero
	}
	return *d
}
