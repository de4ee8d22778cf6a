package report

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// marginScale is the number of decimal places kept for margin ratios
const marginScale = 6

// PeriodReport is the profit and loss view of [Open, Close)
type PeriodReport struct {
	Open                 time.Time          `json:"open"`
	Close                time.Time          `json:"close"`
	TotalSales           decimal.Decimal    `json:"total_sales"`
	TotalPurchases       decimal.Decimal    `json:"total_purchases"`
	CostOfGoodsSold      decimal.Decimal    `json:"cost_of_goods_sold"`
	GrossProfit          decimal.Decimal    `json:"gross_profit"`
	TotalExpenses        decimal.Decimal    `json:"total_expenses"`
	NetProfit            decimal.Decimal    `json:"net_profit"`
	GrossMargin          decimal.Decimal    `json:"gross_margin"`
	NetMargin            decimal.Decimal    `json:"net_margin"`
	OpeningStockValue    decimal.Decimal    `json:"opening_stock_value"`
	ClosingStockValue    decimal.Decimal    `json:"closing_stock_value"`
	OpeningCash          decimal.Decimal    `json:"opening_cash"`
	ClosingCash          decimal.Decimal    `json:"closing_cash"`
	Products             []ProductBreakdown `json:"products"`
	ExpenseBreakdown     []ExpenseLine      `json:"expense_breakdown"`
	ProductsBelowMinimum []uuid.UUID        `json:"products_below_minimum,omitempty"`
}

// ProductBreakdown repeats the period formulas for one product
type ProductBreakdown struct {
	ProductID         uuid.UUID       `json:"product_id"`
	ProductCode       string          `json:"product_code"`
	ProductName       string          `json:"product_name"`
	Unit              string          `json:"unit"`
	OpeningLevel      decimal.Decimal `json:"opening_level"`
	ClosingLevel      decimal.Decimal `json:"closing_level"`
	OpeningValue      decimal.Decimal `json:"opening_value"`
	ClosingValue      decimal.Decimal `json:"closing_value"`
	Incoming          decimal.Decimal `json:"incoming"`
	Outgoing          decimal.Decimal `json:"outgoing"`
	QuantitySold      decimal.Decimal `json:"quantity_sold"`
	Sales             decimal.Decimal `json:"sales"`
	Purchases         decimal.Decimal `json:"purchases"`
	ConversionsIn     decimal.Decimal `json:"conversions_in"`
	ConversionsOut    decimal.Decimal `json:"conversions_out"`
	CostOfGoodsSold   decimal.Decimal `json:"cost_of_goods_sold"`
	GrossProfit       decimal.Decimal `json:"gross_profit"`
	GrossMargin       decimal.Decimal `json:"gross_margin"`
	BelowMinimumStock bool            `json:"below_minimum_stock"`
}

// HasActivity reports whether the product had stock or movement in the period
func (b ProductBreakdown) HasActivity() bool {
	return !b.OpeningLevel.IsZero() || !b.ClosingLevel.IsZero() ||
		!b.Incoming.IsZero() || !b.Outgoing.IsZero() || !b.Sales.IsZero()
}

// ExpenseLine is the total of expenses sharing a description and category
type ExpenseLine struct {
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Total       decimal.Decimal `json:"total"`
	Count       int             `json:"count"`
}

// CostOfGoodsSold applies the periodic inventory identity:
// opening value + purchases + conversions in - closing value - conversions out.
func CostOfGoodsSold(openingValue, purchases, conversionsIn, closingValue, conversionsOut decimal.Decimal) decimal.Decimal {
	return openingValue.Add(purchases).Add(conversionsIn).Sub(closingValue).Sub(conversionsOut)
}

// Margin returns profit/sales, or zero when there were no sales
func Margin(profit, sales decimal.Decimal) decimal.Decimal {
	if sales.IsZero() {
		return decimal.Zero
	}
	return profit.Div(sales).Round(marginScale)
}

// Finalize derives profit and margin fields from the totals already filled in
func (r *PeriodReport) Finalize() {
	r.GrossProfit = r.TotalSales.Sub(r.CostOfGoodsSold)
	r.NetProfit = r.GrossProfit.Sub(r.TotalExpenses)
	r.GrossMargin = Margin(r.GrossProfit, r.TotalSales)
	r.NetMargin = Margin(r.NetProfit, r.TotalSales)
}

// Finalize derives COGS, profit and margin for the product
func (b *ProductBreakdown) Finalize() {
	b.CostOfGoodsSold = CostOfGoodsSold(b.OpeningValue, b.Purchases, b.ConversionsIn, b.ClosingValue, b.ConversionsOut)
	b.GrossProfit = b.Sales.Sub(b.CostOfGoodsSold)
	b.GrossMargin = Margin(b.GrossProfit, b.Sales)
}

// ExpenseAccumulator groups expenses by description and category
type ExpenseAccumulator struct {
	lines map[[2]string]*ExpenseLine
}

// NewExpenseAccumulator creates an empty accumulator
func NewExpenseAccumulator() *ExpenseAccumulator {
	return &ExpenseAccumulator{lines: make(map[[2]string]*ExpenseLine)}
}

// Add folds one expense in
func (a *ExpenseAccumulator) Add(description, category string, amount decimal.Decimal) {
	key := [2]string{description, category}
	line, ok := a.lines[key]
	if !ok {
		line = &ExpenseLine{Description: description, Category: category, Total: decimal.Zero}
		a.lines[key] = line
	}
	line.Total = line.Total.Add(amount)
	line.Count++
}

// Lines returns the groups, largest total first
func (a *ExpenseAccumulator) Lines() []ExpenseLine {
	out := make([]ExpenseLine, 0, len(a.lines))
	for _, l := range a.lines {
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Total.Equal(out[j].Total) {
			return out[i].Total.GreaterThan(out[j].Total)
		}
		if out[i].Description != out[j].Description {
			return out[i].Description < out[j].Description
		}
		return out[i].Category < out[j].Category
	})
	return out
}

// Total sums every group
func (a *ExpenseAccumulator) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range a.lines {
		total = total.Add(l.Total)
	}
	return total
}
