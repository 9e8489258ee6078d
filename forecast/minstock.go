package forecast

// LeadTimeWeeks is the number of week numbers covered by a delivery time.
func LeadTimeWeeks(deliveryDays int) int {
	if deliveryDays <= 0 {
		return 0
	}
	return (deliveryDays + 6) / 7
}

// MinStockForLeadTime sums salesYear's actual sales over the lead-time window
// starting at week. Weeks without recorded sales count as zero.
func MinStockForLeadTime(sales []YearSales, salesYear, week, deliveryDays int) int {
	total := 0
	for i := 0; i < LeadTimeWeeks(deliveryDays); i++ {
		total += SalesAt(sales, salesYear, week+i)
	}
	return total
}

// ApplyDeliveryTime sets the variant's delivery time and recomputes minStock
// for in-scope weeks from last calendar year's actual sales. Expected sales
// and inventory are left alone; only statuses follow the new thresholds.
func (e *Engine) ApplyDeliveryTime(v Variant, deliveryDays int) Variant {
	cur := e.CurrentWeek()
	salesYear := cur.Year - 1

	p := v.Clone()
	p.DeliveryTime = deliveryDays
	for yi := range p.Forecast {
		yf := &p.Forecast[yi]
		for wi := range yf.Weeks {
			w := &yf.Weeks[wi]
			key := WeekKey{Year: yf.Year, Week: w.Week}
			if key.Before(cur) {
				continue
			}
			w.MinStock = MinStockForLeadTime(p.Sales, salesYear, w.Week, deliveryDays)
			w.Status = StatusFor(w.Inventory, w.MinStock)
			if key == cur {
				p.CurrentWeekStatus = w.Status
			}
		}
	}
	return p
}
