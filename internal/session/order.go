package session

import "math"

// OrderItem is one line of an in-progress order. The unit price is
// captured from the menu at add time and never re-resolved, so later
// menu refreshes do not change what the caller was quoted.
type OrderItem struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
	Notes     string  `json:"notes,omitempty"`
}

// OrderState is owned exclusively by its session and mutated only
// through tool executions.
type OrderState struct {
	Items               []OrderItem `json:"items"`
	CustomerName        string      `json:"customer_name,omitempty"`
	CustomerPhone       string      `json:"customer_phone,omitempty"`
	PickupTime          string      `json:"pickup_time,omitempty"`
	SpecialInstructions string      `json:"special_instructions,omitempty"`
}

// Total sums quantity times unit price over all items, rounded to cents.
func (o OrderState) Total() float64 {
	var total float64
	for _, item := range o.Items {
		total += float64(item.Quantity) * item.UnitPrice
	}
	return roundCents(total)
}

func (o *OrderState) snapshot() OrderState {
	c := *o
	c.Items = make([]OrderItem, len(o.Items))
	copy(c.Items, o.Items)
	return c
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
