package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/voxtable/voicebridge/internal/backend"
	"github.com/voxtable/voicebridge/internal/realtime"
)

// ToolSchema declares the order-building functions exposed to the
// speech model. Descriptions are written for the model, not for
// humans reading code.
func ToolSchema() []realtime.Tool {
	return []realtime.Tool{
		{
			Type:        "function",
			Name:        "add_item",
			Description: "Add an item from the menu to the caller's order. Use the closest menu item name.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"item_name": map[string]any{
						"type":        "string",
						"description": "Name of the menu item the caller asked for",
					},
					"quantity": map[string]any{
						"type":        "integer",
						"description": "How many to add, defaults to 1",
					},
					"notes": map[string]any{
						"type":        "string",
						"description": "Free-text modifications, e.g. 'no onions'",
					},
				},
				"required": []string{"item_name"},
			},
		},
		{
			Type:        "function",
			Name:        "remove_item",
			Description: "Remove an item from the caller's order by name.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"item_name": map[string]any{
						"type":        "string",
						"description": "Name of the item to remove",
					},
				},
				"required": []string{"item_name"},
			},
		},
		{
			Type:        "function",
			Name:        "set_customer_name",
			Description: "Record the caller's name for the order. Required before confirming.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name": map[string]any{"type": "string"},
				},
				"required": []string{"name"},
			},
		},
		{
			Type:        "function",
			Name:        "set_pickup_time",
			Description: "Record the requested pickup time, in the caller's own words.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"time": map[string]any{"type": "string"},
				},
				"required": []string{"time"},
			},
		},
		{
			Type:        "function",
			Name:        "get_order_summary",
			Description: "Read back the current order: items, name, pickup time and total.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		{
			Type:        "function",
			Name:        "confirm_order",
			Description: "Submit the finished order. Only call after the caller has confirmed and given their name.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"special_instructions": map[string]any{
						"type":        "string",
						"description": "Order-wide notes for the kitchen, if the caller gave any",
					},
				},
			},
		},
	}
}

type addItemArgs struct {
	ItemName string `json:"item_name"`
	Quantity int    `json:"quantity"`
	Notes    string `json:"notes"`
}

type removeItemArgs struct {
	ItemName string `json:"item_name"`
}

type setNameArgs struct {
	Name string `json:"name"`
}

type setPickupArgs struct {
	Time string `json:"time"`
}

type confirmArgs struct {
	SpecialInstructions string `json:"special_instructions"`
}

// ExecuteTool runs one tool call against the session's order state and
// returns a structured JSON result string for the model. Failures are
// always results, never errors: the caller should hear "that isn't on
// the menu", not silence. Executions are serialized per session.
func (r *Registry) ExecuteTool(s *Session, name, argsJSON string) string {
	s.toolMu.Lock()
	defer s.toolMu.Unlock()

	r.Touch(s.ID)

	var result string
	outcome := "ok"
	switch name {
	case "add_item":
		result, outcome = r.addItem(s, argsJSON)
	case "remove_item":
		result, outcome = r.removeItem(s, argsJSON)
	case "set_customer_name":
		result, outcome = r.setCustomerName(s, argsJSON)
	case "set_pickup_time":
		result, outcome = r.setPickupTime(s, argsJSON)
	case "get_order_summary":
		result, outcome = r.orderSummary(s), "ok"
	case "confirm_order":
		result, outcome = r.confirmOrder(s, argsJSON)
	default:
		result, outcome = failureResult(fmt.Sprintf("unknown tool %q", name)), "unknown_tool"
	}

	r.emitTool(name, outcome)
	return result
}

func (r *Registry) addItem(s *Session, argsJSON string) (string, string) {
	var args addItemArgs
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return failureResult("invalid arguments"), "bad_args"
	}
	if args.Quantity == 0 {
		args.Quantity = 1
	}
	if args.Quantity < 0 {
		return failureResult("quantity must be a positive number"), "bad_args"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.config == nil {
		return failureResult("menu not loaded yet"), "no_menu"
	}
	menuItem, ok := matchMenuItem(s.config.Menu, args.ItemName)
	if !ok {
		return failureResult(fmt.Sprintf("%q not found on menu", args.ItemName)), "not_found"
	}

	s.order.Items = append(s.order.Items, OrderItem{
		ID:        uuid.NewString(),
		Name:      menuItem.Name,
		Quantity:  args.Quantity,
		UnitPrice: menuItem.Price,
		Notes:     strings.TrimSpace(args.Notes),
	})

	return successResult(map[string]any{
		"item_name":   menuItem.Name,
		"quantity":    args.Quantity,
		"unit_price":  menuItem.Price,
		"order_total": s.order.Total(),
	}), "ok"
}

func (r *Registry) removeItem(s *Session, argsJSON string) (string, string) {
	var args removeItemArgs
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return failureResult("invalid arguments"), "bad_args"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	want := strings.ToLower(strings.TrimSpace(args.ItemName))
	for i, item := range s.order.Items {
		if strings.Contains(strings.ToLower(item.Name), want) {
			s.order.Items = append(s.order.Items[:i], s.order.Items[i+1:]...)
			return successResult(map[string]any{
				"removed":     item.Name,
				"order_total": s.order.Total(),
			}), "ok"
		}
	}
	return failureResult(fmt.Sprintf("%q is not in the current order", args.ItemName)), "not_found"
}

func (r *Registry) setCustomerName(s *Session, argsJSON string) (string, string) {
	var args setNameArgs
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return failureResult("invalid arguments"), "bad_args"
	}
	s.mu.Lock()
	s.order.CustomerName = strings.TrimSpace(args.Name)
	s.mu.Unlock()
	return successResult(map[string]any{"customer_name": strings.TrimSpace(args.Name)}), "ok"
}

func (r *Registry) setPickupTime(s *Session, argsJSON string) (string, string) {
	var args setPickupArgs
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return failureResult("invalid arguments"), "bad_args"
	}
	s.mu.Lock()
	s.order.PickupTime = strings.TrimSpace(args.Time)
	s.mu.Unlock()
	return successResult(map[string]any{"pickup_time": strings.TrimSpace(args.Time)}), "ok"
}

func (r *Registry) orderSummary(s *Session) string {
	s.mu.Lock()
	order := s.order.snapshot()
	s.mu.Unlock()

	if len(order.Items) == 0 {
		return successResult(map[string]any{
			"empty":   true,
			"message": "The order is currently empty.",
			"total":   0,
		})
	}
	return successResult(map[string]any{
		"items":         order.Items,
		"customer_name": order.CustomerName,
		"pickup_time":   order.PickupTime,
		"total":         order.Total(),
	})
}

func (r *Registry) confirmOrder(s *Session, argsJSON string) (string, string) {
	// Arguments are optional here; a bare call is still a confirmation.
	var args confirmArgs
	_ = json.Unmarshal([]byte(argsJSON), &args)

	s.mu.Lock()
	if v := strings.TrimSpace(args.SpecialInstructions); v != "" {
		s.order.SpecialInstructions = v
	}
	order := s.order.snapshot()
	tc := s.telephony
	s.mu.Unlock()

	if len(order.Items) == 0 {
		return failureResult("cannot confirm an empty order; add items first"), "empty_order"
	}
	if strings.TrimSpace(order.CustomerName) == "" {
		return failureResult("customer name is required before confirming; ask for their name"), "missing_name"
	}

	lines := make([]backend.OrderLine, 0, len(order.Items))
	for _, item := range order.Items {
		lines = append(lines, backend.OrderLine{
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Notes:     item.Notes,
		})
	}

	// The submission is a blocking round trip, but it only occupies this
	// session's event loop; other sessions run on their own goroutines.
	submit := r.backend.SubmitOrder(context.Background(), backend.OrderSubmission{
		OrgID:               tc.OrgID,
		SessionID:           s.ID,
		CustomerName:        order.CustomerName,
		CustomerPhone:       order.CustomerPhone,
		Items:               lines,
		PickupTime:          order.PickupTime,
		SpecialInstructions: order.SpecialInstructions,
		TotalAmount:         order.Total(),
		Channel:             "voice",
	})
	if !submit.Success {
		log.Printf("[Session %s] order submission failed: %s", shortID(s.ID), submit.Message)
		return failureResult("there was a problem submitting the order, please ask the caller to try again"), "submit_failed"
	}

	ref := submit.OrderID
	if ref == "" {
		ref = shortID(s.ID)
	}
	return successResult(map[string]any{
		"order_reference": ref,
		"total":           order.Total(),
		"message":         fmt.Sprintf("Order confirmed. Reference %s, total $%.2f.", ref, order.Total()),
	}), "ok"
}

// matchMenuItem resolves the caller's wording against the menu with a
// case-insensitive substring match in either direction: "burger"
// matches "Classic Burger", and "the classic burger deluxe" matches
// "Classic Burger" too.
func matchMenuItem(menu []backend.MenuItem, requested string) (backend.MenuItem, bool) {
	want := strings.ToLower(strings.TrimSpace(requested))
	if want == "" {
		return backend.MenuItem{}, false
	}
	for _, item := range menu {
		name := strings.ToLower(item.Name)
		if strings.Contains(name, want) || strings.Contains(want, name) {
			return item, true
		}
	}
	return backend.MenuItem{}, false
}

func successResult(fields map[string]any) string {
	fields["success"] = true
	return marshalResult(fields)
}

func failureResult(message string) string {
	return marshalResult(map[string]any{"success": false, "error": message})
}

func marshalResult(fields map[string]any) string {
	data, err := json.Marshal(fields)
	if err != nil {
		// Result maps only hold marshalable values; this is unreachable
		// short of a programming error.
		return `{"success":false,"error":"internal error"}`
	}
	return string(data)
}
