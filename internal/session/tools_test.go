package session

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/voxtable/voicebridge/internal/backend"
)

func decodeResult(t *testing.T, result string) map[string]any {
	t.Helper()
	var parsed map[string]any
	if err := json.Unmarshal([]byte(result), &parsed); err != nil {
		t.Fatalf("tool result is not JSON: %v (%q)", err, result)
	}
	return parsed
}

func TestAddItemSubstringMatch(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	s := startedSession(t, r, &fakeCarrier{})

	result := decodeResult(t, r.ExecuteTool(s, "add_item", `{"item_name":"burger"}`))
	if result["success"] != true {
		t.Fatalf("add_item failed: %v", result)
	}
	if result["item_name"] != "Classic Burger" {
		t.Fatalf("matched item = %v, want Classic Burger", result["item_name"])
	}
	if result["order_total"] != 18.50 {
		t.Fatalf("order_total = %v, want 18.50", result["order_total"])
	}
}

func TestAddItemMatchesInEitherDirection(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	s := startedSession(t, r, &fakeCarrier{})

	// Request text contains the full menu name.
	result := decodeResult(t, r.ExecuteTool(s, "add_item", `{"item_name":"one classic burger please"}`))
	if result["success"] != true || result["item_name"] != "Classic Burger" {
		t.Fatalf("reverse substring match failed: %v", result)
	}
}

func TestAddItemNotOnMenu(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	s := startedSession(t, r, &fakeCarrier{})

	result := decodeResult(t, r.ExecuteTool(s, "add_item", `{"item_name":"pizza"}`))
	if result["success"] != false {
		t.Fatalf("add_item(pizza) = %v, want failure", result)
	}
	if !strings.Contains(result["error"].(string), "not found on menu") {
		t.Fatalf("error = %v", result["error"])
	}
	if total := s.OrderSnapshot().Total(); total != 0 {
		t.Fatalf("total changed on failed add: %v", total)
	}
}

func TestAddItemQuantityAndTotals(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	s := startedSession(t, r, &fakeCarrier{})

	r.ExecuteTool(s, "add_item", `{"item_name":"burger","quantity":2}`)
	result := decodeResult(t, r.ExecuteTool(s, "add_item", `{"item_name":"fries"}`))
	if result["order_total"] != 41.25 {
		t.Fatalf("order_total = %v, want 41.25", result["order_total"])
	}

	bad := decodeResult(t, r.ExecuteTool(s, "add_item", `{"item_name":"fries","quantity":-1}`))
	if bad["success"] != false {
		t.Fatalf("negative quantity accepted: %v", bad)
	}
}

func TestAddItemPriceCapturedAtAddTime(t *testing.T) {
	r, api, _ := newTestRegistry(t)
	s := startedSession(t, r, &fakeCarrier{})

	r.ExecuteTool(s, "add_item", `{"item_name":"burger"}`)

	// Menu refresh with a new price must not change already-added items.
	api.mu.Lock()
	api.cfg = &backend.OrgConfig{
		OrgID: "org-1",
		Menu:  []backend.MenuItem{{ID: "m1", Name: "Classic Burger", Price: 99.99}},
	}
	api.mu.Unlock()

	if total := s.OrderSnapshot().Total(); total != 18.50 {
		t.Fatalf("total after menu refresh = %v, want 18.50", total)
	}
}

func TestRemoveItem(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	s := startedSession(t, r, &fakeCarrier{})

	r.ExecuteTool(s, "add_item", `{"item_name":"burger"}`)
	r.ExecuteTool(s, "add_item", `{"item_name":"salad"}`)

	result := decodeResult(t, r.ExecuteTool(s, "remove_item", `{"item_name":"BURGER"}`))
	if result["success"] != true || result["removed"] != "Classic Burger" {
		t.Fatalf("remove_item = %v", result)
	}
	if result["order_total"] != 12.00 {
		t.Fatalf("order_total = %v, want 12.00", result["order_total"])
	}

	missing := decodeResult(t, r.ExecuteTool(s, "remove_item", `{"item_name":"burger"}`))
	if missing["success"] != false {
		t.Fatalf("removing absent item = %v, want failure", missing)
	}
}

func TestOrderSummaryEmptyShape(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	s := startedSession(t, r, &fakeCarrier{})

	result := decodeResult(t, r.ExecuteTool(s, "get_order_summary", `{}`))
	if result["success"] != true || result["empty"] != true {
		t.Fatalf("empty summary = %v", result)
	}
	if result["total"] != float64(0) {
		t.Fatalf("empty total = %v, want 0", result["total"])
	}
}

func TestOrderSummaryWithItems(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	s := startedSession(t, r, &fakeCarrier{})

	r.ExecuteTool(s, "add_item", `{"item_name":"burger","quantity":2,"notes":"no onions"}`)
	r.ExecuteTool(s, "set_customer_name", `{"name":"Alex"}`)
	r.ExecuteTool(s, "set_pickup_time", `{"time":"in 20 minutes"}`)

	result := decodeResult(t, r.ExecuteTool(s, "get_order_summary", `{}`))
	if result["customer_name"] != "Alex" || result["pickup_time"] != "in 20 minutes" {
		t.Fatalf("summary fields = %v", result)
	}
	if result["total"] != 37.00 {
		t.Fatalf("summary total = %v, want 37.00", result["total"])
	}
}

func TestConfirmOrderEmptyNeverSubmits(t *testing.T) {
	r, api, _ := newTestRegistry(t)
	s := startedSession(t, r, &fakeCarrier{})

	result := decodeResult(t, r.ExecuteTool(s, "confirm_order", `{}`))
	if result["success"] != false {
		t.Fatalf("confirm on empty order = %v, want failure", result)
	}
	if api.submitCount() != 0 {
		t.Fatalf("submission collaborator called for empty order")
	}
}

func TestConfirmOrderMissingNameNeverSubmits(t *testing.T) {
	r, api, _ := newTestRegistry(t)
	s := startedSession(t, r, &fakeCarrier{})

	r.ExecuteTool(s, "add_item", `{"item_name":"burger"}`)
	result := decodeResult(t, r.ExecuteTool(s, "confirm_order", `{}`))
	if result["success"] != false {
		t.Fatalf("confirm without name = %v, want failure", result)
	}
	if api.submitCount() != 0 {
		t.Fatalf("submission collaborator called without customer name")
	}
}

func TestConfirmOrderSubmitsOnce(t *testing.T) {
	r, api, _ := newTestRegistry(t)
	s := startedSession(t, r, &fakeCarrier{})

	r.ExecuteTool(s, "add_item", `{"item_name":"burger","quantity":2}`)
	r.ExecuteTool(s, "set_customer_name", `{"name":"Alex"}`)

	result := decodeResult(t, r.ExecuteTool(s, "confirm_order", `{}`))
	if result["success"] != true {
		t.Fatalf("confirm_order = %v, want success", result)
	}
	if result["order_reference"] != "ord-1" {
		t.Fatalf("order_reference = %v, want ord-1", result["order_reference"])
	}
	if api.submitCount() != 1 {
		t.Fatalf("submissions = %d, want 1", api.submitCount())
	}

	api.mu.Lock()
	sub := api.submissions[0]
	api.mu.Unlock()
	if sub.TotalAmount != 37.00 {
		t.Fatalf("submitted totalAmount = %v, want 37.00", sub.TotalAmount)
	}
	if sub.CustomerName != "Alex" || sub.Channel != "voice" {
		t.Fatalf("submission = %+v", sub)
	}
	if sub.SessionID != s.ID || sub.OrgID != "org-1" {
		t.Fatalf("submission identity = %+v", sub)
	}
}

func TestConfirmOrderCarriesSpecialInstructions(t *testing.T) {
	r, api, _ := newTestRegistry(t)
	s := startedSession(t, r, &fakeCarrier{})

	r.ExecuteTool(s, "add_item", `{"item_name":"burger"}`)
	r.ExecuteTool(s, "set_customer_name", `{"name":"Alex"}`)

	result := decodeResult(t, r.ExecuteTool(s, "confirm_order", `{"special_instructions":"ring the back doorbell"}`))
	if result["success"] != true {
		t.Fatalf("confirm_order = %v, want success", result)
	}
	api.mu.Lock()
	sub := api.submissions[0]
	api.mu.Unlock()
	if sub.SpecialInstructions != "ring the back doorbell" {
		t.Fatalf("specialInstructions = %q", sub.SpecialInstructions)
	}
}

func TestConfirmOrderSubmitFailureKeepsSessionOpen(t *testing.T) {
	r, api, _ := newTestRegistry(t)
	api.mu.Lock()
	api.submitResult = backend.SubmitResult{Success: false, Message: "backend down"}
	api.mu.Unlock()
	s := startedSession(t, r, &fakeCarrier{})

	r.ExecuteTool(s, "add_item", `{"item_name":"burger"}`)
	r.ExecuteTool(s, "set_customer_name", `{"name":"Alex"}`)

	result := decodeResult(t, r.ExecuteTool(s, "confirm_order", `{}`))
	if result["success"] != false {
		t.Fatalf("confirm with failing backend = %v, want failure", result)
	}
	if _, err := r.Get(s.ID); err != nil {
		t.Fatalf("session torn down on submit failure: %v", err)
	}

	// Retry after the backend recovers must work on the same session.
	api.mu.Lock()
	api.submitResult = backend.SubmitResult{Success: true, OrderID: "ord-2"}
	api.mu.Unlock()
	retry := decodeResult(t, r.ExecuteTool(s, "confirm_order", `{}`))
	if retry["success"] != true || retry["order_reference"] != "ord-2" {
		t.Fatalf("retry = %v, want success with ord-2", retry)
	}
}

func TestExecuteToolBadArgumentsAndUnknownTool(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	s := startedSession(t, r, &fakeCarrier{})

	result := decodeResult(t, r.ExecuteTool(s, "add_item", `{"item_name":`))
	if result["success"] != false {
		t.Fatalf("malformed args = %v, want failure", result)
	}
	unknown := decodeResult(t, r.ExecuteTool(s, "teleport_order", `{}`))
	if unknown["success"] != false {
		t.Fatalf("unknown tool = %v, want failure", unknown)
	}
}

func TestToolHookReceivesOutcomes(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	s := startedSession(t, r, &fakeCarrier{})

	type call struct{ tool, outcome string }
	var calls []call
	r.SetToolHook(func(tool, outcome string) {
		calls = append(calls, call{tool, outcome})
	})

	r.ExecuteTool(s, "add_item", `{"item_name":"burger"}`)
	r.ExecuteTool(s, "add_item", `{"item_name":"pizza"}`)

	if len(calls) != 2 {
		t.Fatalf("hook calls = %d, want 2", len(calls))
	}
	if calls[0].outcome != "ok" || calls[1].outcome != "not_found" {
		t.Fatalf("outcomes = %+v", calls)
	}
}

func TestExecuteToolRefreshesIdleClock(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	s := startedSession(t, r, &fakeCarrier{})

	r.mu.Lock()
	s.lastActivity = time.Now().UTC().Add(-time.Hour)
	r.mu.Unlock()

	r.ExecuteTool(s, "get_order_summary", `{}`)

	r.mu.RLock()
	idle := time.Since(s.lastActivity)
	r.mu.RUnlock()
	if idle > time.Minute {
		t.Fatalf("tool execution did not refresh idle clock: %v", idle)
	}
}
