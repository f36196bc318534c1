package session

import (
	"fmt"
	"strings"

	"github.com/voxtable/voicebridge/internal/backend"
)

// BuildInstructions computes the system prompt for the speech model
// from the tenant configuration and the live order state. It is a pure
// function; it is re-invoked whenever the speech connection is
// (re)configured so the prompt always reflects the current menu and
// order.
func BuildInstructions(cfg *backend.OrgConfig, order *OrderState) string {
	var b strings.Builder

	fragment := strings.TrimSpace(cfg.SystemPrompt)
	if fragment == "" {
		fragment = fmt.Sprintf("You are a friendly phone assistant taking pickup orders for %s.", cfg.OrgName)
	}
	b.WriteString(fragment)
	b.WriteString("\n\n")

	b.WriteString("MENU:\n")
	if len(cfg.Menu) == 0 {
		b.WriteString("(no items available)\n")
	}
	for _, item := range cfg.Menu {
		b.WriteString(fmt.Sprintf("- %s: $%.2f", item.Name, item.Price))
		if item.Description != "" {
			b.WriteString(" (" + item.Description + ")")
		}
		b.WriteString("\n")
	}

	b.WriteString("\nCURRENT ORDER:\n")
	if len(order.Items) == 0 {
		b.WriteString("(empty)\n")
	}
	for _, item := range order.Items {
		b.WriteString(fmt.Sprintf("- %dx %s ($%.2f each)", item.Quantity, item.Name, item.UnitPrice))
		if item.Notes != "" {
			b.WriteString(" - " + item.Notes)
		}
		b.WriteString("\n")
	}
	if len(order.Items) > 0 {
		b.WriteString(fmt.Sprintf("Total so far: $%.2f\n", order.Total()))
	}

	b.WriteString("\nKeep spoken responses to one or two sentences. ")
	b.WriteString("Use the tools to build the order; never invent menu items or prices. ")
	b.WriteString("Always get the customer's name before confirming the order.")

	return b.String()
}
