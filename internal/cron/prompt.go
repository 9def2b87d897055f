package cron

import "fmt"

// ExtraPrompt builds the delivery-contract system prompt for a fired turn.
// The turn must end with the result delivered through a send tool; the
// instruction names the tool matching the configured delivery channel.
func ExtraPrompt(d Delivery) string {
	var deliver string
	switch d.Channel {
	case "telegram":
		deliver = fmt.Sprintf("You MUST deliver the result by calling the telegram_send tool with to=%q.", d.To)
	case "session":
		deliver = fmt.Sprintf("You MUST deliver the result by calling the sessions_send tool with session_key=%q.", d.To)
	default:
		deliver = "You MUST deliver the result by calling the appropriate send tool."
	}

	return "This is an automated scheduled task execution.\n" +
		"Rules:\n" +
		"1. Execute the task described in the message.\n" +
		"2. " + deliver + "\n" +
		"3. Do not ask clarifying questions; nobody is watching this session.\n" +
		"4. Do not end the turn without having delivered the result."
}
