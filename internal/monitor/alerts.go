package monitor

// AlertSink is where the monitor escalates conditions an operator must see,
// protection-order loss above all. main wires it to the red notification
// channel.
type AlertSink interface {
	Send(message string) error
}
