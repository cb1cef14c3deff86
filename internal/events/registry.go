package events

import "fmt"

var allowedEvents = map[string]struct{}{
	// model
	"model.loaded":   {},
	"model.reloaded": {},
	"model.updated":  {},
	"model.invalid":  {},

	// plan
	"plan.selected": {},
	"plan.failed":   {},

	// property
	"property.set":      {},
	"property.rejected": {},

	// constraint
	"constraint.updated": {},

	// mqtt
	"mqtt.connected":    {},
	"mqtt.disconnected": {},

	// system
	"system.startup":  {},
	"system.shutdown": {},
	"system.error":    {},
}

func Validate(event string) error {
	if _, ok := allowedEvents[event]; !ok {
		return fmt.Errorf("unknown event: %s", event)
	}
	return nil
}
