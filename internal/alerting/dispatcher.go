package alerting

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/alarmpipe/alarmpipe/internal/logger"
)

// Notification asks the notification service to run one action for an
// alarm transition. Delivery over email, webhook or pager happens there.
type Notification struct {
	ActionID     string `json:"action_id"`
	AlarmID      string `json:"alarm_id"`
	DefinitionID string `json:"alarm_definition_id"`
	AlarmName    string `json:"alarm_name,omitempty"`
	Severity     string `json:"severity,omitempty"`
	State        State  `json:"state"`
	OldState     State  `json:"old_state"`
	Message      string `json:"message"`
	Timestamp    int64  `json:"state_updated_timestamp"`
}

// NotificationPublisher forwards notification requests downstream.
type NotificationPublisher interface {
	PublishNotification(n *Notification) error
}

// ActionDispatcher turns alarm events into one notification request per
// action id configured for the new state.
type ActionDispatcher struct {
	publisher NotificationPublisher
	log       logger.Logger
	onError   func()
}

// NewActionDispatcher creates a dispatcher. onError, if set, is called once
// per notification that could not be published.
func NewActionDispatcher(publisher NotificationPublisher, log logger.Logger, onError func()) *ActionDispatcher {
	return &ActionDispatcher{
		publisher: publisher,
		log:       log.With(logger.String("component", "action_dispatcher")),
		onError:   onError,
	}
}

// Dispatch is an AlarmEventHandler. It returns the number of notifications
// published so callers outside the bus can check the result.
func (d *ActionDispatcher) Dispatch(event *AlarmEvent) int {
	if d.publisher == nil || event == nil || event.Definition == nil {
		return 0
	}
	def := event.Definition
	actions := lo.Uniq(lo.Compact(def.Actions(event.State)))
	if len(actions) == 0 {
		return 0
	}

	message := renderMessage(def, event)
	sent := 0
	for _, action := range actions {
		n := &Notification{
			ActionID:     action,
			AlarmID:      event.ID,
			DefinitionID: def.ID,
			AlarmName:    def.Name,
			Severity:     def.Severity,
			State:        event.State,
			OldState:     event.PreviousState,
			Message:      message,
			Timestamp:    event.StateUpdatedTimestamp,
		}
		if err := d.publisher.PublishNotification(n); err != nil {
			if d.onError != nil {
				d.onError()
			}
			d.log.Error("failed to publish notification",
				logger.String("definition_id", def.ID),
				logger.String("action_id", action),
				logger.Error(err))
			continue
		}
		sent++
	}
	return sent
}

// Handler adapts Dispatch to the bus handler signature.
func (d *ActionDispatcher) Handler() AlarmEventHandler {
	return func(event *AlarmEvent) { d.Dispatch(event) }
}

// renderMessage substitutes {{placeholders}} in the definition description.
// An empty description falls back to a generic one-liner.
func renderMessage(def *Definition, event *AlarmEvent) string {
	if def.Description == "" {
		return defaultMessage(def, event)
	}
	pairs := []string{
		"{{name}}", def.Name,
		"{{id}}", def.ID,
		"{{state}}", event.State.String(),
		"{{old_state}}", event.PreviousState.String(),
		"{{severity}}", def.Severity,
	}
	if m := event.Metrics; m != nil {
		pairs = append(pairs,
			"{{metric}}", m.Name,
			"{{value}}", strconv.FormatFloat(m.Value, 'g', -1, 64))
		for k, v := range m.Dimensions {
			pairs = append(pairs, fmt.Sprintf("{{dimensions.%s}}", k), v)
		}
	}
	return strings.NewReplacer(pairs...).Replace(def.Description)
}

func defaultMessage(def *Definition, event *AlarmEvent) string {
	name := def.Name
	if name == "" {
		name = def.ID
	}
	if event.Metrics != nil {
		return fmt.Sprintf("Alarm %s is %s (%s)", name, event.State, event.Metrics.Name)
	}
	return fmt.Sprintf("Alarm %s is %s", name, event.State)
}
