// Package outbound delivers alarm events and notification requests to the
// places outside the engine: the MQTT alarm and notification topics, an
// HTTP webhook and the alarm history store.
//
// Every sink exposes HandleAlarm with the alerting.AlarmEventHandler
// signature so it can be subscribed to the alarm event bus directly. Sinks
// log and count their failures; they never return them to the bus.
package outbound
