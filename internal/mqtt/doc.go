// Package mqtt forwards the engine's event bus to an MQTT broker topic
// as retained JSON messages, for external dashboards that want a tick
// feed without polling the HTTP API. Disabled unless a broker is
// configured; its absence never affects simulation behavior.
//
// The publisher uses Eclipse Paho v2's autopaho package for connection
// management with automatic reconnection, following the same
// connect/will-message/retained-publish shape as the teacher's original
// Home Assistant discovery publisher.
package mqtt
