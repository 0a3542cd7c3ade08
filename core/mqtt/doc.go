// Package mqtt defines the broker boundary of the roster engine: plan events
// flow out to subscribers and disruption commands flow in to the repair
// engine. The Paho implementation lives in infra/mqtt.
package mqtt
