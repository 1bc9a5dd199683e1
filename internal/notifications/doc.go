// Package notifications delivers batch events to ntfy.
//
// The default implementation publishes to the topic URL configured in
// config.toml and degrades to a no-op when no topic is set. Each event class
// (batch started, batch completed, fatal error) can be switched off
// individually.
package notifications
