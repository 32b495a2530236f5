// Package event defines the wire envelope and the closed catalogue of event
// kinds pushed to subscribers: message-created, message-deleted,
// messages-read, and conversation-update.
//
// Envelopes carry a unique ID for duplicate suppression and an opaque JSON
// payload decoded by kind. Decode validates required identifiers so malformed
// events fail at the edge instead of corrupting subscriber views.
package event
