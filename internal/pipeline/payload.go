// Package pipeline contains the chat push fan-out: payload construction,
// recipient resolution, multicast dispatch and invalid-token reconciliation.
package pipeline

import (
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
)

// PreviewLimit is the maximum length of the message preview, in runes,
// including the ellipsis.
const PreviewLimit = 140

const ellipsis = "..."

// ChatMessage is one chat message to announce. Empty optional fields fall
// back to NotificationConfig defaults: RoomID -> DefaultRoom,
// DisplayName -> FallbackName.
type ChatMessage struct {
	RoomID      string
	Text        string
	DisplayName string
	SenderUID   string
}

// NotificationConfig holds the fixed presentation values of a chat push.
type NotificationConfig struct {
	Title        string
	FallbackName string
	DefaultRoom  string
	Icon         string
	Badge        string
	Link         string
}

func DefaultNotificationConfig() NotificationConfig {
	return NotificationConfig{
		Title:        "Ladendetektiv – Chat",
		FallbackName: "Jemand",
		DefaultRoom:  "global",
		Icon:         "/icons/icon-192.png",
		Badge:        "/icons/badge-96.png",
		Link:         "/#chat",
	}
}

// withDefaults fills empty fields from DefaultNotificationConfig.
func (c NotificationConfig) withDefaults() NotificationConfig {
	d := DefaultNotificationConfig()
	if c.Title == "" {
		c.Title = d.Title
	}
	if c.FallbackName == "" {
		c.FallbackName = d.FallbackName
	}
	if c.DefaultRoom == "" {
		c.DefaultRoom = d.DefaultRoom
	}
	if c.Icon == "" {
		c.Icon = d.Icon
	}
	if c.Badge == "" {
		c.Badge = d.Badge
	}
	if c.Link == "" {
		c.Link = d.Link
	}
	return c
}

// Payload is what gets sent to every recipient.
type Payload struct {
	Content notification.NotificationContent
	Data    map[string]string
}

// Preview truncates text to PreviewLimit runes, replacing the tail with an
// ellipsis when it is longer.
func Preview(text string) string {
	runes := []rune(text)
	if len(runes) <= PreviewLimit {
		return text
	}
	return string(runes[:PreviewLimit-len(ellipsis)]) + ellipsis
}

// BuildPayload composes the data-only payload consumed by the service worker:
// roomId, title, body, icon, badge and link.
func BuildPayload(msg ChatMessage, cfg NotificationConfig) Payload {
	cfg = cfg.withDefaults()

	name := msg.DisplayName
	if name == "" {
		name = cfg.FallbackName
	}
	room := msg.RoomID
	if room == "" {
		room = cfg.DefaultRoom
	}

	body := name + " hat geschrieben"
	if preview := Preview(msg.Text); preview != "" {
		body = name + ": " + preview
	}

	return Payload{
		Content: notification.NotificationContent{Title: cfg.Title, Body: body},
		Data: map[string]string{
			"roomId": room,
			"title":  cfg.Title,
			"body":   body,
			"icon":   cfg.Icon,
			"badge":  cfg.Badge,
			"link":   cfg.Link,
		},
	}
}
