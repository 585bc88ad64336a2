// Package receiver models the client-side push handler: parse an incoming
// push payload, describe the notification to display, and route a click on
// that notification to an in-app path. The browser surfaces (notification
// display, open tabs) sit behind interfaces so the routing rules are testable
// without a browser.
package receiver

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/tinywideclouds/go-maintenance-notify/pkg/notify"
)

// State tracks where the handler is between browser events.
type State int

const (
	// StateIdle means no notification is currently displayed.
	StateIdle State = iota
	// StateNotified means a notification is on screen awaiting a click.
	StateNotified
	// StateDispatched means a click has been routed to an in-app path.
	StateDispatched
)

const (
	ActionView        = "view"
	ActionAcknowledge = "acknowledge"
	ActionLater       = "later"
	ActionDismiss     = "dismiss"
)

const (
	defaultTitle = "Maintenance Alert"
	defaultBody  = "You have a new maintenance notification."
	defaultIcon  = "/icons/icon-192.png"
	defaultBadge = "/icons/badge-72.png"
)

// Payload is the wire shape of a push message. Data is carried opaquely from
// push time to click time; the click handler is its only consumer.
type Payload struct {
	Notification notify.Content    `json:"notification"`
	Data         map[string]string `json:"data"`
}

// Category reads the payload's type tag; empty when untagged.
func (p Payload) Category() notify.Category {
	return notify.Category(p.Data["type"])
}

// Action is one button on a displayed notification.
type Action struct {
	ID    string `json:"action"`
	Title string `json:"title"`
}

// Notification describes what the platform should display.
type Notification struct {
	Title   string            `json:"title"`
	Body    string            `json:"body"`
	Icon    string            `json:"icon"`
	Badge   string            `json:"badge"`
	Tag     string            `json:"tag"`
	Actions []Action          `json:"actions"`
	Data    map[string]string `json:"data"`
}

// Presenter displays a notification to the user.
type Presenter interface {
	Show(n Notification) error
}

// Tab is an open application window the click handler can route into.
type Tab interface {
	URL() string
	Focus() error
	Navigate(path string) error
}

// TabRegistry lists open tabs and opens new ones.
type TabRegistry interface {
	OpenTabs() []Tab
	OpenWindow(url string) error
}

// Receiver is the event handler. It is single-threaded by contract, mirroring
// the execution model of the environment it stands in for.
type Receiver struct {
	origin    string
	presenter Presenter
	tabs      TabRegistry
	logger    *slog.Logger

	state   State
	current Notification
}

func New(origin string, presenter Presenter, tabs TabRegistry, logger *slog.Logger) *Receiver {
	return &Receiver{
		origin:    strings.TrimSuffix(origin, "/"),
		presenter: presenter,
		tabs:      tabs,
		logger:    logger.With("component", "receiver"),
		state:     StateIdle,
	}
}

func (r *Receiver) State() State { return r.state }

// ParsePayload decodes a raw push body. Anything that is not the expected
// JSON shape degrades to a plain-text notification rather than failing the
// display.
func ParsePayload(raw []byte) Payload {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		body := strings.TrimSpace(string(raw))
		if body == "" {
			body = defaultBody
		}
		return Payload{Notification: notify.Content{Title: defaultTitle, Body: body}}
	}
	if p.Notification.Title == "" {
		p.Notification.Title = defaultTitle
	}
	if p.Notification.Body == "" {
		p.Notification.Body = defaultBody
	}
	return p
}

// HandlePush parses the payload, builds the notification description and
// displays it.
func (r *Receiver) HandlePush(raw []byte) error {
	payload := ParsePayload(raw)
	n := buildNotification(payload)

	if err := r.presenter.Show(n); err != nil {
		r.logger.Error("failed to display notification", "err", err)
		return err
	}

	r.current = n
	r.state = StateNotified
	return nil
}

// HandleClick routes a click on the displayed notification. Dismiss closes
// without navigation; every other action resolves a target path and either
// reuses an open app tab or opens a new one.
func (r *Receiver) HandleClick(action string) error {
	n := r.current

	if action == ActionDismiss {
		r.state = StateIdle
		return nil
	}

	path := targetPath(n.Data)

	for _, tab := range r.tabs.OpenTabs() {
		if !strings.HasPrefix(tab.URL(), r.origin) {
			continue
		}
		if err := tab.Focus(); err != nil {
			// A tab that cannot be focused is as good as closed.
			r.logger.Warn("failed to focus existing tab", "err", err)
			break
		}
		if err := tab.Navigate(path); err != nil {
			r.logger.Warn("failed to post navigation to tab", "err", err)
			break
		}
		r.state = StateDispatched
		return nil
	}

	if err := r.tabs.OpenWindow(r.joinOrigin(path)); err != nil {
		r.logger.Error("failed to open window", "err", err)
		return err
	}
	r.state = StateDispatched
	return nil
}

func (r *Receiver) joinOrigin(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return r.origin + path
}

// buildNotification maps a payload onto a displayable description. Action
// buttons depend on the category: an emergency demands a response, everything
// else just offers a view.
func buildNotification(p Payload) Notification {
	n := Notification{
		Title: p.Notification.Title,
		Body:  p.Notification.Body,
		Icon:  p.Notification.Image,
		Badge: defaultBadge,
		Tag:   p.Data["tag"],
		Data:  p.Data,
	}
	if n.Icon == "" {
		n.Icon = defaultIcon
	}
	if n.Tag == "" {
		n.Tag = string(p.Category())
	}

	switch p.Category() {
	case notify.CategoryEmergency:
		n.Actions = []Action{
			{ID: ActionAcknowledge, Title: "Acknowledge"},
			{ID: ActionLater, Title: "Later"},
			{ID: ActionDismiss, Title: "Dismiss"},
		}
	default:
		n.Actions = []Action{
			{ID: ActionView, Title: "View"},
			{ID: ActionDismiss, Title: "Dismiss"},
		}
	}
	return n
}

// targetPath picks the in-app destination for a click: an explicit url wins,
// then click_action, then the category's default page.
func targetPath(data map[string]string) string {
	if url := data["url"]; url != "" {
		return url
	}
	if action := data["click_action"]; action != "" {
		return action
	}
	switch notify.Category(data["type"]) {
	case notify.CategoryEmergency, notify.CategoryLongRepair:
		return "/maintenance/monitor"
	case notify.CategoryCompleted:
		return "/maintenance/history"
	case notify.CategoryPMSchedule:
		return "/pm/calendar"
	default:
		return "/dashboard"
	}
}
