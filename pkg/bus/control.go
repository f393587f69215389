package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/odvcencio/lantern/pkg/browser"
	lerrors "github.com/odvcencio/lantern/pkg/errors"
	"github.com/odvcencio/lantern/pkg/history"
	"github.com/odvcencio/lantern/pkg/logging"
)

// Controller is the renderer surface the control responder drives.
type Controller interface {
	CreateView(ctx context.Context, initialLocation string) (browser.ViewID, error)
	Navigate(ctx context.Context, id browser.ViewID, location string) error
	Back(ctx context.Context, id browser.ViewID) (history.Entry, error)
	Forward(ctx context.Context, id browser.ViewID) (history.Entry, error)
	Stop(ctx context.Context, id browser.ViewID) error
	Reload(ctx context.Context, id browser.ViewID, bypassCache bool) error
	Resize(ctx context.Context, id browser.ViewID, viewport browser.Viewport) error
	DestroyView(ctx context.Context, id browser.ViewID) error
	Snapshot(id browser.ViewID) (browser.Snapshot, error)
	Views() []browser.ViewID
}

// Command is a remote request handled by Control.
type Command struct {
	Op          string            `json:"op"`
	View        browser.ViewID    `json:"view,omitempty"`
	Location    string            `json:"location,omitempty"`
	BypassCache bool              `json:"bypass_cache,omitempty"`
	Viewport    *browser.Viewport `json:"viewport,omitempty"`
}

// Reply answers a Command.
type Reply struct {
	OK       bool              `json:"ok"`
	Error    string            `json:"error,omitempty"`
	Code     string            `json:"code,omitempty"`
	View     browser.ViewID    `json:"view,omitempty"`
	Views    []browser.ViewID  `json:"views,omitempty"`
	Snapshot *browser.Snapshot `json:"snapshot,omitempty"`
}

// Control answers commands sent to <prefix>.control.
type Control struct {
	bus     MessageBus
	ctrl    Controller
	subject string
	timeout time.Duration
	log     *logging.Logger
}

// NewControl creates a control responder for ctrl.
func NewControl(b MessageBus, ctrl Controller, prefix string, log *logging.Logger) *Control {
	if prefix = strings.Trim(strings.TrimSpace(prefix), "."); prefix == "" {
		prefix = DefaultConfig().SubjectPrefix
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Control{
		bus:     b,
		ctrl:    ctrl,
		subject: prefix + ".control",
		timeout: DefaultConfig().Timeout,
		log:     log.WithComponent("bus-control"),
	}
}

// Subject returns the request subject.
func (c *Control) Subject() string {
	return c.subject
}

// Start subscribes the responder. Unsubscribe the result to stop it.
func (c *Control) Start(ctx context.Context) (Subscription, error) {
	return c.bus.Subscribe(ctx, c.subject, func(msg *Message) []byte {
		var cmd Command
		var reply Reply
		if err := json.Unmarshal(msg.Data, &cmd); err != nil {
			reply = Reply{Error: fmt.Sprintf("decode command: %v", err), Code: string(lerrors.ErrCodeInvalidInput)}
		} else {
			cctx, cancel := context.WithTimeout(ctx, c.timeout)
			reply = c.Handle(cctx, cmd)
			cancel()
		}
		data, err := json.Marshal(reply)
		if err != nil {
			c.log.Error("encode control reply failed", "error", err)
			return nil
		}
		return data
	})
}

// Handle executes cmd against the controller.
func (c *Control) Handle(ctx context.Context, cmd Command) Reply {
	var err error
	reply := Reply{View: cmd.View}

	switch strings.ToLower(strings.TrimSpace(cmd.Op)) {
	case "create":
		reply.View, err = c.ctrl.CreateView(ctx, cmd.Location)
	case "navigate":
		err = c.ctrl.Navigate(ctx, cmd.View, cmd.Location)
	case "back":
		_, err = c.ctrl.Back(ctx, cmd.View)
	case "forward":
		_, err = c.ctrl.Forward(ctx, cmd.View)
	case "stop":
		err = c.ctrl.Stop(ctx, cmd.View)
	case "reload":
		err = c.ctrl.Reload(ctx, cmd.View, cmd.BypassCache)
	case "resize":
		if cmd.Viewport == nil {
			err = lerrors.New(lerrors.ErrCodeInvalidViewport, "resize requires a viewport")
			break
		}
		err = c.ctrl.Resize(ctx, cmd.View, *cmd.Viewport)
	case "destroy":
		err = c.ctrl.DestroyView(ctx, cmd.View)
	case "snapshot":
		var snap browser.Snapshot
		if snap, err = c.ctrl.Snapshot(cmd.View); err == nil {
			reply.Snapshot = &snap
			reply.OK = true
			return reply
		}
	case "views":
		reply.Views = c.ctrl.Views()
		reply.OK = true
		return reply
	default:
		err = lerrors.New(lerrors.ErrCodeInvalidInput, fmt.Sprintf("unknown op %q", cmd.Op))
	}

	if err != nil {
		c.log.Debug("control command failed", "op", cmd.Op, "view", string(cmd.View), "error", err)
		return Reply{View: reply.View, Error: err.Error(), Code: string(lerrors.GetCode(err))}
	}
	reply.OK = true
	if reply.View != "" && cmd.Op != "destroy" {
		if snap, err := c.ctrl.Snapshot(reply.View); err == nil {
			reply.Snapshot = &snap
		}
	}
	return reply
}
