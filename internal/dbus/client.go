package dbus

import (
	"context"
	"fmt"

	godbus "github.com/godbus/dbus/v5"
)

// Client calls a running keylightctl over the session bus.
type Client struct {
	conn *godbus.Conn
	obj  godbus.BusObject
}

// Dial connects to the session bus
func Dial() (*Client, error) {
	conn, err := godbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect to session bus: %w", err)
	}
	return &Client{conn: conn, obj: conn.Object(BusName, ObjectPath)}, nil
}

// Close closes the bus connection
func (c *Client) Close() error {
	return c.conn.Close()
}

// Do asks the service to enqueue an action
func (c *Client) Do(ctx context.Context, action string) error {
	if err := c.obj.CallWithContext(ctx, Interface+".Do", 0, action).Err; err != nil {
		return fmt.Errorf("do %s: %w", action, err)
	}
	return nil
}

// RunMacro asks the service to run a Lua macro
func (c *Client) RunMacro(ctx context.Context, name string) error {
	if err := c.obj.CallWithContext(ctx, Interface+".RunMacro", 0, name).Err; err != nil {
		return fmt.Errorf("run macro %s: %w", name, err)
	}
	return nil
}

// Actions lists the actions the service accepts
func (c *Client) Actions(ctx context.Context) ([]string, error) {
	var names []string
	call := c.obj.CallWithContext(ctx, Interface+".Actions", 0)
	if call.Err != nil {
		return nil, fmt.Errorf("list actions: %w", call.Err)
	}
	if err := call.Store(&names); err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	return names, nil
}
