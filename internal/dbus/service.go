// Package dbus exposes the action queue on the D-Bus session bus so desktop
// shortcut managers can trigger actions without evdev access.
package dbus

import (
	"context"
	"fmt"

	godbus "github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/keylightctl/internal/actions"
)

const (
	BusName    = "io.github.dokzlo13.KeylightCtl"
	ObjectPath = godbus.ObjectPath("/io/github/dokzlo13/KeylightCtl")
	Interface  = "io.github.dokzlo13.KeylightCtl"

	errUnknownAction = Interface + ".Error.UnknownAction"
	errUnknownMacro  = Interface + ".Error.UnknownMacro"
	errStopped       = Interface + ".Error.Stopped"
)

// Controller accepts actions for the dispatcher
type Controller interface {
	Enqueue(action actions.Action, source actions.Source) bool
	Actions() []string
}

// MacroRunner runs Lua macros by name
type MacroRunner interface {
	HasMacro(name string) bool
	RunMacro(ctx context.Context, name string) error
}

// Service owns the session bus connection and the exported object.
type Service struct {
	ctrl   Controller
	macros MacroRunner
	conn   *godbus.Conn
}

// NewService creates a service. macros may be nil when no script is loaded.
func NewService(ctrl Controller, macros MacroRunner) *Service {
	return &Service{ctrl: ctrl, macros: macros}
}

// Start connects to the session bus, exports the object and claims the bus name.
func (s *Service) Start(ctx context.Context) error {
	conn, err := godbus.ConnectSessionBus()
	if err != nil {
		return fmt.Errorf("connect to session bus: %w", err)
	}

	obj := &object{ctx: ctx, ctrl: s.ctrl, macros: s.macros}
	if err := conn.Export(obj, ObjectPath, Interface); err != nil {
		conn.Close()
		return fmt.Errorf("export object: %w", err)
	}

	node := &introspect.Node{
		Name: string(ObjectPath),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{Name: Interface, Methods: introspect.Methods(obj)},
		},
	}
	if err := conn.Export(introspect.NewIntrospectable(node), ObjectPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		conn.Close()
		return fmt.Errorf("export introspection: %w", err)
	}

	reply, err := conn.RequestName(BusName, godbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return fmt.Errorf("request name %s: %w", BusName, err)
	}
	if reply != godbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return fmt.Errorf("bus name %s already taken, is another instance running?", BusName)
	}

	s.conn = conn
	log.Info().Str("name", BusName).Str("path", string(ObjectPath)).Msg("D-Bus service registered")
	return nil
}

// Stop releases the bus name and closes the connection
func (s *Service) Stop() {
	if s.conn == nil {
		return
	}
	if _, err := s.conn.ReleaseName(BusName); err != nil {
		log.Debug().Err(err).Msg("Failed to release D-Bus name")
	}
	if err := s.conn.Close(); err != nil {
		log.Debug().Err(err).Msg("Failed to close D-Bus connection")
	}
	s.conn = nil
	log.Info().Msg("D-Bus service stopped")
}

// object is exported on the bus; every exported method becomes a D-Bus method.
type object struct {
	ctx    context.Context
	ctrl   Controller
	macros MacroRunner
}

// Do enqueues an action by name
func (o *object) Do(name string) *godbus.Error {
	action, err := actions.Parse(name)
	if err != nil {
		return godbus.NewError(errUnknownAction, []interface{}{err.Error()})
	}

	log.Debug().Str("action", action.String()).Msg("D-Bus action request")
	if !o.ctrl.Enqueue(action, actions.SourceDBus) {
		return godbus.NewError(errStopped, []interface{}{"controller is stopping"})
	}
	return nil
}

// RunMacro runs a Lua macro by name
func (o *object) RunMacro(name string) *godbus.Error {
	if o.macros == nil || !o.macros.HasMacro(name) {
		return godbus.NewError(errUnknownMacro, []interface{}{fmt.Sprintf("macro %q not defined", name)})
	}

	log.Debug().Str("macro", name).Msg("D-Bus macro request")
	if err := o.macros.RunMacro(o.ctx, name); err != nil {
		return godbus.MakeFailedError(err)
	}
	return nil
}

// Actions lists the action names accepted by Do
func (o *object) Actions() ([]string, *godbus.Error) {
	return o.ctrl.Actions(), nil
}
