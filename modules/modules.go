// Package modules provides the native modules built into the shell.
package modules

import (
	"github.com/wippyai/embshell"
	"github.com/wippyai/embshell/native"
)

// Builtin constructs one built-in module.
type Builtin func(space embshell.Space) (*native.Module, error)

// Builtins lists the built-in modules in registration order.
var Builtins = []Builtin{Host, Example, Uctypes}

// Install registers every built-in module with r.
func Install(r *native.Registry, space embshell.Space) error {
	for _, b := range Builtins {
		m, err := b(space)
		if err != nil {
			return err
		}
		if err := r.Register(m); err != nil {
			return err
		}
	}
	return nil
}
