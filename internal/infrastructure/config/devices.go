package config

import (
	"fmt"
	"strings"
)

// Parameter types accepted in device command definitions.
var validParamTypes = map[string]bool{
	"string":  true,
	"integer": true,
	"float":   true,
	"boolean": true,
	"range":   true,
}

// DeviceConfig declares one device and its commands.
type DeviceConfig struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	Adapter string `yaml:"adapter"`

	// Emulation publishes metadata topics and subscribes one "/on" write
	// topic per handler so bus tooling can drive the device directly.
	Emulation bool `yaml:"emulation"`

	// Commands keeps declaration order from the file.
	Commands []CommandConfig `yaml:"commands"`
}

// CommandConfig declares one invocable command.
type CommandConfig struct {
	Name        string        `yaml:"name"`
	Action      string        `yaml:"action"`
	Topic       string        `yaml:"topic"`
	Group       string        `yaml:"group"`
	Description string        `yaml:"description"`
	Params      []ParamConfig `yaml:"params"`
}

// ParamConfig declares one command parameter.
type ParamConfig struct {
	Name     string   `yaml:"name"`
	Type     string   `yaml:"type"`
	Required bool     `yaml:"required"`
	Default  any      `yaml:"default"`
	Min      *float64 `yaml:"min"`
	Max      *float64 `yaml:"max"`
}

// validateDevices checks device declarations for shape errors only.
// Command semantics are checked by the device package at construction.
func validateDevices(devices []DeviceConfig) []string {
	var errs []string
	seen := make(map[string]bool, len(devices))

	for i, d := range devices {
		prefix := fmt.Sprintf("devices[%d]", i)
		if d.ID == "" {
			errs = append(errs, prefix+".id is required")
		} else {
			prefix = fmt.Sprintf("devices[%s]", d.ID)
			if seen[d.ID] {
				errs = append(errs, prefix+": duplicate device id")
			}
			seen[d.ID] = true
			if strings.ContainsAny(d.ID, "/+#") {
				errs = append(errs, prefix+".id must not contain '/', '+' or '#'")
			}
		}

		commands := make(map[string]bool, len(d.Commands))
		for j, cmd := range d.Commands {
			cmdPrefix := fmt.Sprintf("%s.commands[%d]", prefix, j)
			if cmd.Name == "" {
				errs = append(errs, cmdPrefix+".name is required")
				continue
			}
			cmdPrefix = fmt.Sprintf("%s.commands[%s]", prefix, cmd.Name)
			if commands[cmd.Name] {
				errs = append(errs, cmdPrefix+": duplicate command name")
			}
			commands[cmd.Name] = true
			errs = append(errs, validateParams(cmdPrefix, cmd.Params)...)
		}
	}

	return errs
}

func validateParams(prefix string, params []ParamConfig) []string {
	var errs []string
	seen := make(map[string]bool, len(params))

	for _, p := range params {
		if p.Name == "" {
			errs = append(errs, prefix+": param name is required")
			continue
		}
		if seen[p.Name] {
			errs = append(errs, fmt.Sprintf("%s.params[%s]: duplicate param name", prefix, p.Name))
		}
		seen[p.Name] = true

		if !validParamTypes[p.Type] {
			errs = append(errs, fmt.Sprintf("%s.params[%s]: unknown type %q", prefix, p.Name, p.Type))
		}
		if p.Min != nil && p.Max != nil && *p.Min > *p.Max {
			errs = append(errs, fmt.Sprintf("%s.params[%s]: min must be <= max", prefix, p.Name))
		}
	}

	return errs
}
