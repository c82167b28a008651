package process

import (
	"errors"
	"os"
	"os/exec"
	"strings"
)

// ErrEmptyCommand is returned when a Spec has no program to run.
var ErrEmptyCommand = errors.New("process: empty command")

// Spec describes the command to supervise. Command is the argv of the
// child; it is executed directly, never through a shell.
type Spec struct {
	Name    string   `json:"name" mapstructure:"name"`         // display label; defaults to the joined command
	Command []string `json:"command" mapstructure:"command"`   // program and arguments
	WorkDir string   `json:"work_dir" mapstructure:"work_dir"` // optional working dir
	Env     []string `json:"env" mapstructure:"env"`           // optional extra env appended to the inherited one
}

// Validate checks that the spec can be launched.
func (s Spec) Validate() error {
	if len(s.Command) == 0 || strings.TrimSpace(s.Command[0]) == "" {
		return ErrEmptyCommand
	}
	return nil
}

// DisplayName returns Name, or the command joined by spaces.
func (s Spec) DisplayName() string {
	if strings.TrimSpace(s.Name) != "" {
		return s.Name
	}
	return strings.Join(s.Command, " ")
}

// BuildCommand constructs an *exec.Cmd for the spec. The child's stdin is
// left unconnected.
func (s Spec) BuildCommand() *exec.Cmd {
	// ok: intentional execution of the user supplied command
	// #nosec G204
	cmd := exec.Command(s.Command[0], s.Command[1:]...)
	if s.WorkDir != "" {
		cmd.Dir = s.WorkDir
	}
	if len(s.Env) > 0 {
		cmd.Env = append(os.Environ(), s.Env...)
	}
	configureSysProcAttr(cmd)
	return cmd
}
