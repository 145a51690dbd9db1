package hw

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/sirupsen/logrus"
)

// ExecRestarter restarts by running a configured command, or by re-executing the
// running binary when no command is set.
type ExecRestarter struct {
	command []string
	log     logrus.FieldLogger
}

func NewExecRestarter(command []string, log logrus.FieldLogger) *ExecRestarter {
	return &ExecRestarter{command: command, log: log.WithField("component", "system")}
}

func (r *ExecRestarter) Restart() error {
	if len(r.command) > 0 {
		r.log.WithField("command", r.command).Info("restart via command")
		if out, err := exec.Command(r.command[0], r.command[1:]...).CombinedOutput(); err != nil {
			return fmt.Errorf("restart command: %w: %s", err, out)
		}
		return nil
	}

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	r.log.WithField("path", self).Info("restart via re-exec")
	return syscall.Exec(self, os.Args, os.Environ())
}
