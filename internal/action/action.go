// Package action renders and launches the remediation playbooks a site's
// Recover configuration names when a backend goes offline. Launching is
// fire-and-forget: the Supervisor does not wait on completion and does not
// feed the outcome back into any SiteRecord.
package action

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"
	"time"
)

// processTemplate restarts a named Windows process via ansible win_shell,
// grounded on the restart_process playbook.
const processTemplate = `- hosts:
  - {{ .Host }}
  gather_facts: False
  tasks:
  - name: Restart Process {{ .Name }}
    win_shell: |
      $fileInfo=Get-Process -Name {{ .Name }} -FileVersionInfo
      Stop-Process -Name {{ .Name }}
      Start-Sleep -s 5
      try {
          Get-Process -Name {{ .Name }}
      } catch [System.SystemException] {
          Start-Process -FilePath $fileInfo.FileName
      }
`

// iisTemplate restarts an IIS website via the win_iis_website module,
// grounded on the restart_iis playbook.
const iisTemplate = `- hosts:
  - {{ .Host }}
  gather_facts: False
  tasks:
  - name: Restart IIS Website {{ .Name }}
    win_iis_website: name={{ .Name }} state=restarted
`

// TypeRestartProcess and TypeRestartIIS are the recover.type values a site's
// config may name.
const (
	TypeRestartProcess = "restart_process"
	TypeRestartIIS     = "restart_iis"
)

var (
	tmplProcess = template.Must(template.New("restart_process").Parse(processTemplate))
	tmplIIS     = template.Must(template.New("restart_iis").Parse(iisTemplate))
)

type playbookVars struct {
	Host string
	Name string
}

// Launcher renders an ansible playbook for the named recover type and runs
// it with ansible-playbook, writing the rendered file under playbookDir.
type Launcher struct {
	playbookDir string
	logger      *slog.Logger
	now         func() time.Time // overridable for tests
	runCommand  func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewLauncher creates a Launcher that writes rendered playbooks under dir.
func NewLauncher(dir string, logger *slog.Logger) *Launcher {
	return &Launcher{
		playbookDir: dir,
		logger:      logger,
		now:         time.Now,
		runCommand: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).CombinedOutput()
		},
	}
}

// Launch renders the named recover type's playbook for (name, host) and
// invokes ansible-playbook against it. Errors are logged, never returned —
// Supervisor calls this in its own goroutine and has nothing to do with a
// failure beyond recording it.
func (l *Launcher) Launch(ctx context.Context, recoverType, name, host string) {
	tmpl, err := templateFor(recoverType)
	if err != nil {
		l.logger.Error("action launch failed", "recover_type", recoverType, "host", host, "error", err)
		return
	}

	path, err := l.renderPlaybook(tmpl, recoverType, name, host)
	if err != nil {
		l.logger.Error("render playbook failed", "recover_type", recoverType, "host", host, "error", err)
		return
	}

	out, err := l.runCommand(ctx, "ansible-playbook", path)
	if err != nil {
		l.logger.Error("ansible-playbook failed", "recover_type", recoverType, "host", host, "error", err, "output", string(out))
		return
	}
	l.logger.Debug("action completed", "recover_type", recoverType, "host", host, "output", string(out))
}

func templateFor(recoverType string) (*template.Template, error) {
	switch recoverType {
	case TypeRestartProcess:
		return tmplProcess, nil
	case TypeRestartIIS:
		return tmplIIS, nil
	default:
		return nil, fmt.Errorf("action: unsupported recover type %q", recoverType)
	}
}

func (l *Launcher) renderPlaybook(tmpl *template.Template, recoverType, name, host string) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, playbookVars{Host: host, Name: name}); err != nil {
		return "", fmt.Errorf("render %s playbook: %w", recoverType, err)
	}

	filename := fmt.Sprintf("%s_%s_%d.yml", recoverType, host, l.now().UnixNano())
	path := filepath.Join(l.playbookDir, filename)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("write playbook %s: %w", path, err)
	}
	return path, nil
}
