// Package diag checks the environment preconditions a full run depends on:
// engine installation and version, licence server reachability and a
// writable data directory.
package diag

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/san-kum/patchsim/internal/config"
	"github.com/san-kum/patchsim/internal/engine"
)

type Status int

const (
	OK Status = iota
	Warn
	Fail
)

func (s Status) String() string {
	switch s {
	case OK:
		return "✓"
	case Warn:
		return "⚠"
	default:
		return "✗"
	}
}

// CheckResult is the outcome of a single check. Details are only
// interesting when Status is not OK.
type CheckResult struct {
	Name    string
	Status  Status
	Details string
}

type Report []CheckResult

func (r Report) HasErrors() bool {
	for _, c := range r {
		if c.Status == Fail {
			return true
		}
	}
	return false
}

type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

type Checker struct {
	Config   *config.Config
	Registry *engine.Registry
	Timeout  time.Duration
	Dial     DialFunc
}

func NewChecker(cfg *config.Config, reg *engine.Registry) *Checker {
	d := &net.Dialer{}
	return &Checker{Config: cfg, Registry: reg, Timeout: 3 * time.Second, Dial: d.DialContext}
}

// Run executes every check in order.
func (c *Checker) Run(ctx context.Context) Report {
	return Report{
		c.CheckConfig(),
		c.CheckInstall(),
		c.CheckVersion(ctx),
		c.CheckLicenseServer(ctx),
		c.CheckDataDir(),
	}
}

func (c *Checker) CheckConfig() CheckResult {
	if err := c.Config.Validate(); err != nil {
		return CheckResult{Name: "Config", Status: Fail, Details: "  " + err.Error()}
	}
	return CheckResult{Name: "Config", Status: OK}
}

func (c *Checker) CheckInstall() CheckResult {
	const name = "Engine install"
	if c.Registry != nil {
		if known := c.Registry.List(); !slices.Contains(known, c.Config.Engine.Name) {
			return CheckResult{Name: name, Status: Fail, Details: fmt.Sprintf("  unknown engine %q; registered: %s",
				c.Config.Engine.Name, strings.Join(known, ", "))}
		}
	}
	if c.Config.Engine.Name != "bridge" {
		return CheckResult{Name: name, Status: OK, Details: "  built-in " + c.Config.Engine.Name + " engine"}
	}
	if c.Config.Engine.Path == "" {
		return CheckResult{Name: name, Status: Fail, Details: "  no engine path; set engine.path or " + config.EnvEnginePath}
	}
	path, err := exec.LookPath(c.Config.Engine.Path)
	if err != nil {
		return CheckResult{Name: name, Status: Fail, Details: "  " + err.Error()}
	}
	return CheckResult{Name: name, Status: OK, Details: "  " + path}
}

// CheckVersion opens one engine session and compares its version with the
// configured constraint.
func (c *Checker) CheckVersion(ctx context.Context) CheckResult {
	const name = "Engine version"
	constraint, err := semver.NewConstraint(c.Config.Engine.VersionConstraint)
	if err != nil {
		return CheckResult{Name: name, Status: Fail, Details: fmt.Sprintf("  bad constraint %q: %v", c.Config.Engine.VersionConstraint, err)}
	}
	eng, err := c.Registry.Get(c.Config.Engine.Name, c.Config.EngineOptions())
	if err != nil {
		return CheckResult{Name: name, Status: Fail, Details: "  " + err.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()
	h, err := eng.Open(ctx)
	if err != nil {
		status := Fail
		if engine.IsTransient(err) {
			status = Warn
		}
		return CheckResult{Name: name, Status: status, Details: "  " + err.Error()}
	}
	defer h.Close()

	raw := h.Version()
	v, err := semver.NewVersion(raw)
	if err != nil {
		return CheckResult{Name: name, Status: Fail, Details: fmt.Sprintf("  unparseable version %q", raw)}
	}
	if !constraint.Check(v) {
		return CheckResult{Name: name, Status: Fail, Details: fmt.Sprintf("  %s does not satisfy %s", v, constraint)}
	}
	return CheckResult{Name: name, Status: OK, Details: "  " + v.String()}
}

// CheckLicenseServer dials the licence server. Both "port@host" and
// "host:port" forms are accepted.
func (c *Checker) CheckLicenseServer(ctx context.Context) CheckResult {
	const name = "License server"
	server := c.Config.Engine.LicenseServer
	if server == "" {
		if c.Config.Engine.Name == "bridge" {
			return CheckResult{Name: name, Status: Warn, Details: "  not configured; set engine.license_server or " + config.EnvLicenseServer}
		}
		return CheckResult{Name: name, Status: OK, Details: "  not required"}
	}
	addr, err := LicenseAddr(server)
	if err != nil {
		return CheckResult{Name: name, Status: Fail, Details: "  " + err.Error()}
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()
	conn, err := c.Dial(ctx, "tcp", addr)
	if err != nil {
		return CheckResult{Name: name, Status: Fail, Details: fmt.Sprintf("  %s unreachable: %v", addr, err)}
	}
	conn.Close()
	return CheckResult{Name: name, Status: OK, Details: "  " + addr}
}

// LicenseAddr normalises a licence server reference to host:port.
func LicenseAddr(server string) (string, error) {
	if port, host, ok := strings.Cut(server, "@"); ok {
		if port == "" || host == "" {
			return "", fmt.Errorf("malformed licence server %q", server)
		}
		return net.JoinHostPort(host, port), nil
	}
	if _, _, err := net.SplitHostPort(server); err != nil {
		return "", fmt.Errorf("malformed licence server %q: %w", server, err)
	}
	return server, nil
}

func (c *Checker) CheckDataDir() CheckResult {
	const name = "Data directory"
	dir := c.Config.Output.Dir
	if err := os.MkdirAll(dir, 0755); err != nil {
		return CheckResult{Name: name, Status: Fail, Details: "  " + err.Error()}
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return CheckResult{Name: name, Status: Fail, Details: "  not writable: " + err.Error()}
	}
	f.Close()
	os.Remove(f.Name())
	abs, _ := filepath.Abs(dir)
	return CheckResult{Name: name, Status: OK, Details: "  " + abs}
}

func (c *Checker) timeout() time.Duration {
	if c.Timeout <= 0 {
		return 3 * time.Second
	}
	return c.Timeout
}
