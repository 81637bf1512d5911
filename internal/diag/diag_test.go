package diag

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"strings"
	"testing"

	"github.com/san-kum/patchsim/internal/config"
	"github.com/san-kum/patchsim/internal/engine"
	"github.com/san-kum/patchsim/internal/engine/bridge"
	"github.com/san-kum/patchsim/internal/engine/cavity"
)

func newChecker(t *testing.T, mutate func(*config.Config)) *Checker {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Output.Dir = filepath.Join(t.TempDir(), "data")
	if mutate != nil {
		mutate(cfg)
	}
	reg := engine.NewRegistry()
	reg.Register(cavity.Name, cavity.Factory)
	reg.Register(bridge.Name, bridge.Factory)
	return NewChecker(cfg, reg)
}

func TestHealthyCavityEnvironment(t *testing.T) {
	report := newChecker(t, nil).Run(context.Background())
	if len(report) != 5 {
		t.Fatalf("expected 5 checks, got %d", len(report))
	}
	for _, r := range report {
		if r.Status != OK {
			t.Errorf("%s: %s %s", r.Name, r.Status, r.Details)
		}
	}
	if report.HasErrors() {
		t.Error("healthy report should have no errors")
	}
}

func TestVersionConstraintMismatch(t *testing.T) {
	c := newChecker(t, func(cfg *config.Config) {
		cfg.Engine.VersionConstraint = ">=2.0.0"
	})
	r := c.CheckVersion(context.Background())
	if r.Status != Fail {
		t.Errorf("expected failure, got %s %s", r.Status, r.Details)
	}

	c = newChecker(t, func(cfg *config.Config) { cfg.Engine.VersionConstraint = "not a range" })
	if r := c.CheckVersion(context.Background()); r.Status != Fail {
		t.Errorf("expected failure for bad constraint, got %s", r.Status)
	}
}

func TestBridgeWithoutInstall(t *testing.T) {
	c := newChecker(t, func(cfg *config.Config) {
		cfg.Engine.Name = "bridge"
		cfg.Engine.Path = filepath.Join(t.TempDir(), "missing-solver")
	})
	if r := c.CheckInstall(); r.Status != Fail {
		t.Errorf("expected install failure, got %s", r.Status)
	}
	if r := c.CheckLicenseServer(context.Background()); r.Status != Warn {
		t.Errorf("expected warning for unset licence server, got %s", r.Status)
	}
	if !c.Run(context.Background()).HasErrors() {
		t.Error("report should carry errors")
	}
}

func TestUnknownEngineListsRegistered(t *testing.T) {
	c := newChecker(t, func(cfg *config.Config) { cfg.Engine.Name = "hfss" })
	r := c.CheckInstall()
	if r.Status != Fail {
		t.Fatalf("expected failure, got %s", r.Status)
	}
	if !strings.Contains(r.Details, `"hfss"`) || !strings.Contains(r.Details, "bridge, cavity") {
		t.Errorf("details should name the engine and the registered ones: %q", r.Details)
	}
}

func TestLicenseServerReachability(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	_, port, _ := net.SplitHostPort(ln.Addr().String())
	c := newChecker(t, func(cfg *config.Config) { cfg.Engine.LicenseServer = port + "@127.0.0.1" })
	if r := c.CheckLicenseServer(context.Background()); r.Status != OK {
		t.Errorf("expected reachable, got %s %s", r.Status, r.Details)
	}

	c.Dial = func(ctx context.Context, network, addr string) (net.Conn, error) {
		return nil, errors.New("connection refused")
	}
	if r := c.CheckLicenseServer(context.Background()); r.Status != Fail {
		t.Errorf("expected unreachable, got %s", r.Status)
	}
}

func TestLicenseAddr(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"27000@lic.example.com", "lic.example.com:27000", false},
		{"lic.example.com:1055", "lic.example.com:1055", false},
		{"@host", "", true},
		{"27000@", "", true},
		{"justahost", "", true},
	}
	for _, tt := range tests {
		got, err := LicenseAddr(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("%q: err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("%q: got %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStatusString(t *testing.T) {
	if OK.String() != "✓" || Warn.String() != "⚠" || Fail.String() != "✗" {
		t.Error("unexpected status glyphs")
	}
}
