package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/xplshn/cinc/pkg/cli"
	"modernc.org/libqbe"
)

type Feature int

const (
	FeatComments Feature = iota
	FeatAlignCalls
	FeatSharedEpilogue
	FeatCount
)

type Warning int

const (
	WarnOverflow Warning = iota
	WarnImplicitDecl
	WarnUnreachableCode
	WarnExtra
	WarnCount
)

type Info struct {
	Name        string
	Enabled     bool
	Description string
}

type Config struct {
	Features       map[Feature]Info
	Warnings       map[Warning]Info
	FeatureMap     map[string]Feature
	WarningMap     map[string]Warning
	BackendName    string
	BackendTarget  string
	WordSize       int
	StackAlignment int
	// Info receives "cinc: info:" lines. Nil silences them.
	Info io.Writer
}

func NewConfig() *Config {
	cfg := &Config{
		FeatureMap:     make(map[string]Feature),
		WarningMap:     make(map[string]Warning),
		BackendName:    "amd64",
		BackendTarget:  "amd64_sysv",
		WordSize:       8,
		StackAlignment: 16,
	}

	cfg.Features = map[Feature]Info{
		FeatComments:       {"comments", false, "Skip C-style '//' and '/* */' comments."},
		FeatAlignCalls:     {"align-calls", true, "Keep rsp 16-byte aligned at every call."},
		FeatSharedEpilogue: {"shared-epilogue", false, "Jump to one shared epilogue instead of inlining it at each 'return'."},
	}

	cfg.Warnings = map[Warning]Info{
		WarnOverflow:        {"overflow", true, "Warn when an integer constant does not fit in 64 bits."},
		WarnImplicitDecl:    {"implicit-decl", true, "Warn when a variable is read before anything is assigned to it."},
		WarnUnreachableCode: {"unreachable-code", true, "Warn about statements that follow a 'return'."},
		WarnExtra:           {"extra", false, "Enable extra miscellaneous warnings."},
	}

	for ft, info := range cfg.Features {
		cfg.FeatureMap[info.Name] = ft
	}
	for wt, info := range cfg.Warnings {
		cfg.WarningMap[info.Name] = wt
	}
	return cfg
}

func (c *Config) infof(format string, args ...interface{}) {
	if c.Info == nil {
		return
	}
	fmt.Fprintf(c.Info, "cinc: info: "+format+"\n", args...)
}

// SetTarget selects the backend and its target from a "backend[/target]"
// string. An empty string selects the native amd64 backend.
func (c *Config) SetTarget(goos, goarch, selector string) error {
	backend, target, _ := strings.Cut(selector, "/")
	switch backend {
	case "", "amd64", "x86_64":
		if target != "" && target != "amd64_sysv" {
			return fmt.Errorf("the amd64 backend only supports the 'amd64_sysv' target, not '%s'", target)
		}
		c.BackendName, c.BackendTarget = "amd64", "amd64_sysv"
		if goarch != "amd64" {
			c.infof("host is %s/%s; the generated x86-64 assembly will not run natively", goos, goarch)
		}
	case "qbe":
		c.BackendName = "qbe"
		if target == "" {
			c.BackendTarget = libqbe.DefaultTarget(goos, goarch)
			c.infof("no QBE target specified, defaulting to host target '%s'", c.BackendTarget)
		} else {
			c.BackendTarget = target
			c.infof("using specified QBE target '%s'", c.BackendTarget)
		}
	default:
		return fmt.Errorf("unsupported backend '%s'. Supported: 'amd64', 'qbe'", backend)
	}

	switch c.BackendTarget {
	case "amd64_sysv", "amd64_apple", "arm64", "arm64_apple", "rv64":
		c.WordSize, c.StackAlignment = 8, 16
	default:
		fmt.Fprintf(os.Stderr, "cinc: warning: unrecognized QBE target '%s', assuming 64-bit properties\n", c.BackendTarget)
		c.WordSize, c.StackAlignment = 8, 16
	}
	return nil
}

func (c *Config) SetFeature(ft Feature, enabled bool) {
	if info, ok := c.Features[ft]; ok {
		info.Enabled = enabled
		c.Features[ft] = info
	}
}

func (c *Config) IsFeatureEnabled(ft Feature) bool { return c.Features[ft].Enabled }

func (c *Config) SetWarning(wt Warning, enabled bool) {
	if info, ok := c.Warnings[wt]; ok {
		info.Enabled = enabled
		c.Warnings[wt] = info
	}
}

func (c *Config) IsWarningEnabled(wt Warning) bool { return c.Warnings[wt].Enabled }

func (c *Config) SetAllWarnings(enabled bool) {
	for i := Warning(0); i < WarnCount; i++ {
		c.SetWarning(i, enabled)
	}
}

// ApplyFlag applies a single "-W<name>", "-Wno-<name>", "-F<name>" or
// "-Fno-<name>" flag. Unknown names are reported as an error.
func (c *Config) ApplyFlag(flag string) error {
	trimmed := strings.TrimPrefix(flag, "-")
	if len(trimmed) < 2 || (trimmed[0] != 'W' && trimmed[0] != 'F') {
		return fmt.Errorf("malformed flag '%s'", flag)
	}
	isWarning := trimmed[0] == 'W'
	name, isNo := strings.CutPrefix(trimmed[1:], "no-")

	if isWarning {
		if name == "all" {
			c.SetAllWarnings(!isNo)
			return nil
		}
		w, ok := c.WarningMap[name]
		if !ok {
			return fmt.Errorf("unknown warning '%s'", name)
		}
		c.SetWarning(w, !isNo)
		return nil
	}
	f, ok := c.FeatureMap[name]
	if !ok {
		return fmt.Errorf("unknown feature '%s'", name)
	}
	c.SetFeature(f, !isNo)
	return nil
}

// FlagGroups holds the per-entry toggles registered by SetupFlagGroups, in
// enum order, so they can be applied after the command line is parsed.
type FlagGroups struct {
	WarningAll cli.FlagGroupEntry
	Warnings   []cli.FlagGroupEntry
	Features   []cli.FlagGroupEntry
}

// SetupFlagGroups registers the -W and -F flag families on fs.
func (c *Config) SetupFlagGroups(fs *cli.FlagSet) *FlagGroups {
	g := &FlagGroups{}

	g.WarningAll = cli.FlagGroupEntry{Name: "all", Prefix: "W", Usage: "Enable all warnings", Enabled: new(bool), Disabled: new(bool)}
	for i := Warning(0); i < WarnCount; i++ {
		info := c.Warnings[i]
		g.Warnings = append(g.Warnings, cli.FlagGroupEntry{
			Name: info.Name, Prefix: "W", Usage: info.Description,
			Enabled: new(bool), Disabled: new(bool),
		})
	}
	for i := Feature(0); i < FeatCount; i++ {
		info := c.Features[i]
		g.Features = append(g.Features, cli.FlagGroupEntry{
			Name: info.Name, Prefix: "F", Usage: info.Description,
			Enabled: new(bool), Disabled: new(bool),
		})
	}

	warnEntries := append([]cli.FlagGroupEntry{g.WarningAll}, g.Warnings...)
	fs.AddFlagGroup("Warning Flags", "Enable or disable specific warnings", "warning flag", "Available Warning Flags:", warnEntries)
	fs.AddFlagGroup("Feature Flags", "Enable or disable specific features", "feature flag", "Available Features:", g.Features)
	return g
}

// Apply copies the parsed group toggles into the config. -Wall/-Wno-all are
// applied first so that individual warnings can override them.
func (g *FlagGroups) Apply(c *Config) {
	if *g.WarningAll.Enabled {
		c.SetAllWarnings(true)
	}
	if *g.WarningAll.Disabled {
		c.SetAllWarnings(false)
	}
	for i, entry := range g.Warnings {
		if *entry.Enabled {
			c.SetWarning(Warning(i), true)
		}
		if *entry.Disabled {
			c.SetWarning(Warning(i), false)
		}
	}
	for i, entry := range g.Features {
		if *entry.Enabled {
			c.SetFeature(Feature(i), true)
		}
		if *entry.Disabled {
			c.SetFeature(Feature(i), false)
		}
	}
}
