package bridge

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/KieronQuinn/Smartspacer-sub002/internal/shared/types"
)

// temporaryServiceDuration is how long, in ms, a temporary smartspace service stays bound
const temporaryServiceDuration = 30000

func setTemporaryServiceCommand(userID int, component string) string {
	return fmt.Sprintf("cmd smartspace set temporary-service %d %s %d", userID, component, temporaryServiceDuration)
}

func clearTemporaryServiceCommand(userID int) string {
	return fmt.Sprintf("cmd smartspace set temporary-service %d", userID)
}

func forceStopCommand(pkg string) string {
	return "am force-stop " + pkg
}

func crashCommand(pkg string) string {
	return "am crash " + pkg
}

const killSystemUIRootCommand = "pkill systemui"

func backgroundStartsCommand(enabled bool) string {
	return "cmd device_config put activity_manager default_background_activity_starts_enabled " + strconv.FormatBool(enabled)
}

func appOpsAllowCommand(pkg, op string) string {
	return fmt.Sprintf("cmd appops set %s %s allow", pkg, op)
}

const enableBluetoothCommand = "cmd bluetooth_manager enable"

const listWiFiNetworksCommand = "cmd wifi list-networks"

// wifiNetworkLine matches one row of list-networks: id, ssid, security type.
// SSIDs may contain spaces; the security type never does.
var wifiNetworkLine = regexp.MustCompile(`^(\d+)\s+(.*\S)\s+(\S+)$`)

func parseWiFiNetworks(out string) []WiFiNetwork {
	var networks []WiFiNetwork
	for _, line := range strings.Split(out, "\n") {
		m := wifiNetworkLine.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		id, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		networks = append(networks, WiFiNetwork{
			NetworkID: id,
			SSID:      strings.Trim(strings.TrimSpace(m[2]), `"`),
			Security:  m[3],
		})
	}
	return networks
}

// ExecRunner runs commands through the system shell
type ExecRunner struct {
	Shell string
}

// NewExecRunner creates a runner using /system/bin/sh when present
func NewExecRunner() *ExecRunner {
	shell := "/system/bin/sh"
	if _, err := exec.LookPath(shell); err != nil {
		shell = "sh"
	}
	return &ExecRunner{Shell: shell}
}

// Run executes command and returns its trimmed stdout
func (r *ExecRunner) Run(ctx context.Context, command string) (string, error) {
	out, err := r.RunRaw(ctx, command)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// RunRaw executes command and returns stdout untouched
func (r *ExecRunner) RunRaw(ctx context.Context, command string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.Shell, "-c", command)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", command, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// rawRunner is implemented by runners that can return binary output
type rawRunner interface {
	RunRaw(ctx context.Context, command string) ([]byte, error)
}

// ShellPlatform implements the parts of Platform a shell or root process can
// reach with command line tools. Binder-only operations return ErrUnsupported.
type ShellPlatform struct {
	runner CommandRunner
	root   bool
}

// NewShellPlatform checks the current uid to decide whether the bridge runs as root
func NewShellPlatform(ctx context.Context, runner CommandRunner) *ShellPlatform {
	uid, err := runner.Run(ctx, "id -u")
	return &ShellPlatform{runner: runner, root: err == nil && uid == "0"}
}

func (p *ShellPlatform) IsRoot() bool { return p.root }

func (p *ShellPlatform) KeyguardPackage() string { return SystemUIPackage }

var userInfoPattern = regexp.MustCompile(`UserInfo\{(\d+):([^:}]*)`)

// UserName parses `pm list users`
func (p *ShellPlatform) UserName(ctx context.Context, userID int) (string, error) {
	out, err := p.runner.Run(ctx, "pm list users")
	if err != nil {
		return "", err
	}
	return parseUserName(out, userID)
}

func parseUserName(out string, userID int) (string, error) {
	for _, m := range userInfoPattern.FindAllStringSubmatch(out, -1) {
		if m[1] == strconv.Itoa(userID) {
			return m[2], nil
		}
	}
	return "", fmt.Errorf("user %d not found", userID)
}

func (p *ShellPlatform) CreateSmartspaceSession(context.Context, types.SessionConfig) error {
	return ErrUnsupported
}

func (p *ShellPlatform) DestroySmartspaceSession(context.Context, string) error {
	return ErrUnsupported
}

func (p *ShellPlatform) CreatePredictionSession(context.Context, PredictionSpec, func([]Prediction)) (PredictionSession, error) {
	return nil, ErrUnsupported
}

func (p *ShellPlatform) ToggleTorch(context.Context) error { return ErrUnsupported }

func (p *ShellPlatform) Shortcuts(context.Context, ShortcutQuery) ([]Shortcut, error) {
	return nil, ErrUnsupported
}

func (p *ShellPlatform) ShortcutIcon(context.Context, string, string) ([]byte, error) {
	return nil, ErrUnsupported
}

func (p *ShellPlatform) StartShortcut(context.Context, string, string) error {
	return ErrUnsupported
}

// AcquireProvider returns a provider backed by the `content` tool
func (p *ShellPlatform) AcquireProvider(_ context.Context, authority string) (ContentProvider, error) {
	if authority == "" {
		return nil, fmt.Errorf("empty authority")
	}
	return &shellProvider{runner: p.runner}, nil
}

type shellProvider struct {
	runner CommandRunner
}

func (s *shellProvider) GetType(ctx context.Context, uri string) (string, error) {
	return s.runner.Run(ctx, "content gettype --uri "+shellQuote(uri))
}

func (s *shellProvider) OpenFile(ctx context.Context, uri, mode string) ([]byte, error) {
	if mode != "" && mode != "r" {
		return nil, fmt.Errorf("mode %q: %w", mode, ErrUnsupported)
	}
	command := "content read --uri " + shellQuote(uri)
	if raw, ok := s.runner.(rawRunner); ok {
		return raw.RunRaw(ctx, command)
	}
	out, err := s.runner.Run(ctx, command)
	if err != nil {
		return nil, err
	}
	return []byte(out), nil
}

// GetStreamTypes reports the declared type when it matches filter. The content
// tool has no stream type query, so the single declared type is all there is.
func (s *shellProvider) GetStreamTypes(ctx context.Context, uri, filter string) ([]string, error) {
	out, err := s.GetType(ctx, uri)
	if err != nil {
		return nil, err
	}
	mime := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(out), "Result:"))
	if mime == "" || mime == "null" || !mimeMatches(filter, mime) {
		return nil, nil
	}
	return []string{mime}, nil
}

func (s *shellProvider) Release() {}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
