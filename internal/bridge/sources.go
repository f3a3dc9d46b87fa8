package bridge

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

// ProcResolver resolves pids through procfs
type ProcResolver struct {
	Root string
}

// ProcessName reads the process name from <root>/<pid>/cmdline
func (r ProcResolver) ProcessName(pid int) (string, error) {
	root := r.Root
	if root == "" {
		root = "/proc"
	}
	data, err := os.ReadFile(filepath.Join(root, strconv.Itoa(pid), "cmdline"))
	if err != nil {
		return "", err
	}
	name, _, _ := bytes.Cut(data, []byte{0})
	if len(name) == 0 {
		return "", fmt.Errorf("pid %d has no name", pid)
	}
	return string(name), nil
}

// packageOfProcess strips the isolated or private process suffix
func packageOfProcess(name string) string {
	pkg, _, _ := strings.Cut(name, ":")
	return pkg
}

// CpusetProcessSource polls the top-app cpuset, which holds the pids of the
// foreground app.
type CpusetProcessSource struct {
	Path     string
	Interval time.Duration
}

// NewCpusetProcessSource watches the default top-app cpuset
func NewCpusetProcessSource() *CpusetProcessSource {
	return &CpusetProcessSource{
		Path:     "/dev/cpuset/top-app/cgroup.procs",
		Interval: time.Second,
	}
}

// Events emits a Foreground event for every pid entering the set and a
// background event for every pid leaving it.
func (s *CpusetProcessSource) Events(ctx context.Context) <-chan ProcessEvent {
	out := make(chan ProcessEvent, 16)
	go func() {
		defer close(out)
		ticker := time.NewTicker(s.Interval)
		defer ticker.Stop()

		previous := map[int]bool{}
		for {
			current, err := readPIDs(s.Path)
			if err == nil {
				for _, ev := range diffPIDs(previous, current) {
					select {
					case out <- ev:
					case <-ctx.Done():
						return
					}
				}
				previous = current
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return out
}

func readPIDs(path string) (map[int]bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pids := map[int]bool{}
	for _, field := range strings.Fields(string(data)) {
		if pid, err := strconv.Atoi(field); err == nil {
			pids[pid] = true
		}
	}
	return pids, nil
}

func diffPIDs(previous, current map[int]bool) []ProcessEvent {
	var events []ProcessEvent
	for pid := range current {
		if !previous[pid] {
			events = append(events, ProcessEvent{PID: pid, Foreground: true})
		}
	}
	for pid := range previous {
		if !current[pid] {
			events = append(events, ProcessEvent{PID: pid, Foreground: false})
		}
	}
	slices.SortFunc(events, func(a, b ProcessEvent) int { return a.PID - b.PID })
	return events
}

var recentTaskPattern = regexp.MustCompile(`A=\d+:([\w.]+)`)

// RecentsTaskSource polls `dumpsys activity recents`
type RecentsTaskSource struct {
	Runner   CommandRunner
	Interval time.Duration
}

// Events emits the recent task packages, most recent first, when they change
func (s *RecentsTaskSource) Events(ctx context.Context) <-chan []string {
	out := make(chan []string, 1)
	go func() {
		defer close(out)
		ticker := time.NewTicker(s.Interval)
		defer ticker.Stop()

		var previous []string
		for {
			if dump, err := s.Runner.Run(ctx, "dumpsys activity recents"); err == nil {
				current := parseRecentTasks(dump)
				if !slices.Equal(previous, current) {
					select {
					case out <- current:
					case <-ctx.Done():
						return
					}
					previous = current
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return out
}

func parseRecentTasks(dump string) []string {
	var packages []string
	seen := map[string]bool{}
	for _, m := range recentTaskPattern.FindAllStringSubmatch(dump, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			packages = append(packages, m[1])
		}
	}
	return packages
}

var crashLinePattern = regexp.MustCompile(`Process: ([\w.:]+), PID: \d+`)

// LogcatCrashSource follows the crash log buffer
type LogcatCrashSource struct {
	// Open starts the log stream; defaults to `logcat -b crash -T 1`
	Open func(ctx context.Context) (io.ReadCloser, error)
}

// Events emits the package of every logged crash
func (s *LogcatCrashSource) Events(ctx context.Context) <-chan string {
	out := make(chan string, 16)
	go func() {
		defer close(out)
		open := s.Open
		if open == nil {
			open = openLogcat
		}
		stream, err := open(ctx)
		if err != nil {
			return
		}
		defer stream.Close()

		scanner := bufio.NewScanner(stream)
		for scanner.Scan() {
			pkg, ok := parseCrashLine(scanner.Text())
			if !ok {
				continue
			}
			select {
			case out <- pkg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func parseCrashLine(line string) (string, bool) {
	m := crashLinePattern.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	return packageOfProcess(m[1]), true
}

type cmdStream struct {
	io.ReadCloser
	cmd *exec.Cmd
}

func (c *cmdStream) Close() error {
	err := c.ReadCloser.Close()
	_ = c.cmd.Wait()
	return err
}

func openLogcat(ctx context.Context) (io.ReadCloser, error) {
	cmd := exec.CommandContext(ctx, "logcat", "-b", "crash", "-T", "1")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &cmdStream{ReadCloser: stdout, cmd: cmd}, nil
}
