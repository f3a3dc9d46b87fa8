package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/KieronQuinn/Smartspacer-sub002/internal/logging"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/pipeline"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/providers/sdk"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/shared/id"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/shared/types"
)

const (
	// Version of the archive format
	Version = 1

	// Extension of archives written by Save
	Extension = ".smartspacer"

	DefaultCallTimeout = 5 * time.Second
)

var (
	// ErrInvalidName is returned for archive names outside the backup directory
	ErrInvalidName = errors.New("invalid backup name")

	// ErrNotFound is returned when the named archive does not exist
	ErrNotFound = errors.New("backup not found")
)

// Entry is the backup of one instance
type Entry struct {
	ID        string               `json:"id"`
	Role      pipeline.Role        `json:"role"`
	Authority string               `json:"authority"`
	Package   string               `json:"package"`
	Position  int                  `json:"position"`
	Config    types.InstanceConfig `json:"config"`
	Backup    *sdk.Backup          `json:"backup,omitempty"`
}

// Archive holds every instance backup taken at one point in time
type Archive struct {
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	Entries   []Entry   `json:"entries"`
}

// Status is the outcome for one instance
type Status string

const (
	StatusOK      Status = "ok"
	StatusEmpty   Status = "empty"
	StatusFailed  Status = "failed"
	StatusMissing Status = "missing"
)

// Result reports what happened to one instance during backup or restore
type Result struct {
	ID        string `json:"id"`
	Authority string `json:"authority"`
	Status    Status `json:"status"`
	Error     string `json:"error,omitempty"`
}

// Manager backs up and restores the instances of a registry
type Manager struct {
	registry    *pipeline.Registry
	dir         string
	callTimeout time.Duration
	logger      *logging.Logger
}

// NewManager creates a backup manager writing archives to dir
func NewManager(registry *pipeline.Registry, dir string, logger *logging.Logger) *Manager {
	return &Manager{
		registry:    registry,
		dir:         dir,
		callTimeout: DefaultCallTimeout,
		logger:      logger.Component("backup"),
	}
}

// Create asks every instance for its backup. A failing instance is reported
// and left out of the archive without affecting the others.
func (m *Manager) Create(ctx context.Context) (*Archive, []Result) {
	archive := &Archive{Version: Version, CreatedAt: time.Now().UTC()}
	var results []Result

	for _, inst := range m.registry.List("") {
		result := Result{ID: inst.ID, Authority: inst.Authority}
		backup, err := m.backup(ctx, inst)
		switch {
		case err != nil:
			m.logger.Warn("Instance backup failed",
				zap.String("instance", inst.ID),
				zap.String("authority", inst.Authority),
				zap.Error(err))
			result.Status, result.Error = StatusFailed, err.Error()
			results = append(results, result)
			continue
		case backup == nil:
			result.Status = StatusEmpty
		default:
			result.Status = StatusOK
		}
		archive.Entries = append(archive.Entries, Entry{
			ID:        inst.ID,
			Role:      inst.Role,
			Authority: inst.Authority,
			Package:   inst.Package,
			Position:  inst.Position,
			Config:    inst.Config,
			Backup:    backup,
		})
		results = append(results, result)
	}
	return archive, results
}

func (m *Manager) backup(ctx context.Context, inst *pipeline.Instance) (*sdk.Backup, error) {
	ctx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()
	if inst.Role == pipeline.RoleComplication {
		return sdk.NewComplicationClient(inst.Endpoint).Backup(ctx, inst.ID)
	}
	return sdk.NewTargetClient(inst.Endpoint).Backup(ctx, inst.ID)
}

// Restore hands every payload back to the instance with the same id, or
// failing that to an unrestored instance of the same authority and role.
func (m *Manager) Restore(ctx context.Context, archive *Archive) []Result {
	used := make(map[string]struct{})
	results := make([]Result, 0, len(archive.Entries))

	for _, entry := range archive.Entries {
		result := Result{ID: entry.ID, Authority: entry.Authority}
		if entry.Backup == nil {
			result.Status = StatusEmpty
			results = append(results, result)
			continue
		}

		inst := m.match(entry, used)
		if inst == nil {
			result.Status = StatusMissing
			results = append(results, result)
			continue
		}
		used[inst.ID] = struct{}{}
		result.ID = inst.ID

		ok, err := m.restore(ctx, inst, *entry.Backup)
		switch {
		case err != nil:
			m.logger.Warn("Instance restore failed",
				zap.String("instance", inst.ID),
				zap.String("authority", inst.Authority),
				zap.Error(err))
			result.Status, result.Error = StatusFailed, err.Error()
		case !ok:
			result.Status = StatusFailed
		default:
			result.Status = StatusOK
		}
		results = append(results, result)
	}
	return results
}

func (m *Manager) match(entry Entry, used map[string]struct{}) *pipeline.Instance {
	if inst, ok := m.registry.Get(entry.ID); ok && inst.Authority == entry.Authority {
		if _, taken := used[inst.ID]; !taken {
			return inst
		}
	}
	for _, inst := range m.registry.List(entry.Role) {
		if _, taken := used[inst.ID]; taken {
			continue
		}
		if inst.Authority == entry.Authority {
			return inst
		}
	}
	return nil
}

func (m *Manager) restore(ctx context.Context, inst *pipeline.Instance, backup sdk.Backup) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()
	if inst.Role == pipeline.RoleComplication {
		return sdk.NewComplicationClient(inst.Endpoint).Restore(ctx, inst.ID, backup)
	}
	return sdk.NewTargetClient(inst.Endpoint).Restore(ctx, inst.ID, backup)
}

// Encode writes an archive as zstd-compressed JSON
func Encode(w io.Writer, archive *Archive) error {
	raw, err := sonic.Marshal(archive)
	if err != nil {
		return fmt.Errorf("encode archive: %w", err)
	}
	enc, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("create compressor: %w", err)
	}
	if _, err := enc.Write(raw); err != nil {
		enc.Close()
		return fmt.Errorf("compress archive: %w", err)
	}
	return enc.Close()
}

// Decode reads an archive written by Encode
func Decode(r io.Reader) (*Archive, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("create decompressor: %w", err)
	}
	defer dec.Close()

	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("decompress archive: %w", err)
	}
	var archive Archive
	if err := sonic.Unmarshal(raw, &archive); err != nil {
		return nil, fmt.Errorf("decode archive: %w", err)
	}
	if archive.Version > Version {
		return nil, fmt.Errorf("archive version %d is newer than supported version %d", archive.Version, Version)
	}
	return &archive, nil
}

// Save writes an archive into the backup directory and returns its path
func (m *Manager) Save(archive *Archive) (string, error) {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup directory: %w", err)
	}
	path := filepath.Join(m.dir, id.Default().GenerateWithPrefix(id.BackupPrefix)+Extension)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create backup file: %w", err)
	}
	if err := Encode(f, archive); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	m.logger.Info("Backup written", zap.String("path", path), zap.Int("entries", len(archive.Entries)))
	return path, nil
}

// Load reads an archive from the backup directory. Names outside the
// directory are rejected.
func (m *Manager) Load(name string) (*Archive, error) {
	if name != filepath.Base(name) || !strings.HasSuffix(name, Extension) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	f, err := os.Open(filepath.Join(m.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("open backup: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// List returns the archive names in the backup directory, newest first
func (m *Manager) List() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if os.IsNotExist(err) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read backup directory: %w", err)
	}
	names := []string{}
	for i := len(entries) - 1; i >= 0; i-- {
		if e := entries[i]; !e.IsDir() && strings.HasSuffix(e.Name(), Extension) {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
