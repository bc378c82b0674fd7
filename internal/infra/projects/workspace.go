// Package projects manages the per-chat project directories the agent runs
// in and the append-only files kept inside them.
package projects

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"relay/internal/domain/transcript"
	"relay/internal/infra/filestore"
	"relay/internal/shared/logging"
)

// RequirementsHeader seeds an empty requirements document.
const RequirementsHeader = "# Project Requirements\n\n"

var (
	ErrProjectNotFound    = errors.New("project not found")
	ErrProjectExists      = errors.New("project already exists")
	ErrInvalidProjectName = errors.New("invalid project name")
	ErrFileNotFound       = errors.New("file not found in project")
)

var projectNameRE = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// Config locates projects and their bookkeeping files.
type Config struct {
	Root             string
	ConversationLog  string
	RequirementsFile string
}

// Workspace lists, creates and records into projects under one root.
type Workspace struct {
	cfg    Config
	logger logging.Logger
	mu     sync.Mutex
}

// NewWorkspace creates the root directory when needed.
func NewWorkspace(cfg Config, logger logging.Logger) (*Workspace, error) {
	if strings.TrimSpace(cfg.Root) == "" {
		return nil, fmt.Errorf("projects root is empty")
	}
	if cfg.ConversationLog == "" {
		cfg.ConversationLog = "project_conversation.log"
	}
	if cfg.RequirementsFile == "" {
		cfg.RequirementsFile = "GEMINI.md"
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve projects root: %w", err)
	}
	cfg.Root = root
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create projects root: %w", err)
	}
	return &Workspace{cfg: cfg, logger: logging.OrNop(logger)}, nil
}

// Root returns the absolute projects root.
func (w *Workspace) Root() string {
	return w.cfg.Root
}

// Config returns the workspace configuration.
func (w *Workspace) Config() Config {
	return w.cfg
}

// ValidateName rejects names that are not a single plain path element.
func ValidateName(name string) error {
	if !projectNameRE.MatchString(name) || strings.Contains(name, "..") {
		return fmt.Errorf("%w: %q (use letters, digits, '-', '_' and '.')", ErrInvalidProjectName, name)
	}
	return nil
}

// List returns the project names, sorted, skipping hidden directories.
func (w *Workspace) List() ([]string, error) {
	entries, err := os.ReadDir(w.cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Open returns the directory of an existing project and makes sure its
// requirements document exists.
func (w *Workspace) Open(name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	dir := filepath.Join(w.cfg.Root, name)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrProjectNotFound, name)
	}
	if err := w.ensureRequirements(dir); err != nil {
		return "", err
	}
	return dir, nil
}

// Create makes a new project directory with a seeded requirements document.
func (w *Workspace) Create(name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	dir := filepath.Join(w.cfg.Root, name)
	if _, err := os.Stat(dir); err == nil {
		return "", fmt.Errorf("%w: %s", ErrProjectExists, name)
	}
	if err := os.Mkdir(dir, 0o755); err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("%w: %s", ErrProjectExists, name)
		}
		return "", fmt.Errorf("create project %s: %w", name, err)
	}
	if err := w.ensureRequirements(dir); err != nil {
		return "", err
	}
	w.logger.Info("Created project %s at %s", name, dir)
	return dir, nil
}

// Files returns the regular files directly inside dir, sorted.
func (w *Workspace) Files(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// FilePath resolves name inside dir, refusing paths that escape it.
func (w *Workspace) FilePath(dir, name string) (string, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	path := filepath.Clean(filepath.Join(root, name))
	if !transcript.IsWithin(root, path) {
		return "", fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	return path, nil
}

// IsBookkeeping reports whether rel names one of the files the relay itself
// writes into a project.
func (w *Workspace) IsBookkeeping(rel string) bool {
	base := filepath.Base(rel)
	return base == w.cfg.ConversationLog || base == w.cfg.RequirementsFile
}

// RequirementsPath returns the requirements document of the project in dir.
func (w *Workspace) RequirementsPath(dir string) string {
	return filepath.Join(dir, w.cfg.RequirementsFile)
}

// RequirementsFile returns the requirements document's base name.
func (w *Workspace) RequirementsFile() string {
	return w.cfg.RequirementsFile
}

// ReplaceRequirements overwrites the requirements document of dir.
func (w *Workspace) ReplaceRequirements(dir string, content []byte) error {
	if err := filestore.AtomicWrite(w.RequirementsPath(dir), content, 0o644); err != nil {
		return fmt.Errorf("replace requirements: %w", err)
	}
	w.logger.Info("Replaced requirements of %s (%d bytes)", dir, len(content))
	return nil
}

func (w *Workspace) ensureRequirements(dir string) error {
	path := filepath.Join(dir, w.cfg.RequirementsFile)
	info, err := os.Stat(path)
	if err == nil && info.Size() > 0 {
		return nil
	}
	if err := filestore.AppendFile(path, RequirementsHeader, 0o644); err != nil {
		return fmt.Errorf("seed requirements: %w", err)
	}
	return nil
}
