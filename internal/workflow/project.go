// Package workflow owns a project: its directory layout, its metadata file
// and the single finding store handle the classifier and probe passes share.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/classifier"
	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/config"
	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/core"
	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/database"
	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/logger"
	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/telemetry"
	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/validation"
)

const (
	metaFile  = "project.json"
	storeFile = "results.db"

	StatusActive = "active"
)

// Layout lists the directories created under every project root.
var Layout = []string{
	"reconnaissance",
	"parameters",
	"testing",
	"business_logic",
	"advanced",
	"validation",
	"reports",
	"evidence",
	"tools",
}

// Meta is the content of project.json.
type Meta struct {
	Name      string    `json:"name"`
	Created   time.Time `json:"created"`
	Updated   time.Time `json:"updated"`
	Target    string    `json:"target"`
	Scope     []string  `json:"scope"`
	Status    string    `json:"status"`
	StoreKind string    `json:"store"`
}

// Option customizes a Project at create or open time.
type Option func(*Project)

// WithLogger sets the project logger.
func WithLogger(log *logger.Logger) Option {
	return func(p *Project) {
		if log != nil {
			p.log = log
		}
	}
}

// WithTelemetry sets the counters the project reports to.
func WithTelemetry(t core.Telemetry) Option {
	return func(p *Project) {
		if t != nil {
			p.telemetry = t
		}
	}
}

// Project is an open project. It owns the only store handle; Close releases it.
type Project struct {
	Name string
	Root string
	Meta Meta

	Store      *database.Store
	Classifier *classifier.Classifier

	cfg       *config.Config
	log       *logger.Logger
	telemetry core.Telemetry
	scope     *validation.Scope
}

// CreateProject lays out <projects.root>/<name>, writes project.json and
// opens an empty store. On failure the partially created root is removed, so
// the name can be created again.
func CreateProject(ctx context.Context, cfg *config.Config, name string, opts ...Option) (p *Project, err error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	root := filepath.Join(cfg.Projects.Root, name)
	if _, err := os.Stat(root); err == nil {
		return nil, fmt.Errorf("%w: project %s at %s", core.ErrAlreadyExists, name, root)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat project root: %w", err)
	}

	defer func() {
		if err == nil {
			return
		}
		if rmErr := os.RemoveAll(root); rmErr != nil {
			err = fmt.Errorf("%w (cleanup of %s failed: %v)", err, root, rmErr)
		}
	}()

	for _, dir := range Layout {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create project directory %s: %w", dir, err)
		}
	}

	now := time.Now().UTC()
	meta := Meta{
		Name:      name,
		Created:   now,
		Updated:   now,
		Scope:     []string{},
		Status:    StatusActive,
		StoreKind: cfg.Database.Driver,
	}
	if err := writeMeta(root, meta); err != nil {
		return nil, err
	}

	p, err = open(ctx, cfg, root, meta, opts)
	if err != nil {
		return nil, err
	}
	p.log.Infow("Project created", "root", root)
	return p, nil
}

// OpenProject opens an existing project root.
func OpenProject(ctx context.Context, cfg *config.Config, root string, opts ...Option) (*Project, error) {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: project root %s", core.ErrNotFound, root)
	}

	meta, err := readMeta(root)
	if err != nil {
		return nil, err
	}

	if cfg.Database.Driver == "sqlite3" {
		if _, err := os.Stat(filepath.Join(root, storeFile)); err != nil {
			return nil, fmt.Errorf("%w: store %s", core.ErrNotFound, filepath.Join(root, storeFile))
		}
	}

	return open(ctx, cfg, root, meta, opts)
}

func open(ctx context.Context, cfg *config.Config, root string, meta Meta, opts []Option) (*Project, error) {
	p := &Project{
		Name:      meta.Name,
		Root:      root,
		Meta:      meta,
		cfg:       cfg,
		log:       logger.NewNop(),
		telemetry: telemetry.NewNoop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.WithProject(meta.Name)

	scope, err := validation.ParseScope(meta.Scope)
	if err != nil {
		return nil, fmt.Errorf("invalid scope in %s: %w", metaFile, err)
	}
	p.scope = scope

	cls, err := classifier.FromConfig(cfg.Classification)
	if err != nil {
		return nil, err
	}
	p.Classifier = cls

	dbCfg := cfg.Database
	if dbCfg.Driver == "sqlite3" {
		dbCfg.DSN = filepath.Join(root, storeFile)
	}
	store, err := database.NewStore(ctx, dbCfg, p.log)
	if err != nil {
		return nil, err
	}
	p.Store = store

	return p, nil
}

// Path joins elem onto the project root.
func (p *Project) Path(elem ...string) string {
	return filepath.Join(append([]string{p.Root}, elem...)...)
}

// Scope returns the parsed project scope. An empty scope allows every host.
func (p *Project) Scope() *validation.Scope {
	return p.scope
}

// SetScope records the primary target and the scope entries in project.json.
func (p *Project) SetScope(target string, scope []string) error {
	target = strings.TrimSpace(target)
	if target != "" && !validation.IsDomain(target) {
		if res := validation.ValidateURL(target); !res.Valid {
			return res.Error
		}
	}

	parsed, err := validation.ParseScope(scope)
	if err != nil {
		return err
	}

	meta := p.Meta
	meta.Target = target
	meta.Scope = parsed.Entries()
	meta.Updated = time.Now().UTC()
	if err := writeMeta(p.Root, meta); err != nil {
		return err
	}

	p.Meta = meta
	p.scope = parsed
	p.log.Infow("Project scope updated", "target", meta.Target, "scope_entries", len(meta.Scope))
	return nil
}

// Close closes the store.
func (p *Project) Close() error {
	if p.Store == nil {
		return nil
	}
	err := p.Store.Close()
	p.Store = nil
	return err
}

func validateName(name string) error {
	trimmed := strings.TrimSpace(name)
	switch {
	case trimmed == "":
		return fmt.Errorf("%w: project name is empty", core.ErrValidation)
	case trimmed != name:
		return fmt.Errorf("%w: project name %q has surrounding whitespace", core.ErrValidation, name)
	case strings.ContainsAny(name, `/\`), name == ".", name == "..":
		return fmt.Errorf("%w: project name %q must not contain path separators", core.ErrValidation, name)
	}
	return nil
}

func readMeta(root string) (Meta, error) {
	var meta Meta
	data, err := os.ReadFile(filepath.Join(root, metaFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return meta, fmt.Errorf("%w: %s in %s", core.ErrNotFound, metaFile, root)
		}
		return meta, fmt.Errorf("failed to read %s: %w", metaFile, err)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("%w: corrupt %s: %v", core.ErrValidation, metaFile, err)
	}
	if meta.Name == "" {
		meta.Name = filepath.Base(root)
	}
	return meta, nil
}

func writeMeta(root string, meta Meta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", metaFile, err)
	}
	return writeFileAtomic(filepath.Join(root, metaFile), data)
}

func writeFileAtomic(path string, data []byte) error {
	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
