package cog

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/brensch/teamassistant/config"
	"github.com/brensch/teamassistant/discord"
	"github.com/brensch/teamassistant/sheets"
)

// Status is the outcome of loading one candidate.
type Status string

const (
	StatusLoaded  Status = "loaded"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Result describes what happened to one candidate.
type Result struct {
	ID     string
	Path   string
	Status Status
	Err    error
}

// LoaderConfig holds what the loader hands to every cog.
type LoaderConfig struct {
	// Dir is the extensions directory scanned for manifests.
	Dir string
	// Namespace qualifies identifiers, e.g. "cogs".
	Namespace string

	Host     Host
	Settings *config.Settings
	Sheets   sheets.ValuesReader
	Logger   *slog.Logger

	// OnError receives every load failure. It must not panic.
	OnError func(err error)
}

// Loader discovers manifests and sets up the matching cogs one at a time.
type Loader struct {
	registry *Registry
	config   LoaderConfig
	logger   *slog.Logger
}

func NewLoader(registry *Registry, cfg LoaderConfig) *Loader {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{registry: registry, config: cfg, logger: logger}
}

// LoadAll sets up every discovered cog in identifier order. Failures are
// isolated per candidate and reported through the results; the returned error
// is only set when the directory itself cannot be listed.
func (l *Loader) LoadAll(ctx context.Context) ([]Result, error) {
	candidates, err := Discover(l.config.Dir, l.config.Namespace)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		if ctx.Err() != nil {
			break
		}
		res := l.load(ctx, c)
		switch res.Status {
		case StatusLoaded:
			l.logger.Info("loaded extension", "cog", res.ID)
		case StatusSkipped:
			l.logger.Info("skipped disabled extension", "cog", res.ID)
		case StatusFailed:
			l.logger.Error("failed to load extension", "cog", res.ID, "error", res.Err)
			if l.config.OnError != nil {
				l.config.OnError(res.Err)
			}
		}
		results = append(results, res)
	}
	return results, nil
}

func (l *Loader) load(ctx context.Context, c Candidate) (res Result) {
	res = Result{ID: c.ID, Path: c.Path}
	start := time.Now()
	host := &recordingHost{Host: l.config.Host}

	defer func() {
		if r := recover(); r != nil {
			host.rollback()
			res.Status = StatusFailed
			res.Err = errors.Errorf("panic while loading %s: %v", c.ID, r)
		}
	}()

	manifest, err := ReadManifest(c.Path)
	if err != nil {
		return failed(res, errors.WithStack(err))
	}
	if !manifest.IsEnabled() {
		res.Status = StatusSkipped
		return res
	}

	factory, ok := l.registry.Lookup(c.ID)
	if !ok {
		return failed(res, errors.Errorf("no cog registered as %s", c.ID))
	}

	cg := factory()
	cctx := &Context{
		ID:       c.ID,
		Host:     host,
		Settings: l.config.Settings,
		Sheets:   l.config.Sheets,
		Options:  manifest.Options,
		Logger:   l.logger.With("cog", c.ID),
	}
	if err := cg.Setup(ctx, cctx); err != nil {
		if n := host.rollback(); n > 0 {
			l.logger.Debug("rolled back partial cog setup", "cog", c.ID, "removed", n)
		}
		return failed(res, errors.Wrapf(err, "setting up %s (%s)", c.ID, cg.Name()))
	}

	l.logger.Debug("cog setup finished", "cog", c.ID, "name", cg.Name(), "took", time.Since(start))
	res.Status = StatusLoaded
	return res
}

func failed(res Result, err error) Result {
	res.Status = StatusFailed
	res.Err = err
	return res
}

// recordingHost remembers what a cog registers so a failed setup can be
// undone. A failed cog leaves no commands or schedules behind.
type recordingHost struct {
	Host

	commands  []string
	schedules []string
}

func (h *recordingHost) AddCommand(cmd discord.Command) error {
	if err := h.Host.AddCommand(cmd); err != nil {
		return err
	}
	h.commands = append(h.commands, cmd.GetName())
	return nil
}

func (h *recordingHost) AddSchedule(s discord.Schedule) error {
	if err := h.Host.AddSchedule(s); err != nil {
		return err
	}
	h.schedules = append(h.schedules, s.GetName())
	return nil
}

// rollback removes everything recorded so far and returns how many entries went.
func (h *recordingHost) rollback() int {
	removed := 0
	for _, name := range h.schedules {
		if h.Host.RemoveSchedule(name) {
			removed++
		}
	}
	for _, name := range h.commands {
		if h.Host.RemoveCommand(name) {
			removed++
		}
	}
	h.commands, h.schedules = nil, nil
	return removed
}
