package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"archivist/internal/archive"
	"archivist/internal/config"
	"archivist/internal/logging"
	"archivist/internal/preflight"
)

type commandContext struct {
	configFlag  *string
	archiveFlag *string
	jsonFlag    *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
	loggerErr  error
}

func newCommandContext(configFlag, archiveFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{
		configFlag:  configFlag,
		archiveFlag: archiveFlag,
		jsonFlag:    jsonFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// ensureLogger builds the command logger once; console output goes to the
// command's stderr so stdout stays parseable.
func (c *commandContext) ensureLogger(w io.Writer) (*slog.Logger, error) {
	c.loggerOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.loggerErr = err
			return
		}
		c.logger, c.loggerErr = logging.NewFromConfig(cfg, w)
	})
	return c.logger, c.loggerErr
}

// JSONMode reports whether --json was given.
func (c *commandContext) JSONMode() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

func (c *commandContext) archiveName() string {
	if c.archiveFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.archiveFlag)
}

// openStore opens the selected archive. Writers run the preflight checks first
// and wait briefly for a concurrent writer to finish.
func (c *commandContext) openStore(cmd *cobra.Command, readOnly bool) (*archive.Store, *slog.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, nil, err
	}
	logger, err := c.ensureLogger(cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, err
	}
	if !readOnly {
		if err := preflight.Check(cfg); err != nil {
			return nil, nil, err
		}
	}
	opts := archive.Options{
		ReadOnly:    readOnly,
		BusyTimeout: time.Duration(cfg.Archive.BusyTimeoutMS) * time.Millisecond,
		LockWait:    2 * time.Second,
		Logger:      logger,
	}
	store, err := archive.Open(commandCtx(cmd), cfg.ArchivePath(c.archiveName()), opts)
	if err != nil {
		return nil, nil, err
	}
	return store, logger, nil
}

// withStore runs fn against the selected archive and closes it afterwards.
func (c *commandContext) withStore(cmd *cobra.Command, readOnly bool, fn func(*archive.Store, *slog.Logger) error) error {
	store, logger, err := c.openStore(cmd, readOnly)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			logger.Warn("failed to close archive", logging.Error(cerr))
		}
	}()
	return fn(store, logger)
}

func commandCtx(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}

func requireConfirmation(confirmed bool, what string) error {
	if confirmed {
		return nil
	}
	return fmt.Errorf("%s: %w (re-run with --confirm)", what, archive.ErrNotConfirmed)
}
