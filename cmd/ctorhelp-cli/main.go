package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shehackedyou/ctorhelp"
	"github.com/urfave/cli/v2"
)

// Set at build time
var version = "dev"

func main() {
	app := &cli.App{
		Name:                   "ctorhelp",
		Usage:                  "Signature help for C# object creation expressions",
		Version:                version,
		UseShortOptionHandling: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "workspace",
				Aliases: []string{"w"},
				Usage:   "Workspace directory (with an optional ctorhelp.toml) or .txtar archive",
				Value:   ".",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error) - overrides config",
				EnvVars: []string{"CTORHELP_LOG_LEVEL"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:    "help-at",
				Aliases: []string{"at"},
				Usage:   "Print signature help at a position",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "Document path, relative to the workspace", Required: true},
					&cli.IntFlag{Name: "offset", Usage: "0-based byte offset of the caret", Value: -1},
					&cli.IntFlag{Name: "line", Usage: "1-based line of the caret"},
					&cli.IntFlag{Name: "col", Usage: "1-based UTF-16 column of the caret"},
					&cli.StringFlag{Name: "marker", Usage: "Caret marker to find and remove from the document (e.g. $$)"},
					&cli.StringFlag{Name: "trigger", Usage: "invoke, typed:<char>, retrigger[:<char>] or previous", Value: "invoke"},
					&cli.StringFlag{Name: "context", Usage: "Project to use as the primary context"},
					&cli.BoolFlag{Name: "hide-advanced", Usage: "Hide EditorBrowsable(Advanced) metadata constructors"},
					&cli.BoolFlag{Name: "json", Aliases: []string{"j"}, Usage: "Output as JSON"},
				},
				Action: helpAtCommand,
			},
			{
				Name:  "contexts",
				Usage: "List the project contexts of a document",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "Document path, relative to the workspace", Required: true},
				},
				Action: contextsCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Debug("ctorhelp failed", "error", err)
		ctorhelp.PrettyPrint(ctorhelp.ColorRed, fmt.Sprintf("Error: %v\n", err))
		os.Exit(1)
	}
}

// session is the state shared by the subcommands.
type session struct {
	cfg       ctorhelp.Config
	logger    *slog.Logger
	workspace *ctorhelp.Workspace
	units     *ctorhelp.UnitCache
	metadata  *ctorhelp.MetadataService
}

func (s *session) Close() {
	s.units.Close()
	if err := s.metadata.Close(); err != nil {
		s.logger.Warn("Error closing metadata cache", "error", err)
	}
}

func openSession(c *cli.Context) (*session, error) {
	tempLogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg, cfgErr := ctorhelp.LoadConfig(tempLogger)
	if cfgErr != nil && !errors.Is(cfgErr, ctorhelp.ErrConfig) {
		return nil, cfgErr
	}

	chosenLevel := cfg.LogLevel
	if lvl := c.String("log-level"); lvl != "" {
		chosenLevel = lvl
	}
	logLevel, err := ctorhelp.ParseLogLevel(chosenLevel)
	if err != nil {
		tempLogger.Warn("Invalid log level specified, using default 'info'", "specified_level", chosenLevel, "error", err)
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
	if cfgErr != nil {
		logger.Warn("Configuration loaded with warnings", "error", cfgErr)
	}

	s := &session{cfg: cfg, logger: logger, units: ctorhelp.NewUnitCache(cfg.MemoryCacheTTL, logger)}
	if cfg.DisableDiskCache {
		s.metadata = ctorhelp.NewMetadataService(nil, nil, logger)
	} else {
		db, dbErr := ctorhelp.OpenMetadataDB(cfg.CacheDir, logger)
		if dbErr != nil {
			logger.Warn("Metadata disk cache unavailable, using memory only", "error", dbErr)
		}
		s.metadata = ctorhelp.NewMetadataService(db, nil, logger)
	}

	opts := ctorhelp.WorkspaceOptions{Logger: logger, Units: s.units, Metadata: s.metadata}
	root := c.String("workspace")
	if strings.HasSuffix(root, ".txtar") {
		data, readErr := os.ReadFile(root)
		if readErr != nil {
			s.Close()
			return nil, fmt.Errorf("reading archive: %w", readErr)
		}
		s.workspace, err = ctorhelp.LoadWorkspaceArchive(data, opts)
	} else {
		s.workspace, err = ctorhelp.LoadDirectoryWorkspace(root, cfg.WorkspaceManifest, opts)
	}
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// documentPath resolves the --file flag against a directory workspace.
func (s *session) documentPath(file string) string {
	if root := s.workspace.Root(); root != "" && !filepath.IsAbs(file) {
		return filepath.Join(root, file)
	}
	return file
}

func helpAtCommand(c *cli.Context) error {
	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.Close()

	path := s.documentPath(c.String("file"))
	if project := c.String("context"); project != "" {
		if err := s.workspace.SetPrimaryContext(path, project); err != nil {
			return err
		}
	}
	doc, err := s.workspace.Document(path)
	if err != nil {
		return err
	}
	text := doc.Text()

	caret := c.Int("offset")
	switch {
	case c.String("marker") != "":
		marker := []byte(c.String("marker"))
		caret = bytes.Index(text, marker)
		if caret < 0 {
			return fmt.Errorf("marker %q not found in %s", marker, c.String("file"))
		}
		s.workspace.SetOverlay(path, append(bytes.Clone(text[:caret]), text[caret+len(marker):]...))
		if doc, err = s.workspace.Document(path); err != nil {
			return err
		}
	case caret < 0:
		if c.Int("line") <= 0 || c.Int("col") <= 0 {
			return errors.New("one of --offset, --line/--col or --marker is required")
		}
		pos := ctorhelp.LSPPosition{Line: uint32(c.Int("line") - 1), Character: uint32(c.Int("col") - 1)}
		if caret, err = ctorhelp.LspPositionToBytePosition(text, pos); err != nil {
			return err
		}
	}

	trigger, err := parseTrigger(c.String("trigger"))
	if err != nil {
		return err
	}

	cfg := s.cfg
	if c.IsSet("hide-advanced") {
		cfg.HideAdvancedMembers = c.Bool("hide-advanced")
	}
	engine := ctorhelp.NewEngine(cfg, s.logger)

	ctx, cancel := context.WithTimeout(c.Context, 30*time.Second)
	defer cancel()
	result, err := engine.GetSignatureHelp(ctx, doc, caret, trigger)
	if err != nil {
		return err
	}

	if c.Bool("json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	if result == nil {
		ctorhelp.PrettyPrint(ctorhelp.ColorYellow, "No object creation argument list at the caret, or the trigger did not apply.\n")
	} else {
		ctorhelp.PrettyPrint(ctorhelp.ColorGreen, fmt.Sprintf("%d signature(s) across %d context(s)\n", len(result.Items), len(doc.Contexts())))
	}
	fmt.Print(ctorhelp.FormatResult(result))
	return nil
}

func contextsCommand(c *cli.Context) error {
	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.Close()

	doc, err := s.workspace.Document(s.documentPath(c.String("file")))
	if err != nil {
		return err
	}
	for i, view := range doc.Contexts() {
		marker := " "
		if i == 0 {
			marker = "*"
		}
		fmt.Printf("%s %s\n", marker, view.ID())
	}
	return nil
}

// parseTrigger reads invoke, typed:<c>, retrigger, retrigger:<c> or previous.
func parseTrigger(spec string) (ctorhelp.TriggerEvent, error) {
	kind, char, _ := strings.Cut(spec, ":")
	first := func() (rune, error) {
		r, size := utf8.DecodeRuneInString(char)
		if size == 0 {
			return 0, fmt.Errorf("trigger %q needs a character", spec)
		}
		return r, nil
	}
	switch kind {
	case "", "invoke":
		return ctorhelp.InvokeTrigger, nil
	case "typed":
		r, err := first()
		if err != nil {
			return ctorhelp.TriggerEvent{}, err
		}
		return ctorhelp.TypedTrigger(r), nil
	case "retrigger":
		if char == "" {
			return ctorhelp.TriggerEvent{Kind: ctorhelp.TriggerRetrigger}, nil
		}
		r, err := first()
		if err != nil {
			return ctorhelp.TriggerEvent{}, err
		}
		return ctorhelp.TriggerEvent{Kind: ctorhelp.TriggerRetrigger, Character: r}, nil
	case "previous":
		return ctorhelp.TriggerEvent{Kind: ctorhelp.TriggerTyped, UsePreviousCharacter: true}, nil
	default:
		return ctorhelp.TriggerEvent{}, fmt.Errorf("unknown trigger %q", spec)
	}
}
