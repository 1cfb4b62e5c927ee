package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/gdamore/tcell/v2"
	"github.com/spf13/cobra"

	"github.com/dshills/keydeck/internal/app"
	"github.com/dshills/keydeck/internal/config"
	"github.com/dshills/keydeck/internal/entity"
	"github.com/dshills/keydeck/internal/logging"
	"github.com/dshills/keydeck/internal/render"
	"github.com/dshills/keydeck/internal/script"
)

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return cfg, err
	}
	if flagLogLevel != "" {
		cfg.Log.Level = flagLogLevel
	}
	return cfg, nil
}

// parseFilters turns --filter values into entity filters: page=<ref>
// and key=<ref> narrow a kind, noimages/notexts/noevents deny one.
func parseFilters(values []string) (entity.Filters, error) {
	denials := map[string]entity.Kind{
		"nopages":  entity.KindPage,
		"nokeys":   entity.KindKey,
		"noimages": entity.KindImageLayer,
		"notexts":  entity.KindTextLine,
		"noevents": entity.KindEvent,
	}
	narrowing := map[string]entity.Kind{
		"page": entity.KindPage,
		"key":  entity.KindKey,
	}

	filters := make(entity.Filters)
	for _, v := range values {
		if kind, ok := denials[v]; ok {
			filters[kind] = entity.Deny
			continue
		}
		name, value, hasValue := strings.Cut(v, "=")
		kind, ok := narrowing[name]
		if !ok || !hasValue || value == "" {
			return nil, fmt.Errorf("bad filter %q", v)
		}
		filters[kind] = value
	}
	return filters, nil
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <deck-dir>",
		Short: "Watch a deck directory and run its event triggers",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			filters, err := parseFilters(flagFilters)
			if err != nil {
				return err
			}
			a, err := app.New(args[0], cfg, app.WithFilters(filters))
			if err != nil {
				return err
			}

			signals := make(chan os.Signal, 1)
			signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-signals
				a.Shutdown()
			}()

			if err := a.Run(); err != nil && err != app.ErrStopped {
				return err
			}
			return nil
		},
	}
}

func newPreviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "preview <deck-dir>",
		Short: "Watch a deck directory and render it in the terminal",
		Long:  "Renders the key grid as terminal boxes. Click a key to press it;\npress q or Escape to quit.",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			filters, err := parseFilters(flagFilters)
			if err != nil {
				return err
			}

			geometry := render.Geometry{Rows: cfg.Deck.Rows, Cols: cfg.Deck.Cols}
			sink, err := render.NewTerminalSink(geometry)
			if err != nil {
				return fmt.Errorf("terminal: %w", err)
			}

			a, err := app.New(args[0], cfg,
				app.WithSink(sink),
				app.WithFilters(filters),
				app.WithLogger(logging.Discard()),
			)
			if err != nil {
				sink.Close()
				return err
			}

			go previewInput(a, sink)

			if err := a.Run(); err != nil && err != app.ErrStopped {
				return err
			}
			return nil
		},
	}
}

// previewInput maps terminal events to deck input: mouse clicks press
// and release grid keys, q or Escape quits.
func previewInput(a *app.Application, sink *render.TerminalSink) {
	var heldRow, heldCol int
	for {
		ev := sink.PollEvent()
		if ev == nil {
			return
		}
		switch tev := ev.(type) {
		case *tcell.EventKey:
			if tev.Key() == tcell.KeyEscape || tev.Key() == tcell.KeyCtrlC || tev.Rune() == 'q' {
				a.Shutdown()
				return
			}
		case *tcell.EventMouse:
			x, y := tev.Position()
			if tev.Buttons()&tcell.Button1 != 0 {
				if row, col, ok := sink.KeyAt(x, y); ok && (row != heldRow || col != heldCol) {
					if heldRow != 0 {
						a.Release(heldRow, heldCol)
					}
					heldRow, heldCol = row, col
					a.Press(row, col)
				}
			} else if heldRow != 0 {
				a.Release(heldRow, heldCol)
				heldRow, heldCol = 0, 0
			}
		}
	}
}

func newMakeDirsCmd() *cobra.Command {
	var pages int
	cmd := &cobra.Command{
		Use:   "make-dirs <deck-dir> <rows> <cols>",
		Short: "Scaffold the page and key directory layout",
		Args:  cobra.ExactArgs(3),
		RunE: func(_ *cobra.Command, args []string) error {
			rows, err := strconv.Atoi(args[1])
			if err != nil || rows < 1 {
				return fmt.Errorf("bad rows %q", args[1])
			}
			cols, err := strconv.Atoi(args[2])
			if err != nil || cols < 1 {
				return fmt.Errorf("bad cols %q", args[2])
			}
			return makeDirs(args[0], pages, rows, cols)
		},
	}
	cmd.Flags().IntVar(&pages, "pages", 1, "number of pages to scaffold")
	return cmd
}

func makeDirs(deckDir string, pages, rows, cols int) error {
	for page := 1; page <= pages; page++ {
		pageName := entity.ComposeName(entity.ParsedName{Kind: entity.KindPage, Page: page})
		for row := 1; row <= rows; row++ {
			for col := 1; col <= cols; col++ {
				keyName := entity.ComposeName(entity.ParsedName{
					Kind: entity.KindKey, Row: row, Col: col,
				})
				dir := filepath.Join(deckDir, pageName, keyName)
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return err
				}
			}
		}
	}
	fmt.Printf("created %d page(s) of %dx%d keys under %s\n", pages, rows, cols, deckDir)
	return nil
}

func newPageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "page <deck-dir> <ref>",
		Short: "Ask a running deck to change page",
		Long: "Writes the set-current-page control file. The ref is a page number,\n" +
			"a page name, or one of " + entity.NavFirst + ", " + entity.NavBack + ", " +
			entity.NavPrevious + ", " + entity.NavNext + ".",
		Args: cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			path := filepath.Join(args[0], entity.SetCurrentPageFile)
			return os.WriteFile(path, []byte(args[1]+"\n"), 0o644)
		},
	}
}

func newBrightnessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "brightness <deck-dir> <level>",
		Short: "Ask a running deck to change brightness",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			if _, err := strconv.Atoi(args[1]); err != nil {
				return fmt.Errorf("bad brightness %q", args[1])
			}
			path := filepath.Join(args[0], entity.BrightnessFile)
			return os.WriteFile(path, []byte(args[1]+"\n"), 0o644)
		},
	}
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <deck-dir>",
		Short: "Dump the entity tree a deck directory defines",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			filters, err := parseFilters(flagFilters)
			if err != nil {
				return err
			}
			// Events stay out of inspection unless asked for, so a dump
			// never fires triggers.
			if _, ok := filters[entity.KindEvent]; !ok {
				filters[entity.KindEvent] = entity.Deny
			}

			geometry := render.Geometry{Rows: cfg.Deck.Rows, Cols: cfg.Deck.Cols}
			rt := &entity.Runtime{
				Log:      logging.Discard(),
				Writer:   render.NewWriter(render.NewNullSink(geometry)),
				Geometry: geometry,
				Scripts:  script.NewRunner(script.WithLua(false)),
				Filters:  filters,
			}
			deck := entity.NewDeck(args[0], rt)
			if err := deck.Load(); err != nil {
				return err
			}
			deck.Describe(os.Stdout)
			deck.Stop()
			rt.Writer.Close()
			rt.Scripts.Close()
			return nil
		},
	}
}
