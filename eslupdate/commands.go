package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/harveysanders/esllabel/eslupdate/bitmap"
	"github.com/harveysanders/esllabel/eslupdate/compose"
	"github.com/harveysanders/esllabel/eslupdate/config"
	"github.com/harveysanders/esllabel/eslupdate/journal"
	"github.com/harveysanders/esllabel/eslupdate/markup"
	"github.com/harveysanders/esllabel/eslupdate/mqtt"
	"github.com/harveysanders/esllabel/eslupdate/status"
	"github.com/harveysanders/esllabel/eslupdate/update"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	debug      bool
	logFormat  string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:          "eslupdate",
		Short:        "Render and publish electronic shelf label bitmaps",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "YAML configuration file")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "text", "log output format: text|json")

	cmd.AddCommand(updateCmd(opts), previewCmd(opts), inspectCmd(opts), historyCmd(opts))
	return cmd
}

// labelFlags binds the editable label values to cmd. Flags left unset keep
// the values from the configuration file.
type labelFlags struct {
	line1, line2, line3, price, tagID string
}

func (l *labelFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&l.line1, "line1", "", "first description line, **bold** markers allowed")
	cmd.Flags().StringVar(&l.line2, "line2", "", "second description line")
	cmd.Flags().StringVar(&l.line3, "line3", "", "third description line")
	cmd.Flags().StringVar(&l.price, "price", "", "price, e.g. 3.49")
	cmd.Flags().StringVar(&l.tagID, "tag-id", "", "destination label identifier")
}

func (l *labelFlags) apply(cmd *cobra.Command, fs *markup.Fields) {
	set := func(name, v string, dst *string) {
		if cmd.Flags().Changed(name) {
			*dst = v
		}
	}
	set("line1", l.line1, &fs.Line1)
	set("line2", l.line2, &fs.Line2)
	set("line3", l.line3, &fs.Line3)
	set("price", l.price, &fs.Price)
	set("tag-id", l.tagID, &fs.TagID)
}

func (o *rootOptions) load() (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if o.debug {
		cfg.LogLevel = slog.LevelDebug
	}
	return cfg, nil
}

func newLogger(w io.Writer, level slog.Level, format string) (*slog.Logger, error) {
	hopts := &slog.HandlerOptions{Level: level}
	switch format {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, hopts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, hopts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

func updateCmd(opts *rootOptions) *cobra.Command {
	var (
		label    labelFlags
		broker   string
		clientID string
		settle   time.Duration
		jpath    string
	)
	c := &cobra.Command{
		Use:   "update",
		Short: "Compose the label and publish its bitmaps to the broker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("broker") {
				if _, err := mqtt.ParseBroker(broker); err != nil {
					return err
				}
				cfg.Broker = broker
			}
			if cmd.Flags().Changed("client-id") {
				cfg.ClientID = clientID
			}
			if cmd.Flags().Changed("settle") {
				cfg.Settle = settle
			}
			if cmd.Flags().Changed("journal") {
				cfg.Journal = jpath
			}
			label.apply(cmd, &cfg.Label)

			logger, err := newLogger(cmd.ErrOrStderr(), cfg.LogLevel, opts.logFormat)
			if err != nil {
				return err
			}

			var rec journal.Recorder = journal.Nop{}
			if cfg.Journal != "" {
				f, err := journal.OpenFile(cfg.Journal)
				if err != nil {
					return err
				}
				defer f.Close()
				rec = f
			}

			notices := make(chan status.Notice, 8)
			h := status.NewHandler(cmd.OutOrStdout(), notices, logger)
			go h.Run()

			client := &mqtt.Client{
				ID:       cfg.ClientID,
				Timeout:  cfg.Timeout,
				Logger:   logger,
				Username: cfg.Username,
				Password: cfg.Password,
			}
			fields := cfg.Label
			u := &update.Updater{
				Broker:   cfg.Broker,
				Dialer:   sessionDialer(client),
				Renderer: compose.Composer{Fields: fields},
				TagID:    func() string { return fields.TagID },
				Settle:   cfg.Settle,
				Logger:   logger,
				Status:   notices,
				Journal:  rec,
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Timeout)
			defer cancel()
			_, err = u.Run(ctx)
			close(notices)
			<-h.Done()
			return err
		},
	}
	label.register(c)
	c.Flags().StringVar(&broker, "broker", "", "broker address, e.g. mqtt://localhost:1883 or ws://localhost:9001 (overrides config and "+config.EnvBroker+")")
	c.Flags().StringVar(&clientID, "client-id", "", "MQTT client identifier (default esl-<uuid>)")
	c.Flags().DurationVar(&settle, "settle", config.DefaultSettle, "wait after publishing before closing the connection")
	c.Flags().StringVar(&jpath, "journal", "", "append a record of the job to this file")
	return c
}

// sessionDialer adapts the MQTT client to the updater's connection interface.
func sessionDialer(c *mqtt.Client) update.Dialer {
	return update.DialFunc(func(ctx context.Context, broker string) (update.Conn, error) {
		s, err := c.Dial(ctx, broker)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
}

func previewCmd(opts *rootOptions) *cobra.Command {
	var (
		label     labelFlags
		out       string
		deviceOut string
		binDir    string
		asHTML    bool
	)
	c := &cobra.Command{
		Use:   "preview",
		Short: "Render the label locally without publishing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if out == "" && deviceOut == "" && binDir == "" && !asHTML {
				return errors.New("nothing to write: pass --out, --device-out, --bin-dir or --html")
			}
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			label.apply(cmd, &cfg.Label)
			logger, err := newLogger(cmd.ErrOrStderr(), cfg.LogLevel, opts.logFormat)
			if err != nil {
				return err
			}

			composer := compose.Composer{Fields: cfg.Label}
			img, err := composer.Render(cmd.Context())
			if err != nil {
				return err
			}
			regions, err := compose.Capture(cmd.Context(), compose.RenderFunc(func(context.Context) (image.Image, error) {
				return img, nil
			}))
			if err != nil {
				return err
			}
			desc := bitmap.Encode(regions.Description.Image)
			price := bitmap.Encode(regions.Price.Image)

			if out != "" {
				if err := writePNG(out, img); err != nil {
					return err
				}
				logger.Info("preview:wrote-composition", slog.String("path", out))
			}
			if deviceOut != "" {
				// What the label shows after decoding both payloads.
				canvas := compose.NewLabelCanvas()
				bitmap.Decode(desc, canvas, regions.Description.Origin)
				bitmap.Decode(price, canvas, regions.Price.Origin)
				if err := writePNG(deviceOut, canvas.Image()); err != nil {
					return err
				}
				logger.Info("preview:wrote-device-view", slog.String("path", deviceOut))
			}
			if binDir != "" {
				if err := os.MkdirAll(binDir, 0o755); err != nil {
					return err
				}
				for name, bm := range map[string]bitmap.Bitmap{"description.bin": desc, "price.bin": price} {
					path := filepath.Join(binDir, name)
					if err := os.WriteFile(path, bm.Data, 0o644); err != nil {
						return err
					}
					logger.Info("preview:wrote-bitmap", slog.String("path", path), slog.Int("bytes", len(bm.Data)))
				}
			}
			if asHTML {
				printLinesHTML(cmd.OutOrStdout(), cfg.Label)
			}
			descTopic, priceTopic := update.Topics(cfg.Label.TagID)
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d bytes (%dx%d)\n", descTopic, len(desc.Data), desc.Width, desc.Height)
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d bytes (%dx%d)\n", priceTopic, len(price.Data), price.Width, price.Height)
			return nil
		},
	}
	label.register(c)
	c.Flags().StringVarP(&out, "out", "o", "", "write the full composition as PNG")
	c.Flags().StringVar(&deviceOut, "device-out", "", "write the label as decoded from the device bitmaps as PNG")
	c.Flags().StringVar(&binDir, "bin-dir", "", "write description.bin and price.bin to this directory")
	c.Flags().BoolVar(&asHTML, "html", false, "print the description lines as they appear in the editor preview")
	return c
}

// printLinesHTML writes each description line, cut to its budget, as the
// editor's rich-text preview markup.
func printLinesHTML(w io.Writer, fs markup.Fields) {
	fs = fs.Limited()
	for _, f := range []markup.Field{markup.Line1, markup.Line2, markup.Line3} {
		fmt.Fprintf(w, "%s: %s\n", f, markup.HTML(fs.Get(f)))
	}
}

func inspectCmd(opts *rootOptions) *cobra.Command {
	var out string
	c := &cobra.Command{
		Use:   "inspect <description.bin> <price.bin>",
		Short: "Decode device bitmaps back into a label image",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger, err := newLogger(cmd.ErrOrStderr(), cfg.LogLevel, opts.logFormat)
			if err != nil {
				return err
			}

			canvas := compose.NewLabelCanvas()
			regions := []struct {
				path string
				rect image.Rectangle
			}{
				{args[0], compose.DescriptionRect},
				{args[1], compose.PriceRect},
			}
			for _, r := range regions {
				data, err := os.ReadFile(r.path)
				if err != nil {
					return err
				}
				bm, err := bitmap.FromBytes(r.rect.Dx(), r.rect.Dy(), data)
				if err != nil {
					return fmt.Errorf("%s: %w", r.path, err)
				}
				bitmap.Decode(bm, canvas, r.rect.Min)
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d bytes (%dx%d) at %d,%d\n",
					r.path, len(bm.Data), bm.Width, bm.Height, r.rect.Min.X, r.rect.Min.Y)
			}
			if out == "" {
				return nil
			}
			if err := writePNG(out, canvas.Image()); err != nil {
				return err
			}
			logger.Info("inspect:wrote-device-view", slog.String("path", out))
			return nil
		},
	}
	c.Flags().StringVarP(&out, "out", "o", "", "write the decoded label as PNG")
	return c
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}

func historyCmd(opts *rootOptions) *cobra.Command {
	var (
		jpath string
		limit int
	)
	c := &cobra.Command{
		Use:   "history",
		Short: "List recorded update jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("journal") {
				cfg, err := opts.load()
				if err != nil {
					return err
				}
				jpath = cfg.Journal
			}
			if jpath == "" {
				return errors.New("no journal configured: pass --journal or set journal in the config file")
			}
			entries, err := journal.ReadFile(jpath)
			if err != nil && len(entries) == 0 {
				return err
			}
			if limit > 0 && len(entries) > limit {
				entries = entries[len(entries)-limit:]
			}
			if werr := printHistory(cmd.OutOrStdout(), entries); werr != nil {
				return werr
			}
			// A torn trailing record still lets the earlier ones print.
			return err
		},
	}
	c.Flags().StringVar(&jpath, "journal", "", "journal file (defaults to the configured one)")
	c.Flags().IntVarP(&limit, "limit", "n", 0, "show only the last n jobs")
	return c
}

func printHistory(w io.Writer, entries []journal.Entry) error {
	const row = "%-19s %-36s %-14s %-10s %-9s %s\n"
	if _, err := fmt.Fprintf(w, row, "STARTED", "JOB", "TAG", "STATE", "DURATION", "ERROR"); err != nil {
		return err
	}
	for _, e := range entries {
		_, err := fmt.Fprintf(w, row,
			e.StartedAt.Local().Format(time.DateTime),
			e.JobID,
			e.TagID,
			e.State,
			e.Duration().Round(time.Millisecond),
			e.Error,
		)
		if err != nil {
			return err
		}
	}
	return nil
}
