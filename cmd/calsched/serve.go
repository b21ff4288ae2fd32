package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"calsched/internal/capture"
	"calsched/internal/codec"
	"calsched/internal/config"
	"calsched/internal/ics"
	appLog "calsched/internal/log"
	"calsched/internal/reminder"
	"calsched/internal/web"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the web API and the reminder scheduler.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Usage: "HTTP listen address (overrides config if set)"},
		},
		Action: func(c *cli.Context) error {
			cfg, st, err := openStore(c)
			if err != nil {
				return err
			}
			if c.IsSet("listen") {
				cfg.Listen = c.String("listen")
			}

			appLog.Info("calsched starting",
				"version", version,
				"listen", cfg.Listen,
				"data_file", cfg.DataFile,
				"week_start", cfg.WeekStart,
				"reminder_cron", cfg.ReminderCron,
				"basic_auth", cfg.BasicAuth != nil,
			)

			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			sched := reminder.New(st, nil)
			if err := sched.Start(ctx, cfg.ReminderCron); err != nil {
				return err
			}

			if err := web.NewServer(cfg, st).ListenAndServe(ctx); err != nil {
				return err
			}
			appLog.Info("calsched exiting")
			return nil
		},
	}
}

func exportICSCommand() *cli.Command {
	return &cli.Command{
		Name:  "export-ics",
		Usage: "Export all events as an iCalendar file.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Output file (default stdout)"},
		},
		Action: func(c *cli.Context) error {
			_, st, err := openStore(c)
			if err != nil {
				return err
			}
			if !c.IsSet("out") {
				return ics.Export(os.Stdout, st.Events(), st.AdditionalFields())
			}

			var buf bytes.Buffer
			if err := ics.Export(&buf, st.Events(), st.AdditionalFields()); err != nil {
				return err
			}
			out := c.String("out")
			if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(out, buf.Bytes(), codec.FilePermissions); err != nil {
				return err
			}
			fmt.Printf("Exported %d event(s) to %s.\n", st.TotalEvents(), out)
			return nil
		},
	}
}

func importICSCommand() *cli.Command {
	return &cli.Command{
		Name:      "import-ics",
		Usage:     "Import events from an iCalendar file or URL.",
		ArgsUsage: "[FILE]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Usage: "Download the calendar from this http(s) URL"},
			&cli.StringFlag{Name: "cache-dir", Value: filepath.Join("data", "ics-cache"), Usage: "Download cache (empty disables)"},
		},
		Action: func(c *cli.Context) error {
			_, st, err := openStore(c)
			if err != nil {
				return err
			}

			var (
				body   []byte
				source string
			)
			switch {
			case c.IsSet("url"):
				dl, err := ics.NewDownloader(c.String("cache-dir")).Fetch(c.Context, c.String("url"))
				if err != nil {
					return err
				}
				body, source = dl.Body, "url"
			case c.NArg() == 1:
				source = c.Args().First()
				if body, err = os.ReadFile(source); err != nil {
					return err
				}
			default:
				return errors.New("import-ics needs a FILE or --url")
			}

			res, err := ics.ImportICS(st, source, body)
			if err != nil {
				return err
			}
			fmt.Printf("Imported %d event(s): %d series, %d expanded rule(s), %d skipped.\n",
				res.Events, res.Series, res.Expanded, res.Skipped)
			return nil
		},
	}
}

func snapshotCommand() *cli.Command {
	return &cli.Command{
		Name:  "snapshot",
		Usage: "Render the month view to a PNG with headless Chromium.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "month", Usage: "YYYY-MM (default current month)"},
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "PNG path (default from config)"},
			&cli.DurationFlag{Name: "timeout", Value: capture.DefaultTimeout},
		},
		Action: func(c *cli.Context) error {
			cfg, st, err := openStore(c)
			if err != nil {
				return err
			}
			if c.IsSet("month") {
				if _, err := time.Parse("2006-01", c.String("month")); err != nil {
					return fmt.Errorf("--month must be YYYY-MM: %w", err)
				}
			}

			pageURL := cfg.Capture.URL
			if pageURL == "" {
				// Serve the page ourselves on a loopback port, without auth,
				// for the duration of the capture.
				local := *cfg
				local.BasicAuth = nil
				ln, err := net.Listen("tcp", "127.0.0.1:0")
				if err != nil {
					return err
				}
				srv := &http.Server{Handler: web.NewServer(&local, st).Handler(), ReadHeaderTimeout: 10 * time.Second}
				go func() { _ = srv.Serve(ln) }()
				defer func() {
					ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
					defer cancel()
					_ = srv.Shutdown(ctx)
				}()
				pageURL = "http://" + ln.Addr().String() + "/calendar"
			}
			if c.IsSet("month") {
				pageURL += "?month=" + c.String("month")
			}

			out := cfg.Capture.Output
			if c.IsSet("out") {
				out = c.String("out")
			}
			n, err := capture.SnapshotPNG(c.Context, capture.Options{
				URL:        pageURL,
				OutputPath: out,
				Width:      cfg.Capture.Width,
				Height:     cfg.Capture.Height,
				Timeout:    c.Duration("timeout"),
			})
			if err != nil {
				return err
			}
			fmt.Printf("Wrote %s (%d bytes).\n", out, n)
			return nil
		},
	}
}

func hashPasswordCommand() *cli.Command {
	return &cli.Command{
		Name:  "hash-password",
		Usage: "Read a password and print its bcrypt hash for basic_auth.password_hash.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "username", Aliases: []string{"u"}, Usage: "Also store basic_auth in the config file"},
		},
		Action: func(c *cli.Context) error {
			password, err := readPassword("Enter password:   ")
			if err != nil {
				return err
			}
			confirm, err := readPassword("Confirm password: ")
			if err != nil {
				return err
			}
			if password == "" {
				return errors.New("password cannot be empty")
			}
			if password != confirm {
				return errors.New("passwords do not match")
			}

			hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
			if err != nil {
				return err
			}

			if !c.IsSet("username") {
				fmt.Println(string(hash))
				return nil
			}
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			cfg.BasicAuth = &config.BasicAuthConfig{Username: c.String("username"), PasswordHash: string(hash)}
			if err := config.Save(c.String("config"), cfg); err != nil {
				return err
			}
			fmt.Printf("Basic auth for %q written to %s.\n", c.String("username"), c.String("config"))
			return nil
		},
	}
}

// readPassword reads without echo from a terminal, or one line from a
// pipe.
func readPassword(prompt string) (string, error) {
	fd := int(syscall.Stdin)
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, prompt)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		return string(b), err
	}
	var line []byte
	buf := make([]byte, 1)
	for {
		n, err := os.Stdin.Read(buf)
		if n == 1 {
			if buf[0] == '\n' {
				break
			}
			if buf[0] != '\r' {
				line = append(line, buf[0])
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
	}
	return string(line), nil
}
