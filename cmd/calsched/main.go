package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"calsched/internal/config"
	appLog "calsched/internal/log"
	"calsched/internal/model"
	"calsched/internal/store"
)

const version = "0.3.0"

func main() {
	// .env is optional.
	_ = godotenv.Load()

	app := &cli.App{
		Name:    "calsched",
		Usage:   "Personal calendar: events, recurring series, reminders and ICS exchange.",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Value:   "calsched.yaml",
				Usage:   "Path to config file (created with defaults if missing)",
				EnvVars: []string{"CALSCHED_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			addCommand(),
			editCommand(),
			deleteCommand(),
			listCommand(),
			dayCommand(),
			weekCommand(),
			monthCommand(),
			upcomingCommand(),
			searchCommand(),
			conflictsCommand(),
			statsCommand(),
			backupCommand(),
			restoreCommand(),
			exportICSCommand(),
			importICSCommand(),
			snapshotCommand(),
			hashPasswordCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		appLog.Error("calsched failed", err)
		os.Exit(1)
	}
}

// loadConfig reads the config named by --config and applies LOG_LEVEL.
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		cfg.LogLevel = lvl
	}
	appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))
	appLog.Debug("config loaded", "path", path, "data_file", cfg.DataFile, "listen", cfg.Listen)
	return cfg, nil
}

// openStore loads config and the event store it points at.
func openStore(c *cli.Context) (*config.Config, *store.Store, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, err
	}
	st, err := store.Open(cfg.DataFile)
	if err != nil {
		return nil, nil, err
	}
	return cfg, st, nil
}

// printEvents writes events as an aligned table.
func printEvents(w io.Writer, st *store.Store, events []model.Event) {
	if len(events) == 0 {
		fmt.Fprintln(w, "No events.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTART\tEND\tTITLE\tSERIES\tREMINDER\tDETAILS")
	for _, e := range events {
		series := "-"
		if e.Recurring {
			series = fmt.Sprintf("%d (%s x%d)", e.SeriesID, strings.ToLower(string(e.RecurrenceType)), e.RecurrenceCount)
		}
		reminder := "-"
		if e.ReminderMinutes > 0 {
			reminder = fmt.Sprintf("%dm", e.ReminderMinutes)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.ID,
			e.Start.Format("2006-01-02 15:04"),
			e.End.Format("2006-01-02 15:04"),
			e.Title,
			series,
			reminder,
			details(st, e.ID),
		)
	}
	_ = tw.Flush()
}

func details(st *store.Store, id int) string {
	f, ok := st.AdditionalFields().GetFields(id)
	if !ok {
		return ""
	}
	parts := make([]string, 0, 3)
	if f.Location != "" {
		parts = append(parts, "@"+f.Location)
	}
	if f.Category != "" {
		parts = append(parts, "#"+f.Category)
	}
	if f.Attendees != "" {
		parts = append(parts, "with "+f.Attendees)
	}
	return strings.Join(parts, " ")
}

// today is the current wall clock as a naive date.
func today() time.Time {
	return model.DateOf(time.Now())
}

// dateFlag parses a YYYY-MM-DD flag, defaulting to today.
func dateFlag(c *cli.Context, name string) (time.Time, error) {
	if !c.IsSet(name) {
		return today(), nil
	}
	return model.ParseDate(c.String(name))
}
