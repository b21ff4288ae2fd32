package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"calsched/internal/model"
	"calsched/internal/store"
)

func eventFlags(required bool) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "title", Aliases: []string{"t"}, Usage: "Event title", Required: required},
		&cli.StringFlag{Name: "description", Aliases: []string{"d"}, Usage: "Free text"},
		&cli.StringFlag{Name: "start", Usage: "Start, YYYY-MM-DDTHH:MM[:SS]", Required: required},
		&cli.StringFlag{Name: "end", Usage: "End, YYYY-MM-DDTHH:MM[:SS]", Required: required},
		&cli.IntFlag{Name: "reminder", Usage: "Reminder minutes before start (0 = none)"},
		&cli.StringFlag{Name: "location"},
		&cli.StringFlag{Name: "category"},
		&cli.StringFlag{Name: "attendees", Usage: "Comma separated"},
	}
}

func inputFromFlags(c *cli.Context) (model.NewEventInput, error) {
	start, err := model.ParseDateTime(c.String("start"))
	if err != nil {
		return model.NewEventInput{}, err
	}
	end, err := model.ParseDateTime(c.String("end"))
	if err != nil {
		return model.NewEventInput{}, err
	}
	return model.NewEventInput{
		Title:           c.String("title"),
		Description:     c.String("description"),
		Start:           start,
		End:             end,
		ReminderMinutes: c.Int("reminder"),
		Fields: model.AdditionalFields{
			Location:  c.String("location"),
			Category:  c.String("category"),
			Attendees: c.String("attendees"),
		},
	}, nil
}

func addCommand() *cli.Command {
	flags := append(eventFlags(true),
		&cli.StringFlag{Name: "repeat", Usage: "daily, weekly or monthly"},
		&cli.IntFlag{Name: "count", Value: 1, Usage: "Number of occurrences for --repeat"},
	)
	return &cli.Command{
		Name:  "add",
		Usage: "Add a single event or a recurring series.",
		Flags: flags,
		Action: func(c *cli.Context) error {
			_, st, err := openStore(c)
			if err != nil {
				return err
			}
			in, err := inputFromFlags(c)
			if err != nil {
				return err
			}

			var created []model.Event
			if c.IsSet("repeat") {
				rt, err := model.ParseRecurrenceType(c.String("repeat"))
				if err != nil {
					return err
				}
				if rt == model.RecurrenceNone {
					return errors.New("--repeat must be daily, weekly or monthly")
				}
				created, err = st.AddRecurringEvent(model.SeriesSeed{
					Title:           in.Title,
					Description:     in.Description,
					Start:           in.Start,
					End:             in.End,
					Type:            rt,
					Count:           c.Int("count"),
					ReminderMinutes: in.ReminderMinutes,
					Fields:          in.Fields,
				})
				if err != nil {
					return err
				}
			} else {
				e, err := st.CreateEvent(in)
				if err != nil {
					return err
				}
				created = []model.Event{e}
			}

			printEvents(os.Stdout, st, created)
			warnConflicts(st, created)
			return nil
		},
	}
}

// warnConflicts prints events overlapping any of created, other than
// created's own series.
func warnConflicts(st *store.Store, created []model.Event) {
	seen := make(map[int]bool)
	var conflicts []model.Event
	for _, e := range created {
		for _, other := range st.Conflicts(e.Start, e.End, e.ID) {
			if other.SeriesID == e.SeriesID || seen[other.ID] {
				continue
			}
			seen[other.ID] = true
			conflicts = append(conflicts, other)
		}
	}
	if len(conflicts) == 0 {
		return
	}
	fmt.Fprintf(os.Stderr, "Warning: overlaps %d existing event(s):\n", len(conflicts))
	printEvents(os.Stderr, st, conflicts)
}

func editCommand() *cli.Command {
	flags := append(eventFlags(false),
		&cli.IntFlag{Name: "id", Required: true},
		&cli.BoolFlag{Name: "series", Usage: "Apply title, description and reminder to the whole series"},
	)
	return &cli.Command{
		Name:  "edit",
		Usage: "Edit one event, or title/description/reminder of its series.",
		Flags: flags,
		Action: func(c *cli.Context) error {
			_, st, err := openStore(c)
			if err != nil {
				return err
			}
			id := c.Int("id")
			cur, ok := st.GetEventByID(id)
			if !ok {
				return &model.NotFoundError{Kind: "event", ID: id}
			}

			title, description, reminder := cur.Title, cur.Description, cur.ReminderMinutes
			if c.IsSet("title") {
				title = c.String("title")
			}
			if c.IsSet("description") {
				description = c.String("description")
			}
			if c.IsSet("reminder") {
				reminder = c.Int("reminder")
			}

			if c.Bool("series") {
				n, err := st.UpdateRecurringSeries(cur.SeriesID, title, description, reminder)
				if err != nil {
					return err
				}
				fmt.Printf("Updated %d event(s) of series %d.\n", n, cur.SeriesID)
				return nil
			}

			fields, _ := st.AdditionalFields().GetFields(id)
			in := model.NewEventInput{
				Title:           title,
				Description:     description,
				Start:           cur.Start,
				End:             cur.End,
				ReminderMinutes: reminder,
				Fields:          fields,
			}
			if c.IsSet("start") {
				if in.Start, err = model.ParseDateTime(c.String("start")); err != nil {
					return err
				}
			}
			if c.IsSet("end") {
				if in.End, err = model.ParseDateTime(c.String("end")); err != nil {
					return err
				}
			}
			for _, f := range []struct {
				name string
				dst  *string
			}{
				{"location", &in.Fields.Location},
				{"category", &in.Fields.Category},
				{"attendees", &in.Fields.Attendees},
			} {
				if c.IsSet(f.name) {
					*f.dst = c.String(f.name)
				}
			}

			e, err := st.UpdateEvent(id, in)
			if err != nil {
				return err
			}
			printEvents(os.Stdout, st, []model.Event{e})
			warnConflicts(st, []model.Event{e})
			return nil
		},
	}
}

func deleteCommand() *cli.Command {
	return &cli.Command{
		Name:  "delete",
		Usage: "Delete an event, or its whole series with --series.",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "id", Required: true},
			&cli.BoolFlag{Name: "series", Usage: "Delete every occurrence of the event's series"},
		},
		Action: func(c *cli.Context) error {
			_, st, err := openStore(c)
			if err != nil {
				return err
			}
			id := c.Int("id")
			e, ok := st.GetEventByID(id)
			if !ok {
				return &model.NotFoundError{Kind: "event", ID: id}
			}
			if c.Bool("series") {
				n, err := st.DeleteRecurringEvent(e)
				if err != nil {
					return err
				}
				fmt.Printf("Deleted %d event(s) of series %d.\n", n, e.SeriesID)
				return nil
			}
			if err := st.DeleteSingleOccurrence(e); err != nil {
				return err
			}
			fmt.Printf("Deleted event %d.\n", id)
			return nil
		},
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List all events in stored order.",
		Action: func(c *cli.Context) error {
			_, st, err := openStore(c)
			if err != nil {
				return err
			}
			printEvents(os.Stdout, st, st.Events())
			return nil
		},
	}
}

func dayCommand() *cli.Command {
	return &cli.Command{
		Name:  "day",
		Usage: "Events starting on one day.",
		Flags: []cli.Flag{&cli.StringFlag{Name: "date", Usage: "YYYY-MM-DD (default today)"}},
		Action: func(c *cli.Context) error {
			_, st, err := openStore(c)
			if err != nil {
				return err
			}
			d, err := dateFlag(c, "date")
			if err != nil {
				return err
			}
			printEvents(os.Stdout, st, st.EventsForDate(d))
			return nil
		},
	}
}

func weekCommand() *cli.Command {
	return &cli.Command{
		Name:  "week",
		Usage: "Events of the week containing a day.",
		Flags: []cli.Flag{&cli.StringFlag{Name: "date", Usage: "YYYY-MM-DD (default today)"}},
		Action: func(c *cli.Context) error {
			cfg, st, err := openStore(c)
			if err != nil {
				return err
			}
			d, err := dateFlag(c, "date")
			if err != nil {
				return err
			}
			first := store.WeekStartDate(d, cfg.WeekStartDay())
			fmt.Printf("Week of %s\n", first.Format("Mon 2006-01-02"))
			printEvents(os.Stdout, st, st.EventsForWeek(d, cfg.WeekStartDay()))
			return nil
		},
	}
}

func monthCommand() *cli.Command {
	return &cli.Command{
		Name:  "month",
		Usage: "Events of one calendar month.",
		Flags: []cli.Flag{&cli.StringFlag{Name: "month", Usage: "YYYY-MM (default current month)"}},
		Action: func(c *cli.Context) error {
			_, st, err := openStore(c)
			if err != nil {
				return err
			}
			m := today()
			if c.IsSet("month") {
				if m, err = time.Parse("2006-01", c.String("month")); err != nil {
					return fmt.Errorf("--month must be YYYY-MM: %w", err)
				}
			}
			fmt.Println(m.Format("January 2006"))
			printEvents(os.Stdout, st, st.EventsForMonth(m.Year(), m.Month()))
			return nil
		},
	}
}

func upcomingCommand() *cli.Command {
	return &cli.Command{
		Name:  "upcoming",
		Usage: "Events from today through the next N days.",
		Flags: []cli.Flag{&cli.IntFlag{Name: "days", Value: 7}},
		Action: func(c *cli.Context) error {
			_, st, err := openStore(c)
			if err != nil {
				return err
			}
			printEvents(os.Stdout, st, st.Upcoming(today(), c.Int("days")))
			return nil
		},
	}
}

func searchCommand() *cli.Command {
	return &cli.Command{
		Name:  "search",
		Usage: "Search by keyword (title/description) or by date range.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "keyword", Aliases: []string{"k"}},
			&cli.StringFlag{Name: "from", Usage: "YYYY-MM-DD"},
			&cli.StringFlag{Name: "to", Usage: "YYYY-MM-DD"},
		},
		Action: func(c *cli.Context) error {
			_, st, err := openStore(c)
			if err != nil {
				return err
			}
			if c.IsSet("from") || c.IsSet("to") {
				from, err := model.ParseDate(c.String("from"))
				if err != nil {
					return err
				}
				to, err := model.ParseDate(c.String("to"))
				if err != nil {
					return err
				}
				printEvents(os.Stdout, st, st.SearchByDateRange(from, to))
				return nil
			}
			printEvents(os.Stdout, st, st.SearchByKeyword(c.String("keyword")))
			return nil
		},
	}
}

func conflictsCommand() *cli.Command {
	return &cli.Command{
		Name:  "conflicts",
		Usage: "Show events overlapping a time span.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "start", Required: true},
			&cli.StringFlag{Name: "end", Required: true},
			&cli.IntFlag{Name: "exclude", Usage: "Event id to ignore"},
		},
		Action: func(c *cli.Context) error {
			_, st, err := openStore(c)
			if err != nil {
				return err
			}
			start, err := model.ParseDateTime(c.String("start"))
			if err != nil {
				return err
			}
			end, err := model.ParseDateTime(c.String("end"))
			if err != nil {
				return err
			}
			printEvents(os.Stdout, st, st.Conflicts(start, end, c.Int("exclude")))
			return nil
		},
	}
}

func statsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Totals, busiest weekday and events per category.",
		Action: func(c *cli.Context) error {
			_, st, err := openStore(c)
			if err != nil {
				return err
			}
			s := st.Stats()
			fmt.Printf("Total events:     %d\n", s.Total)
			fmt.Printf("Recurring events: %d\n", s.Recurring)
			fmt.Printf("Single events:    %d\n", s.Single)
			if s.Busiest != "" {
				fmt.Printf("Busiest day:      %s\n", s.Busiest)
			}
			for cat, n := range s.ByCategory {
				fmt.Printf("  %-15s %d\n", cat, n)
			}
			return nil
		},
	}
}

func backupCommand() *cli.Command {
	return &cli.Command{
		Name:      "backup",
		Usage:     "Write all events to a backup file.",
		ArgsUsage: "PATH",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return errors.New("backup needs exactly one PATH")
			}
			_, st, err := openStore(c)
			if err != nil {
				return err
			}
			if err := st.Backup(c.Args().First()); err != nil {
				return err
			}
			fmt.Printf("Backed up %d event(s) to %s.\n", st.TotalEvents(), c.Args().First())
			return nil
		},
	}
}

func restoreCommand() *cli.Command {
	return &cli.Command{
		Name:      "restore",
		Usage:     "Replace all events with the contents of a backup file.",
		ArgsUsage: "PATH",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return errors.New("restore needs exactly one PATH")
			}
			_, st, err := openStore(c)
			if err != nil {
				return err
			}
			n, err := st.Restore(c.Args().First())
			if err != nil {
				return err
			}
			fmt.Printf("Restored %d event(s).\n", n)
			return nil
		},
	}
}
