package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"evsched/internal/domain"
	"evsched/internal/services/scheduler"
	"evsched/internal/task/recurrence"
	logx "evsched/pkg/logx"
)

type translateResult struct {
	Spec     string      `json:"spec"`
	Timezone string      `json:"timezone"`
	Next     []time.Time `json:"next"`
}

func newTranslateCmd(g *Globals) *cobra.Command {
	var (
		start    string
		interval int
		unit     string
		tz       string
		cronExpr string
		file     string
		next     int
	)
	cmd := &cobra.Command{
		Use:   "translate",
		Short: "Show the cron spec and next fire times of a recurrence",
		Example: `  evsched translate --start 2024-03-01T09:30:00Z --interval 15 --unit minutes
  evsched translate --cron "0 0 12 * * ?" --tz Europe/Kyiv --next 3
  evsched translate -f event.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if file != "" {
				return translateDefinition(cmd, g, file, next)
			}
			loc, err := time.LoadLocation(tz)
			if err != nil {
				return fmt.Errorf("timezone %q: %w", tz, err)
			}
			spec := strings.TrimSpace(cronExpr)
			from := time.Now()
			if spec == "" {
				if unit == "" {
					return fmt.Errorf("either --cron, --unit or --file is required")
				}
				at, err := parseStart(start)
				if err != nil {
					return err
				}
				if !at.IsZero() {
					from = at.Add(-time.Second)
				}
				spec, err = recurrence.Translate(at.In(loc), interval, domain.Unit(unit))
				if err != nil {
					return err
				}
			}
			return printTranslation(g, spec, loc, from, next)
		},
	}
	f := cmd.Flags()
	f.StringVar(&start, "start", "", "start time, RFC3339 or epoch millis (default now)")
	f.IntVar(&interval, "interval", 1, "repeat interval")
	f.StringVar(&unit, "unit", "", "seconds, minutes, hours, days, weeks or ans")
	f.StringVar(&tz, "tz", "UTC", "evaluation timezone")
	f.StringVar(&cronExpr, "cron", "", "explicit cron expression, six fields seconds first")
	f.StringVarP(&file, "file", "f", "", "definition JSON file, - for stdin")
	f.IntVarP(&next, "next", "n", 5, "number of upcoming fire times to show")
	return cmd
}

func translateDefinition(cmd *cobra.Command, g *Globals, file string, n int) error {
	def, err := readDefinition(cmd.InOrStdin(), file)
	if err != nil {
		return err
	}
	plan, ok, err := scheduler.PlanFor(def, nil, logx.NewConsole("warn"))
	if err != nil {
		return err
	}
	if !ok {
		g.output().Success("Definition has no schedule; it is never armed")
		return nil
	}
	if plan.Kind == "once" {
		g.output().Print([]string{"KIND", "AT"}, [][]string{{plan.Kind, plan.At.Format(time.RFC3339)}}, plan)
		return nil
	}
	return printTranslation(g, plan.Spec, time.Local, time.Now(), n)
}

func printTranslation(g *Globals, spec string, loc *time.Location, from time.Time, n int) error {
	times, err := recurrence.NextN(spec, loc, from, n)
	if err != nil {
		return fmt.Errorf("cron %q: %w", spec, err)
	}
	res := translateResult{Spec: recurrence.WithZone(spec, loc), Timezone: loc.String(), Next: times}
	rows := make([][]string, 0, len(times)+1)
	rows = append(rows, []string{"spec", res.Spec})
	for i, t := range times {
		rows = append(rows, []string{"#" + strconv.Itoa(i+1), t.Format(time.RFC3339)})
	}
	g.output().Print([]string{"FIELD", "VALUE"}, rows, res)
	return nil
}

// parseStart accepts RFC3339 or epoch millis. Empty means now.
func parseStart(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Now(), nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("start %q: want RFC3339 or epoch millis", s)
	}
	return t, nil
}
