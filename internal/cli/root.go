package cli

import (
	"github.com/spf13/cobra"

	"evsched/internal/config"
	logx "evsched/pkg/logx"
)

// Globals are the persistent flags shared by every command.
type Globals struct {
	ConfigPath string
	JSON       bool
}

func (g *Globals) output() *Output { return NewOutput(g.JSON) }

// manager loads the config file.
func (g *Globals) manager(log logx.Logger) (*config.Manager, error) {
	m := config.NewManager(g.ConfigPath, log)
	if _, err := m.Load(); err != nil {
		return nil, err
	}
	return m, nil
}

// NewRootCmd builds the command tree.
func NewRootCmd(version string) *cobra.Command {
	g := &Globals{}
	root := &cobra.Command{
		Use:           "evsched",
		Short:         "Multi-tenant scheduler event engine",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&g.ConfigPath, "config", "c", "./evsched.yaml", "path to config file (json or yaml)")
	root.PersistentFlags().BoolVar(&g.JSON, "json", false, "output in JSON format")

	root.AddCommand(
		newServeCmd(g),
		newEventCmd(g),
		newTranslateCmd(g),
	)
	return root
}
