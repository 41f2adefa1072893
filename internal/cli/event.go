package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"evsched/internal/app"
	"evsched/internal/domain"
	"evsched/internal/services/scheduler"
	"evsched/internal/storage"
	logx "evsched/pkg/logx"
)

func newEventCmd(g *Globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "event",
		Short: "Manage scheduler event definitions",
	}
	cmd.AddCommand(
		newEventListCmd(g),
		newEventGetCmd(g),
		newEventSaveCmd(g),
		newEventDeleteCmd(g),
		newEventDeleteTenantCmd(g),
	)
	return cmd
}

// withService opens the store and runs fn against a persist-only service.
func withService(ctx context.Context, g *Globals, fn func(s *scheduler.Service) error) error {
	log := logx.NewConsole("warn")
	cfgm, err := g.manager(log)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	store, err := app.OpenStore(ctx, cfgm.Get(), log)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	return fn(scheduler.New(scheduler.Config{}, store, nil, nil, nil, log, nil))
}

func parseUUID(name, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	return id, nil
}

func eventRows(defs []domain.Definition) [][]string {
	rows := make([][]string, len(defs))
	for i, d := range defs {
		plan := "-"
		if p, ok, err := scheduler.PlanFor(d, nil, logx.Nop()); err != nil {
			plan = "invalid: " + err.Error()
		} else if ok {
			plan = p.String()
		}
		rows[i] = []string{d.ID.String(), d.Name, d.Type, strconv.FormatBool(d.Enabled), plan}
	}
	return rows
}

var eventHeaders = []string{"ID", "NAME", "TYPE", "ENABLED", "TRIGGER"}

func newEventListCmd(g *Globals) *cobra.Command {
	var (
		tenant, user string
		page         storage.PageLink
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List definitions of a tenant or user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tenantID, err := parseUUID("tenant", tenant)
			if err != nil {
				return err
			}
			return withService(cmd.Context(), g, func(s *scheduler.Service) error {
				var pd storage.PageData
				if user != "" {
					userID, err := parseUUID("user", user)
					if err != nil {
						return err
					}
					pd, err = s.ListByUser(cmd.Context(), tenantID, userID, page)
					if err != nil {
						return err
					}
				} else if pd, err = s.ListByTenant(cmd.Context(), tenantID, page); err != nil {
					return err
				}
				g.output().Print(eventHeaders, eventRows(pd.Data), pd)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&tenant, "tenant", "", "tenant id (required)")
	f.StringVar(&user, "user", "", "only definitions owned by this user")
	f.IntVar(&page.Page, "page", 0, "zero-based page")
	f.IntVar(&page.PageSize, "page-size", 20, "page size")
	f.StringVar(&page.TextSearch, "search", "", "case-insensitive name filter")
	f.StringVar(&page.SortProperty, "sort", "createdTime", "createdTime, name or type")
	f.StringVar(&page.SortOrder, "order", storage.SortDesc, "ASC or DESC")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func newEventGetCmd(g *Globals) *cobra.Command {
	var tenant string
	cmd := &cobra.Command{
		Use:   "get ID",
		Short: "Show one definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := parseUUID("tenant", tenant)
			if err != nil {
				return err
			}
			id, err := parseUUID("id", args[0])
			if err != nil {
				return err
			}
			return withService(cmd.Context(), g, func(s *scheduler.Service) error {
				d, err := s.Get(cmd.Context(), tenantID, id)
				if err != nil {
					return err
				}
				g.output().Print(eventHeaders, eventRows([]domain.Definition{d}), d)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant id (required)")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func newEventSaveCmd(g *Globals) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "save",
		Short: "Create or update a definition from a JSON document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			def, err := readDefinition(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}
			if def.TenantID == uuid.Nil {
				return fmt.Errorf("definition: tenantId is required")
			}
			if _, err := domain.ParseAction(def); err != nil {
				return err
			}
			if _, _, err := scheduler.PlanFor(def, nil, logx.Nop()); err != nil {
				return err
			}
			return withService(cmd.Context(), g, func(s *scheduler.Service) error {
				if err := s.Save(cmd.Context(), &def); err != nil {
					return err
				}
				g.output().Success("Definition saved: " + def.ID.String())
				g.output().Print(eventHeaders, eventRows([]domain.Definition{def}), def)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "definition JSON file, - for stdin")
	return cmd
}

func readDefinition(stdin io.Reader, file string) (domain.Definition, error) {
	var (
		b   []byte
		err error
	)
	if file == "-" {
		b, err = io.ReadAll(stdin)
	} else {
		b, err = os.ReadFile(file)
	}
	if err != nil {
		return domain.Definition{}, err
	}
	var def domain.Definition
	if err := json.Unmarshal(b, &def); err != nil {
		return domain.Definition{}, fmt.Errorf("decode definition: %w", err)
	}
	return def, nil
}

func newEventDeleteCmd(g *Globals) *cobra.Command {
	var tenant string
	cmd := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete one definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := parseUUID("tenant", tenant)
			if err != nil {
				return err
			}
			id, err := parseUUID("id", args[0])
			if err != nil {
				return err
			}
			return withService(cmd.Context(), g, func(s *scheduler.Service) error {
				if err := s.Delete(cmd.Context(), tenantID, id); err != nil {
					return err
				}
				g.output().Success("Definition deleted: " + id.String())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant id (required)")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func newEventDeleteTenantCmd(g *Globals) *cobra.Command {
	var tenant string
	cmd := &cobra.Command{
		Use:   "delete-tenant",
		Short: "Delete every definition of a tenant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tenantID, err := parseUUID("tenant", tenant)
			if err != nil {
				return err
			}
			return withService(cmd.Context(), g, func(s *scheduler.Service) error {
				n, err := s.DeleteByTenant(cmd.Context(), tenantID)
				if err != nil {
					return err
				}
				g.output().Success(fmt.Sprintf("Deleted %d definitions", n))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant id (required)")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}
