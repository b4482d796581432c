package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/blockyard/internal/unit"
)

const timeLayout = "2006-01-02 15:04"

func newUnitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unit",
		Short: "Inspect units",
	}

	cmd.AddCommand(newUnitListCmd())
	cmd.AddCommand(newUnitShowCmd())
	cmd.AddCommand(newUnitHistoryCmd())
	return cmd
}

func newUnitListCmd() *cobra.Command {
	var (
		configPath string
		filters    unit.ListFilters
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List units",
		RunE: func(cmd *cobra.Command, args []string) error {
			if filters.Status != "" && !unit.IsStatus(filters.Status) {
				return fmt.Errorf("unknown status %q", filters.Status)
			}
			return runUnitList(cmd, configPath, filters)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&filters.Status, "status", "", "filter by status (received, in_repair, done, issued)")
	cmd.Flags().StringVar(&filters.Number, "number", "", "filter by unit number")
	cmd.Flags().BoolVar(&filters.ExcludeIssued, "in-stock", false, "leave out issued units")
	return cmd
}

func runUnitList(cmd *cobra.Command, configPath string, filters unit.ListFilters) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	units, err := unit.List(gormDB, filters)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(units) == 0 {
		fmt.Fprintln(out, "No units found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNUMBER\tNAME\tTYPE\tSTATUS\tMACHINE")
	for _, u := range units {
		machine := orDash(u.Machine)
		if u.MachineNumber != nil && *u.MachineNumber != "" {
			machine += " " + *u.MachineNumber
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			u.ID, u.Number, orDash(&u.Name), orDash(&u.Type), u.Status, machine)
	}
	w.Flush()
	fmt.Fprintf(out, "\n%d unit(s)\n", len(units))
	return nil
}

func newUnitShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a unit and its latest repair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return runUnitShow(cmd, configPath, id)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runUnitShow(cmd *cobra.Command, configPath string, id uint) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	u, err := unit.Get(gormDB, id)
	if err != nil {
		return err
	}
	rep, err := unit.LatestRepair(gormDB, id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Unit:       %d\n", u.ID)
	fmt.Fprintf(out, "Number:     %s\n", u.Number)
	fmt.Fprintf(out, "Name:       %s\n", orDash(&u.Name))
	fmt.Fprintf(out, "Type:       %s\n", orDash(&u.Type))
	fmt.Fprintf(out, "Status:     %s (%s)\n", u.Status, unit.StatusLabel(u.Status))
	if u.Condition != nil {
		fmt.Fprintf(out, "Condition:  %s\n", unit.ConditionLabel(*u.Condition))
	} else {
		fmt.Fprintln(out, "Condition:  -")
	}
	fmt.Fprintf(out, "Machine:    %s %s\n", orDash(u.Machine), orDash(u.MachineNumber))
	fmt.Fprintf(out, "Master:     %s\n", orDash(u.MasterSurname))
	if u.AcceptedAt != nil {
		fmt.Fprintf(out, "Accepted:   %s\n", u.AcceptedAt.Format(timeLayout))
	}
	if rep != nil {
		closed := "-"
		if rep.ClosedAt != nil {
			closed = rep.ClosedAt.Format(timeLayout)
		}
		fmt.Fprintf(out, "\nLatest repair (%d), closed %s:\n  %s\n", rep.ID, closed, orDash(rep.Summary))
	}
	return nil
}

func newUnitHistoryCmd() *cobra.Command {
	var (
		configPath string
		page       int
	)

	cmd := &cobra.Command{
		Use:   "history <id>",
		Short: "Show a unit's history, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if page < 1 {
				return fmt.Errorf("--page must be at least 1")
			}
			return runUnitHistory(cmd, configPath, id, page)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().IntVarP(&page, "page", "p", 1, "page number")
	return cmd
}

func runUnitHistory(cmd *cobra.Command, configPath string, id uint, page int) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	if _, err := unit.Get(gormDB, id); err != nil {
		return err
	}
	hist, err := unit.History(gormDB, id, page-1)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if hist.Total == 0 {
		fmt.Fprintln(out, "No events.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tEVENT\tBY\tDESTINATION\tCOMMENT")
	for _, e := range hist.Events {
		dest := orDash(e.DestinationMachine)
		if e.DestinationMachineNumber != nil && *e.DestinationMachineNumber != "" {
			dest += " " + *e.DestinationMachineNumber
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Format(timeLayout), e.EventType, orDash(e.ByUserName), dest, orDash(e.Comment))
	}
	w.Flush()
	fmt.Fprintf(out, "\nPage %d/%d (%d events)\n", hist.Page+1, hist.Pages, hist.Total)
	return nil
}

func parseID(s string) (uint, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid unit id %q", s)
	}
	return uint(id), nil
}
