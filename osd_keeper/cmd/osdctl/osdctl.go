package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kuaishou/open_osd_keeper/osd_keeper/osd"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/server"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/utils"

	"github.com/spf13/cobra"
)

var (
	keeperAddr string
	timeout    time.Duration
	jsonOutput bool

	client = &keeperClient{}
)

func printOutput(body interface{}, rendered func() string) {
	if jsonOutput {
		data, _ := json.MarshalIndent(body, "", "  ")
		fmt.Println(string(data))
		return
	}
	fmt.Println(rendered())
}

func parseIds(arg string) ([]int64, error) {
	ids, err := utils.ParseIdList(arg)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no osd ids in %q", arg)
	}
	return ids, nil
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "osdctl",
		Short: "Operate osds through osd_keeper",
		Long: `osdctl talks to an osd_keeper server, which checks safety and applies
administrative state changes to batches of osds.

Examples:
  osdctl list --refresh
  osdctl safe-to-destroy 3,4
  osdctl mark out 3,4,5
  osdctl destroy 3 --yes`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			client.baseUrl = keeperAddr
			client.timeout = timeout
		},
	}
	root.PersistentFlags().StringVarP(&keeperAddr, "keeper", "k", "http://127.0.0.1:30200", "osd_keeper address")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "timeout of a request to osd_keeper")
	root.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print raw json instead of tables")

	root.AddCommand(
		newListCmd(),
		newSafeToDestroyCmd(),
		newMarkCmd(),
		newReweightCmd(),
		newScrubCmd(),
		newRemovalCmd(osd.Destroy, "destroy", "Destroy osds, keeping their ids"),
		newRemovalCmd(osd.Purge, "purge", "Purge osds from the cluster map"),
		newFlagsCmd(),
		newRecoveryPriorityCmd(),
		newPgScrubCmd(),
		newSafeModeCmd(),
		newRunsCmd(),
	)
	return root
}

func newListCmd() *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List osds with their status tags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.ListOsds(refresh)
			if resp != nil && resp.Nodes != nil {
				printOutput(resp, func() string {
					return renderOsds(resp.Nodes, resp.Summary, resp.Inflight)
				})
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "read a new snapshot before listing")
	return cmd
}

func newSafeToDestroyCmd() *cobra.Command {
	var kindName string
	cmd := &cobra.Command{
		Use:   "safe-to-destroy IDS",
		Short: "Check whether osds can be removed without losing data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIds(args[0])
			if err != nil {
				return err
			}
			kind, err := osd.ParseKind(kindName)
			if err != nil {
				return err
			}
			resp, err := client.SafeToDestroy(ids, kind)
			if err != nil {
				return err
			}
			printOutput(resp, func() string { return renderVerdicts(resp.Verdicts) })
			return nil
		},
	}
	cmd.Flags().StringVar(&kindName, "kind", osd.Destroy.String(), "destructive action to check: markLost, destroy or purge")
	return cmd
}

func runBulk(ids []int64, kind osd.Kind, weight float64) error {
	resp, err := client.RunBulk(ids, kind, weight)
	if resp != nil && resp.Result != nil {
		printOutput(resp, func() string { return renderResult(resp.Result) })
	}
	return err
}

func requireConfirm(kind osd.Kind, yes bool) error {
	if !yes {
		return fmt.Errorf("%s can't be undone, pass --yes to go on", kind.String())
	}
	return nil
}

func newMarkCmd() *cobra.Command {
	var yes bool
	actions := map[string]osd.Kind{
		"in":   osd.MarkIn,
		"out":  osd.MarkOut,
		"down": osd.MarkDown,
		"lost": osd.MarkLost,
	}
	cmd := &cobra.Command{
		Use:       "mark in|out|down|lost IDS",
		Short:     "Mark osds in, out, down or lost",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"in", "out", "down", "lost"},
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, ok := actions[args[0]]
			if !ok {
				return fmt.Errorf("unknown mark action %q", args[0])
			}
			ids, err := parseIds(args[1])
			if err != nil {
				return err
			}
			if kind.Destructive() {
				if err := requireConfirm(kind, yes); err != nil {
					return err
				}
			}
			return runBulk(ids, kind, 0)
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm marking osds lost")
	return cmd
}

func newReweightCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reweight ID WEIGHT",
		Short: "Set the reweight of a single osd, WEIGHT in [0, 1]",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return err
			}
			weight, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return err
			}
			return runBulk([]int64{id}, osd.Reweight, weight)
		},
	}
}

func newScrubCmd() *cobra.Command {
	var deep bool
	cmd := &cobra.Command{
		Use:   "scrub IDS",
		Short: "Start a scrub on osds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIds(args[0])
			if err != nil {
				return err
			}
			kind := osd.Scrub
			if deep {
				kind = osd.DeepScrub
			}
			return runBulk(ids, kind, 0)
		},
	}
	cmd.Flags().BoolVar(&deep, "deep", false, "run a deep scrub")
	return cmd
}

func newRemovalCmd(kind osd.Kind, use, short string) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   use + " IDS",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIds(args[0])
			if err != nil {
				return err
			}
			if err := requireConfirm(kind, yes); err != nil {
				return err
			}
			return runBulk(ids, kind, 0)
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the irreversible action")
	return cmd
}

func newFlagsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flags",
		Short: "Show or replace cluster-wide osd flags",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Show cluster flags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags, err := client.GetFlags()
			if err != nil {
				return err
			}
			printOutput(flags, func() string { return renderFlags(flags) })
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set [FLAG...]",
		Short: "Replace cluster flags, no argument clears them all",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags, err := client.SetFlags(args)
			if err != nil {
				return err
			}
			printOutput(flags, func() string { return renderFlags(flags) })
			return nil
		},
	})
	return cmd
}

func renderFlags(flags []string) string {
	if len(flags) == 0 {
		return mutedStyle.Render("no flags set")
	}
	t := newTable("FLAG")
	for _, f := range flags {
		t.Row(f)
	}
	return t.Render()
}

// parseOptions turns name=value arguments into a map.
func parseOptions(args []string) (map[string]string, error) {
	output := map[string]string{}
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("option %q should be name=value", arg)
		}
		output[name] = value
	}
	return output, nil
}

func renderConfig(title string, values map[string]string) string {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	t := newTable("OPTION", "VALUE")
	for _, name := range names {
		t.Row(name, values[name])
	}
	return titleStyle.Render(title) + "\n" + t.Render()
}

func newRecoveryPriorityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recovery-priority",
		Short: "Show or change how fast osds recover and backfill",
	}
	printPriority := func(resp *server.RecoveryPriorityResponse) {
		printOutput(resp, func() string {
			return renderConfig("recovery priority: "+resp.Priority, resp.Values)
		})
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Show the recovery priority and its option values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.GetRecoveryPriority()
			if err != nil {
				return err
			}
			printPriority(resp)
			return nil
		},
	})
	var values []string
	set := &cobra.Command{
		Use:       "set [low|default|high]",
		Short:     "Apply a recovery priority preset, optionally overriding some values",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"low", "default", "high"},
		RunE: func(cmd *cobra.Command, args []string) error {
			priority := ""
			if len(args) == 1 {
				if _, err := osd.ParseRecoveryPriority(args[0]); err != nil {
					return err
				}
				priority = args[0]
			}
			custom, err := parseOptions(values)
			if err != nil {
				return err
			}
			if priority == "" && len(custom) == 0 {
				return fmt.Errorf("give a priority or at least one --value")
			}
			resp, err := client.SetRecoveryPriority(priority, custom)
			if err != nil {
				return err
			}
			printPriority(resp)
			return nil
		},
	}
	set.Flags().StringArrayVar(&values, "value", nil, "override an option, as name=value")
	cmd.AddCommand(set)
	return cmd
}

func newPgScrubCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pg-scrub",
		Short: "Show or change when and how often placement groups are scrubbed",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Show pg scrub options",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := client.GetPgScrubConfig()
			if err != nil {
				return err
			}
			printOutput(values, func() string { return renderConfig("pg scrub", values) })
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set NAME=VALUE...",
		Short: "Change pg scrub options, e.g. osd_scrub_begin_hour=22",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseOptions(args)
			if err != nil {
				return err
			}
			values, err = client.SetPgScrubConfig(values)
			if err != nil {
				return err
			}
			printOutput(values, func() string { return renderConfig("pg scrub", values) })
			return nil
		},
	})
	return cmd
}

func newSafeModeCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "safe-mode on|off",
		Short:     "Refuse or allow irreversible actions on the keeper",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var enable bool
			switch args[0] {
			case "on":
				enable = true
			case "off":
				enable = false
			default:
				return fmt.Errorf("safe-mode takes on or off, got %q", args[0])
			}
			if err := client.SwitchSafeMode(enable); err != nil {
				return err
			}
			fmt.Println(titleStyle.Render("safe mode " + args[0]))
			return nil
		},
	}
}

func newRunsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent bulk runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.ListBulkRuns(limit)
			if err != nil {
				return err
			}
			printOutput(resp.Runs, func() string { return renderRuns(resp.Runs) })
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max runs to show")
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, dangerStyle.Render(err.Error()))
		os.Exit(1)
	}
}
