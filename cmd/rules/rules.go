package rules

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/complyio/complyio/internal/config"
	"github.com/complyio/complyio/internal/rules"
)

var (
	AppConfig   *config.Config
	profileName string
)

// RulesCmd represents the rules command.
var RulesCmd = &cobra.Command{
	Use:                   "rules [--profile NAME]",
	SilenceUsage:          true,
	DisableFlagsInUseLine: true,
	Short:                 "Lists the compliance rules, optionally of one rule profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		var cfgProfiles []config.RuleProfile
		if AppConfig != nil {
			cfgProfiles = AppConfig.RuleProfiles
		}
		return listRules(cmd.OutOrStdout(), cfgProfiles, profileName)
	},
}

// Init initializes the global configuration variable.
func Init(cfg *config.Config) {
	AppConfig = cfg
}

func listRules(w io.Writer, cfgProfiles []config.RuleProfile, name string) error {
	profiles, err := rules.ProfilesFromConfig(cfgProfiles)
	if err != nil {
		return err
	}
	processor, _ := rules.Catalog(nil, nil)
	all := processor.GetAllRules()

	if name != "" {
		profile, ok := profiles.Lookup(name)
		if !ok {
			names := profiles.Names()
			sort.Strings(names)
			return fmt.Errorf("unknown rule profile %q, available: %s", name, strings.Join(names, ", "))
		}
		all = rules.GetAllByRuleProfile(all, profile)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RULE\tKIND\tDESCRIPTION")
	for _, rule := range all {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", rule.Name(), rule.Kind(), rule.Description())
	}
	return tw.Flush()
}

func init() {
	RulesCmd.Flags().StringVar(&profileName, "profile", "", "Only list the rules of this rule profile.")
}
