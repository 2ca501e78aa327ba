package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	aliasYear int
	aliasNote string
)

func init() {
	aliasAddCmd.Flags().IntVar(&aliasYear, "year", 0, "Publication year of the aliased work")
	aliasAddCmd.Flags().StringVar(&aliasNote, "note", "", "Why the titles refer to the same work")
	aliasCmd.AddCommand(aliasAddCmd)
	aliasCmd.AddCommand(aliasListCmd)
	rootCmd.AddCommand(aliasCmd)
}

var aliasCmd = &cobra.Command{
	Use:   "alias",
	Short: "Manage title aliases",
	Long: `Manage alternate title surface forms (translated titles, retitled
reprints). Aliases widen the title+year matching rule's tolerance; a
candidate still has to pass that rule, an alias alone never merges
anything.`,
}

var aliasAddCmd = &cobra.Command{
	Use:   "add <alternate-title> <canonical-title>",
	Short: "Record an alternate title for a work",
	Args:  cobra.ExactArgs(2),
	RunE:  runAliasAdd,
}

func runAliasAdd(cmd *cobra.Command, args []string) error {
	a := requireRepo()
	defer a.store.Close()

	alias, err := a.store.AddAlias(cmd.Context(), args[0], args[1], nil, aliasYear, aliasNote)
	if err != nil {
		exitWithError(ExitDataError, "adding alias: %v", err)
	}

	if humanOutput {
		fmt.Printf("aliased %q -> %q\n", args[0], args[1])
	} else {
		outputJSON(alias)
	}
	return nil
}

var aliasListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded aliases",
	RunE:  runAliasList,
}

func runAliasList(cmd *cobra.Command, args []string) error {
	a := requireRepo()
	defer a.store.Close()

	aliases, err := a.store.Aliases(cmd.Context())
	if err != nil {
		exitWithError(ExitError, "listing aliases: %v", err)
	}

	if humanOutput {
		for _, al := range aliases {
			fmt.Printf("%s -> %s", al.TitleNorm, al.CanonicalNorm)
			if al.Year != 0 {
				fmt.Printf(" (%d)", al.Year)
			}
			if al.Note != "" {
				fmt.Printf("  # %s", al.Note)
			}
			fmt.Println()
		}
		return nil
	}
	return outputJSON(aliases)
}
