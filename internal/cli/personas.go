package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var personasVariant string

func init() {
	personasCmd := &cobra.Command{
		Use:   "personas",
		Short: "Browse persona rosters",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List personas in a roster variant",
		Run:   runPersonasList,
	}
	listCmd.Flags().StringVar(&personasVariant, "variant", "", "Roster variant (default: the active one)")

	personasCmd.AddCommand(listCmd)
	personasCmd.AddCommand(&cobra.Command{
		Use:   "variants",
		Short: "List known roster variants",
		Run:   runPersonasVariants,
	})

	RootCmd.AddCommand(personasCmd)
}

func runPersonasList(cmd *cobra.Command, args []string) {
	registry, err := loadRegistry()
	if err != nil {
		exitErr("load rosters", err)
	}
	if personasVariant != "" {
		if err := registry.SetVariant(personasVariant); err != nil {
			exitErr("select variant", err)
		}
	}

	fmt.Printf("variant: %s\n\n", registry.ActiveVariant())
	for _, p := range registry.ActivePersonas() {
		fmt.Printf("%-14s %s\n", p.ID, p.Label)
		fmt.Printf("               base=%s cadence=%ds words=%d-%d traits=%s\n",
			p.BasePersonaID, p.CadenceSeconds, p.MinWords, p.MaxWords,
			strings.Join(p.Traits, ","))
	}
}

func runPersonasVariants(cmd *cobra.Command, args []string) {
	registry, err := loadRegistry()
	if err != nil {
		exitErr("load rosters", err)
	}
	for _, v := range registry.Variants() {
		marker := " "
		if v == registry.ActiveVariant() {
			marker = "*"
		}
		fmt.Printf("%s %s\n", marker, v)
	}
}
