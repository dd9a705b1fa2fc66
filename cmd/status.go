package cmd

import (
	"context"
	"fmt"
	"maps"
	"os"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the recognition model and enrollment state",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().Bool("json", false, "Output as JSON")
	statusCmd.Flags().Bool("identities", false, "List embeddings per identity")
}

func runStatus(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")
	showIdentities := mustGetBool(cmd, "identities")
	ctx := context.Background()

	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	stats := a.coordinator.Stats()
	persons, err := a.persons.Count(ctx)
	if err != nil {
		return fmt.Errorf("counting persons: %w", err)
	}

	if jsonOutput {
		return printJSON(map[string]any{
			"model":   stats,
			"persons": persons,
		})
	}

	if stats.Ready {
		fmt.Printf("Model:       v%d (%s), trained %s\n", stats.ModelVersion, stats.ModelID, stats.TrainedAt.Format("2006-01-02 15:04:05"))
		fmt.Printf("Classes:     %d\n", stats.Classes)
	} else {
		fmt.Println("Model:       not trained")
	}
	fmt.Printf("Identities:  %d\n", stats.Identities)
	fmt.Printf("Embeddings:  %d\n", stats.Embeddings)
	fmt.Printf("Persons:     %d\n", persons)
	fmt.Printf("Threshold:   %.2f (max distance %.2f)\n", a.cfg.Recognition.Threshold, a.cfg.Recognition.MaxDistance)

	if !showIdentities || len(stats.PerIdentity) == 0 {
		return nil
	}

	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tEMBEDDINGS")
	for _, label := range slices.Sorted(maps.Keys(stats.PerIdentity)) {
		name := "-"
		p, err := a.persons.Get(ctx, label)
		if err != nil {
			return err
		}
		if p != nil {
			name = p.Name + " " + p.Surname
		}
		fmt.Fprintf(w, "%d\t%s\t%d\n", label, name, stats.PerIdentity[label])
	}
	return w.Flush()
}
