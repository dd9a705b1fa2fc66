package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
)

var retrainCmd = &cobra.Command{
	Use:   "retrain",
	Short: "Retrain the recognition model from all stored embeddings",
	Long: `Refit the classifier over every stored embedding and publish it as a new
model version. Useful after changing training parameters or the recognition
threshold settings.`,
	Args: cobra.NoArgs,
	RunE: runRetrain,
}

func init() {
	rootCmd.AddCommand(retrainCmd)
}

func runRetrain(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	start := time.Now()
	snap, err := a.coordinator.Retrain(ctx)
	if err != nil {
		return fmt.Errorf("retraining failed: %w", err)
	}

	fmt.Printf("Trained model v%d (%s) on %d embeddings of %d identities in %s\n",
		snap.Version, snap.ID, snap.Samples, snap.NumClasses(), time.Since(start).Round(time.Millisecond))
	return nil
}
