package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/kozaktomas/facegate/internal/recognition"
	"github.com/spf13/cobra"
)

var recognizeCmd = &cobra.Command{
	Use:   "recognize <image...>",
	Short: "Recognize the faces in images",
	Long: `Identify the face in each image with the current recognition model.

Examples:
  facegate recognize visitor.jpg
  facegate recognize --json door-cam/*.jpg`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRecognize,
}

func init() {
	rootCmd.AddCommand(recognizeCmd)

	recognizeCmd.Flags().Bool("json", false, "Output as JSON")
}

// recognizeOutput is one line of recognize output.
type recognizeOutput struct {
	File       string  `json:"file"`
	Outcome    string  `json:"outcome"`
	PersonID   int     `json:"person_id,omitempty"`
	Name       string  `json:"name,omitempty"`
	Surname    string  `json:"surname,omitempty"`
	Confidence float64 `json:"confidence"`
	Distance   float64 `json:"distance,omitempty"`
	Error      string  `json:"error,omitempty"`
}

func runRecognize(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")
	ctx := context.Background()

	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	if !a.coordinator.ModelIsReady() {
		return recognition.ErrModelNotReady
	}

	results := make([]recognizeOutput, 0, len(args))
	for _, path := range args {
		out := recognizeOutput{File: path}
		data, err := os.ReadFile(path)
		if err != nil {
			out.Error = err.Error()
			results = append(results, out)
			continue
		}

		res, err := a.coordinator.Recognize(ctx, data)
		if err != nil {
			if errors.Is(err, recognition.ErrModelNotReady) {
				return err
			}
			out.Error = err.Error()
			results = append(results, out)
			continue
		}

		out.Outcome = string(res.Outcome)
		out.Confidence = res.Confidence
		out.Distance = res.Distance
		if res.Outcome == recognition.OutcomeMatch {
			out.PersonID = res.Label
			p, err := a.persons.Get(ctx, res.Label)
			if err != nil {
				return err
			}
			if p != nil {
				out.Name, out.Surname = p.Name, p.Surname
			}
		}
		results = append(results, out)
	}

	if jsonOutput {
		return printJSON(results)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FILE\tOUTCOME\tPERSON\tCONFIDENCE\tDISTANCE")
	for _, r := range results {
		if r.Error != "" {
			fmt.Fprintf(w, "%s\terror\t%s\t\t\n", r.File, r.Error)
			continue
		}
		person := "-"
		if r.PersonID > 0 {
			person = fmt.Sprintf("%d %s %s", r.PersonID, r.Name, r.Surname)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%.3f\t%.3f\n", r.File, r.Outcome, person, r.Confidence, r.Distance)
	}
	return w.Flush()
}
