package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"

	"github.com/kozaktomas/facegate/internal/database"
	"github.com/kozaktomas/facegate/internal/enrollment"
	"github.com/kozaktomas/facegate/internal/imaging"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll [image or directory...]",
	Short: "Enroll a person from photos",
	Long: `Register a person and enroll them from photos, or add photos to an
existing person with --id. Directories are scanned for image files (not
recursively). Photos already enrolled for the person are skipped.

Examples:
  # Register a new person from a folder of photos
  facegate enroll --name Amal --surname Berrada --phone 0611223344 --cin BE778899 ./photos/amal

  # Add more photos to person 7
  facegate enroll --id 7 new1.jpg new2.jpg

  # Output as JSON
  facegate enroll --id 7 --json ./more`,
	Args: cobra.MinimumNArgs(1),
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().Int("id", 0, "Add photos to an existing person")
	enrollCmd.Flags().String("name", "", "First name of a new person")
	enrollCmd.Flags().String("surname", "", "Surname of a new person")
	enrollCmd.Flags().String("phone", "", "Phone number of a new person")
	enrollCmd.Flags().String("cin", "", "Identity card number of a new person")
	enrollCmd.Flags().Bool("json", false, "Output as JSON")
}

// enrollOutput is the JSON output of the enroll command.
type enrollOutput struct {
	PersonID   int                `json:"person_id"`
	Saved      int                `json:"saved"`
	Duplicates int                `json:"duplicates"`
	Rejected   []string           `json:"rejected,omitempty"`
	Result     *enrollment.Result `json:"result,omitempty"`
}

func runEnroll(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")

	files, err := collectImageFiles(args)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return errors.New("no image files found")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	label, err := resolveEnrollPerson(ctx, cmd, a)
	if err != nil {
		return err
	}

	out := enrollOutput{PersonID: label}
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		res, err := a.images.Save(label, data)
		switch {
		case errors.Is(err, imaging.ErrUnsupportedImage):
			out.Rejected = append(out.Rejected, path)
		case err != nil:
			return err
		case res.Duplicate:
			out.Duplicates++
		default:
			out.Saved++
		}
	}

	names, images, err := a.images.Pending(label)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		if !jsonOutput {
			fmt.Printf("No new photos to enroll for person %d\n", label)
			return nil
		}
		return printJSON(out)
	}

	var bar *progressbar.ProgressBar
	if !jsonOutput {
		fmt.Printf("Enrolling %d photos for person %d\n", len(names), label)
		bar = progressbar.NewOptions(len(images),
			progressbar.OptionSetDescription("Extracting faces"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("photos"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionFullWidth(),
		)
	}

	res, err := a.coordinator.CompleteEnrollment(ctx, label, images, func(done, total int) {
		if bar != nil {
			_ = bar.Set(done)
		}
	})
	if bar != nil {
		_ = bar.Finish()
		fmt.Println()
	}
	if err == nil || errors.Is(err, enrollment.ErrNoUsableImages) {
		if markErr := a.images.MarkEnrolled(label, names); markErr != nil {
			fmt.Printf("Warning: failed to record enrolled photos: %v\n", markErr)
		}
	}
	if err != nil {
		return fmt.Errorf("enrollment failed: %w", err)
	}
	out.Result = res

	if jsonOutput {
		return printJSON(out)
	}

	fmt.Printf("Person %d: %d of %d photos used", label, res.Accepted, res.Images)
	if res.NoFace > 0 || res.Unreadable > 0 {
		fmt.Printf(" (%d without a face, %d unreadable)", res.NoFace, res.Unreadable)
	}
	fmt.Println()
	if out.Duplicates > 0 {
		fmt.Printf("Skipped %d duplicate photos\n", out.Duplicates)
	}
	for _, path := range out.Rejected {
		fmt.Printf("Skipped %s: not an image\n", path)
	}
	switch res.Status {
	case enrollment.StatusTrained:
		fmt.Printf("Recognition model v%d is live\n", res.ModelVersion)
	case enrollment.StatusStoredUntrained:
		fmt.Println("Photos stored. Recognition starts once a second person is enrolled.")
	}
	return nil
}

// resolveEnrollPerson returns the label of the --id person, or registers a new one from
// the name flags.
func resolveEnrollPerson(ctx context.Context, cmd *cobra.Command, a *app) (int, error) {
	if id := mustGetInt(cmd, "id"); id > 0 {
		ok, err := a.persons.Exists(ctx, id)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, fmt.Errorf("person %d not found", id)
		}
		if !a.images.Exists(id) {
			if err := a.images.Create(id); err != nil {
				return 0, err
			}
		}
		return id, nil
	}

	p := database.Person{
		Name:        mustGetString(cmd, "name"),
		Surname:     mustGetString(cmd, "surname"),
		PhoneNumber: mustGetString(cmd, "phone"),
		CIN:         mustGetString(cmd, "cin"),
	}
	if err := p.ValidateFields(); err != nil {
		return 0, fmt.Errorf("use --id or give --name, --surname, --phone and --cin: %w", err)
	}

	label, err := a.coordinator.BeginEnrollment(ctx)
	if err != nil {
		return 0, err
	}
	if err := a.images.Create(label); err != nil {
		return 0, err
	}
	p.Label = label
	p.Folder = a.images.Dir(label)
	if err := a.persons.Create(ctx, &p); err != nil {
		return 0, err
	}
	fmt.Printf("Registered %s %s as person %d\n", p.Name, p.Surname, label)
	return label, nil
}

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tif", ".tiff", ".webp"}

// collectImageFiles expands directories into the image files they contain.
func collectImageFiles(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			ext := strings.ToLower(filepath.Ext(e.Name()))
			if !e.IsDir() && slices.Contains(imageExtensions, ext) {
				files = append(files, filepath.Join(arg, e.Name()))
			}
		}
	}
	return files, nil
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
