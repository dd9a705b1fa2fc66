package cmd

import (
	"context"
	"fmt"

	"github.com/kozaktomas/facegate/internal/classifier"
	"github.com/kozaktomas/facegate/internal/config"
	"github.com/kozaktomas/facegate/internal/database"
	"github.com/kozaktomas/facegate/internal/database/mariadb"
	"github.com/kozaktomas/facegate/internal/database/postgres"
	"github.com/kozaktomas/facegate/internal/embedding"
	"github.com/kozaktomas/facegate/internal/enrollment"
	"github.com/kozaktomas/facegate/internal/imagestore"
	"github.com/kozaktomas/facegate/internal/imaging"
	"github.com/kozaktomas/facegate/internal/recognition"
)

func init() {
	postgres.Register()
	mariadb.Register()
}

// app bundles the dependencies shared by the commands.
type app struct {
	cfg         *config.Config
	extractor   *embedding.DlibExtractor
	coordinator *enrollment.Coordinator
	persons     database.PersonStore
	images      *imagestore.Store
}

// enrollmentConfig maps the configuration onto the coordinator settings.
func enrollmentConfig(cfg *config.Config) enrollment.Config {
	return enrollment.Config{
		StorePath:      cfg.Storage.EmbeddingsPath(),
		ClassifierPath: cfg.Storage.ClassifierPath(),
		Training: classifier.Options{
			C:                cfg.Training.C,
			MaxIter:          cfg.Training.MaxIter,
			Tolerance:        cfg.Training.Tolerance,
			ProbabilityFolds: cfg.Training.ProbabilityFolds,
			Seed:             cfg.Training.Seed,
		},
		Policy: recognition.Policy{
			Threshold:   cfg.Recognition.Threshold,
			MaxDistance: cfg.Recognition.MaxDistance,
		},
	}
}

// openApp connects the person database, opens the image folders and loads the model.
// The dlib models are only loaded when withExtractor is set.
func openApp(ctx context.Context, withExtractor bool) (*app, error) {
	cfg := config.Load()
	a := &app{cfg: cfg}

	fmt.Printf("Opening %s person database...\n", cfg.Database.Driver)
	persons, err := database.Open(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open person database: %w", err)
	}
	a.persons = persons

	a.images, err = imagestore.New(cfg.Images.Dir)
	if err != nil {
		a.Close()
		return nil, err
	}

	var extractor embedding.Extractor
	if withExtractor {
		fmt.Printf("Loading dlib models from %s...\n", cfg.Model.Dir)
		a.extractor, err = embedding.NewDlibExtractor(cfg.Model.Dir, cfg.Model.CNN, imaging.Options{
			MaxDimension: cfg.Images.MaxDimension,
			JPEGQuality:  cfg.Images.JPEGQuality,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to load face models: %w", err)
		}
		extractor = a.extractor
	}

	a.coordinator, err = enrollment.Open(ctx, enrollmentConfig(cfg), extractor,
		enrollment.WithLabelFloor(persons.MaxLabel))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to load recognition model: %w", err)
	}
	return a, nil
}

// Close releases the database connection and the dlib models.
func (a *app) Close() {
	if a.extractor != nil {
		a.extractor.Close()
	}
	if a.persons != nil {
		if err := a.persons.Close(); err != nil {
			fmt.Printf("Warning: failed to close person database: %v\n", err)
		}
	}
}
