package config

import (
	_ "embed"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	Model       ModelConfig       `yaml:"model"`
	Storage     StorageConfig     `yaml:"storage"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Training    TrainingConfig    `yaml:"training"`
	Images      ImagesConfig      `yaml:"images"`
	Database    DatabaseConfig    `yaml:"database"`
	Web         WebConfig         `yaml:"web"`
}

type ModelConfig struct {
	Dir string `yaml:"dir"` // directory with the dlib .dat model files
	CNN bool   `yaml:"cnn"` // use the CNN face detector instead of HOG
}

type StorageConfig struct {
	Dir        string `yaml:"dir"`
	Embeddings string `yaml:"embeddings"` // file name of the embedding store inside Dir
	Classifier string `yaml:"classifier"` // file name of the classifier snapshot inside Dir
}

// EmbeddingsPath returns the full path of the embedding store artifact.
func (c *StorageConfig) EmbeddingsPath() string {
	return filepath.Join(c.Dir, c.Embeddings)
}

// ClassifierPath returns the full path of the classifier artifact.
func (c *StorageConfig) ClassifierPath() string {
	return filepath.Join(c.Dir, c.Classifier)
}

type RecognitionConfig struct {
	Threshold   float64 `yaml:"threshold"`    // minimum top-class probability to accept
	MaxDistance float64 `yaml:"max_distance"` // Euclidean distance gate, 0 disables
}

type TrainingConfig struct {
	C                float64 `yaml:"c"`
	MaxIter          int     `yaml:"max_iter"`
	Tolerance        float64 `yaml:"tolerance"`
	ProbabilityFolds int     `yaml:"probability_folds"`
	Seed             uint64  `yaml:"seed"`
}

type ImagesConfig struct {
	Dir          string `yaml:"dir"` // one folder per enrolled person
	MaxDimension int    `yaml:"max_dimension"`
	JPEGQuality  int    `yaml:"jpeg_quality"`
	MaxUploadMB  int    `yaml:"max_upload_mb"`
}

type DatabaseConfig struct {
	Driver       string `yaml:"driver"` // postgres, mariadb or memory
	URL          string `yaml:"-"`      // PostgreSQL connection URL or MariaDB DSN
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

type WebConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"` // CORS origins besides localhost
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable and parses it as a non-negative float.
// Returns the default value if the env var is unset, empty, or invalid.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 {
		return f
	}
	return defaultVal
}

// envBool reads an environment variable as a boolean ("1", "true", ...).
func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return defaultVal
}

// envString returns the environment variable or the default when it is unset or empty.
func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envList reads a comma-separated environment variable, dropping empty items.
func envList(key string) []string {
	var items []string
	for item := range strings.SplitSeq(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func Load() *Config {
	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}

	cfg.Model.Dir = envString("FACEGATE_MODELS_DIR", cfg.Model.Dir)
	cfg.Model.CNN = envBool("FACEGATE_MODEL_CNN", cfg.Model.CNN)

	cfg.Storage.Dir = envString("FACEGATE_DATA_DIR", cfg.Storage.Dir)

	cfg.Recognition.Threshold = envFloat("FACEGATE_THRESHOLD", cfg.Recognition.Threshold)
	cfg.Recognition.MaxDistance = envFloat("FACEGATE_MAX_DISTANCE", cfg.Recognition.MaxDistance)

	cfg.Training.C = envFloat("FACEGATE_TRAIN_C", cfg.Training.C)
	cfg.Training.MaxIter = envInt("FACEGATE_TRAIN_MAX_ITER", cfg.Training.MaxIter)
	cfg.Training.ProbabilityFolds = envInt("FACEGATE_TRAIN_FOLDS", cfg.Training.ProbabilityFolds)

	cfg.Images.Dir = envString("FACEGATE_IMAGES_DIR", cfg.Images.Dir)
	cfg.Images.MaxDimension = envInt("FACEGATE_IMAGE_MAX_DIMENSION", cfg.Images.MaxDimension)
	cfg.Images.MaxUploadMB = envInt("FACEGATE_MAX_UPLOAD_MB", cfg.Images.MaxUploadMB)

	cfg.Database.Driver = envString("DATABASE_DRIVER", cfg.Database.Driver)
	cfg.Database.URL = os.Getenv("DATABASE_URL")
	cfg.Database.MaxOpenConns = envInt("DATABASE_MAX_OPEN_CONNS", cfg.Database.MaxOpenConns)
	cfg.Database.MaxIdleConns = envInt("DATABASE_MAX_IDLE_CONNS", cfg.Database.MaxIdleConns)

	cfg.Web.Host = envString("WEB_HOST", cfg.Web.Host)
	cfg.Web.Port = envInt("WEB_PORT", cfg.Web.Port)
	if origins := envList("WEB_ALLOWED_ORIGINS"); len(origins) > 0 {
		cfg.Web.AllowedOrigins = origins
	}

	return &cfg
}
