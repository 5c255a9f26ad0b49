// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// NormalizerConfig holds the patterns and word lists that drive text
// canonicalization. Patterns are Go regular expressions; they are compiled
// case-insensitively.
type NormalizerConfig struct {
	// NonSignWords matches generic bibliographic descriptors ("учебник", "том")
	// that carry no distinguishing signal and are stripped before comparison.
	NonSignWords string `json:"non_sign_words" yaml:"non_sign_words" mapstructure:"non_sign_words" validate:"required"`

	// Vowels matches the characters removed by RemoveVowels.
	Vowels string `json:"vowels" yaml:"vowels" mapstructure:"vowels" validate:"required"`

	// AuthorStopwords are tokens dropped from author strings ("под", "ред").
	AuthorStopwords []string `json:"author_stopwords" yaml:"author_stopwords" mapstructure:"author_stopwords"`

	// BibStopwords are tokens ignored while parsing free-text citations.
	BibStopwords []string `json:"bib_stopwords,omitempty" yaml:"bib_stopwords,omitempty" mapstructure:"bib_stopwords"`

	// BibStopwordsFile optionally names a file with one bibliography stopword per line.
	BibStopwordsFile string `json:"bib_stopwords_file,omitempty" yaml:"bib_stopwords_file,omitempty" mapstructure:"bib_stopwords_file"`
}

// ComparerConfig holds the matching thresholds and worker settings.
type ComparerConfig struct {
	// LevenshteinBorder is the maximum normalized edit distance for two
	// author identities or two titles to be considered equal (default 0.3).
	LevenshteinBorder float64 `json:"levenshtein_border" yaml:"levenshtein_border" mapstructure:"levenshtein_border" validate:"gte=0,lte=1"`

	// IntersectionBorder is the maximum share of non-shared title tokens
	// for the token-intersection fallback (default 0.4).
	IntersectionBorder float64 `json:"intersection_border" yaml:"intersection_border" mapstructure:"intersection_border" validate:"gte=0,lte=1"`

	// MaxParallelism bounds the comparison worker pool (default 1).
	MaxParallelism int `json:"max_parallelism" yaml:"max_parallelism" mapstructure:"max_parallelism" validate:"gte=1"`

	// EnrichFromBibliography parses RawBibliography for records missing
	// authors or title before they are keyed (default true).
	EnrichFromBibliography bool `json:"enrich_from_bibliography" yaml:"enrich_from_bibliography" mapstructure:"enrich_from_bibliography"`
}

// ReconcilerConfig holds settings for persisting links back to the store.
type ReconcilerConfig struct {
	// BatchSize is the number of records flushed per store round trip (default 100).
	BatchSize int `json:"batch_size" yaml:"batch_size" mapstructure:"batch_size" validate:"gte=1"`

	// RetryAttempts is the number of attempts per store write (default 3).
	RetryAttempts uint `json:"retry_attempts" yaml:"retry_attempts" mapstructure:"retry_attempts" validate:"gte=1"`

	// RetryDelay is the base delay between attempts (default 200ms).
	RetryDelay time.Duration `json:"retry_delay" yaml:"retry_delay" mapstructure:"retry_delay"`
}

// StoreDriver selects the catalog store implementation.
type StoreDriver string

const (
	DriverSQLite   StoreDriver = "sqlite"
	DriverPostgres StoreDriver = "postgres"
	DriverMongo    StoreDriver = "mongo"
)

// StoreConfig holds catalog store connection settings.
type StoreConfig struct {
	// Driver is one of sqlite, postgres, or mongo.
	Driver StoreDriver `json:"driver" yaml:"driver" mapstructure:"driver" validate:"oneof=sqlite postgres mongo"`

	// DSN is a file path for sqlite, a connection string for postgres, or a
	// mongodb:// URI for mongo.
	DSN string `json:"dsn,omitempty" yaml:"dsn,omitempty" mapstructure:"dsn" validate:"required"`

	// Database is the Mongo database name (default "ELS").
	Database string `json:"database" yaml:"database" mapstructure:"database"`

	// Collection is the Mongo collection name (default "Books").
	Collection string `json:"collection" yaml:"collection" mapstructure:"collection"`
}

// EventsConfig holds Kafka settings for link events.
type EventsConfig struct {
	Enabled      bool          `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Brokers      []string      `json:"brokers" yaml:"brokers" mapstructure:"brokers" validate:"required_if=Enabled true"`
	Topic        string        `json:"topic" yaml:"topic" mapstructure:"topic"`
	BatchSize    int           `json:"batch_size" yaml:"batch_size" mapstructure:"batch_size"`
	BatchTimeout time.Duration `json:"batch_timeout" yaml:"batch_timeout" mapstructure:"batch_timeout"`

	// SASLUsername and SASLPassword enable SASL/PLAIN when the username is set.
	SASLUsername string `json:"sasl_username,omitempty" yaml:"sasl_username,omitempty" mapstructure:"sasl_username"`
	SASLPassword string `json:"-" yaml:"-" mapstructure:"sasl_password"`
}

// LockConfig holds Redis settings for the run lock.
type LockConfig struct {
	Enabled  bool          `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Addr     string        `json:"addr" yaml:"addr" mapstructure:"addr" validate:"required_if=Enabled true"`
	Password string        `json:"-" yaml:"-" mapstructure:"password"`
	DB       int           `json:"db" yaml:"db" mapstructure:"db"`
	TTL      time.Duration `json:"ttl" yaml:"ttl" mapstructure:"ttl"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	// Format is json or console.
	Format  string `json:"format" yaml:"format" mapstructure:"format" validate:"oneof=json console"`
	Verbose bool   `json:"verbose" yaml:"verbose" mapstructure:"verbose"`
}

// Config groups all settings for els-comparer.
type Config struct {
	Normalizer NormalizerConfig `json:"normalizer" yaml:"normalizer" mapstructure:"normalizer"`
	Comparer   ComparerConfig   `json:"comparer" yaml:"comparer" mapstructure:"comparer"`
	Reconciler ReconcilerConfig `json:"reconciler" yaml:"reconciler" mapstructure:"reconciler"`
	Store      StoreConfig      `json:"store" yaml:"store" mapstructure:"store"`
	Events     EventsConfig     `json:"events" yaml:"events" mapstructure:"events"`
	Lock       LockConfig       `json:"lock" yaml:"lock" mapstructure:"lock"`
	Log        LogConfig        `json:"log" yaml:"log" mapstructure:"log"`

	// MetricsAddr, when set, serves Prometheus metrics during a run (e.g. ":9108").
	MetricsAddr string `json:"metrics_addr,omitempty" yaml:"metrics_addr,omitempty" mapstructure:"metrics_addr"`
}

// Default noise-word and vowel patterns for Russian and English catalogs.
const (
	DefaultNonSignWords = `томах|том|часть|частях|части|учебно\-методический комплекс|практикум|роман|методическ|практическ|сборник|художественн|литератур|научн|популярн|издание|публицистик|документальн|учебник|учебн|пособ|монограф`
	DefaultVowels       = `[_ёуейиыаоэяиюьъeuoai]`
)

// DefaultAuthorStopwords are editorial markers found inside author strings.
var DefaultAuthorStopwords = []string{"под", "науч", "ред", "отв", "общ", "пер"}

// DefaultNormalizerConfig returns the normalizer settings used when no
// configuration overrides them.
func DefaultNormalizerConfig() NormalizerConfig {
	return NormalizerConfig{
		NonSignWords:    DefaultNonSignWords,
		Vowels:          DefaultVowels,
		AuthorStopwords: append([]string(nil), DefaultAuthorStopwords...),
	}
}

// DefaultConfig returns a Config populated with defaults.
func DefaultConfig() Config {
	return Config{
		Normalizer: DefaultNormalizerConfig(),
		Comparer: ComparerConfig{
			LevenshteinBorder:      0.3,
			IntersectionBorder:     0.4,
			MaxParallelism:         1,
			EnrichFromBibliography: true,
		},
		Reconciler: ReconcilerConfig{
			BatchSize:     100,
			RetryAttempts: 3,
			RetryDelay:    200 * time.Millisecond,
		},
		Store: StoreConfig{
			Driver:     DriverSQLite,
			DSN:        "data/catalog.db",
			Database:   "ELS",
			Collection: "Books",
		},
		Events: EventsConfig{
			Topic:        "els.similarity-links",
			BatchSize:    100,
			BatchTimeout: time.Second,
		},
		Lock: LockConfig{
			TTL: 6 * time.Hour,
		},
		Log: LogConfig{Format: "json"},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks value ranges and required fields.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
