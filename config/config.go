/*
Package config reads the YAML file describing the models and resources a spanrest
server exposes.

	listenAddress: ":8080"
	postgres:
	  dsn: postgres://localhost:5432/library
	models:
	  - app: library
	    name: author
	    naturalKey: [name]
	    fields:
	      - {name: name, type: string}
	  - app: library
	    name: book
	    fields:
	      - {name: title, type: string}
	      - {name: author, kind: foreignKey, related: library.author, nullable: true}
	resources:
	  - name: books
	    model: library.book
	    paginateBy: 20
	    query:
	      - title
	      - {name: author, conversion: int, field: author_id}
	    fields:
	      - title
	      - author: [name]

Settings outside models and resources can be overridden from the environment or from
.env files, using the SPANREST_ prefixed names in EnvironmentKeys.
*/
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v2"

	"github.com/illuscio-dev/spanrest-go/store"
)

const (
	DefaultListenAddress = ":8080"
	DefaultLogLevel      = "info"
)

// Environment names overriding file settings.
const (
	EnvListenAddress = "SPANREST_LISTEN_ADDRESS"
	EnvLogLevel      = "SPANREST_LOG_LEVEL"
	EnvPostgresDSN   = "SPANREST_POSTGRES_DSN"
	EnvPostgresConns = "SPANREST_POSTGRES_MAX_CONNS"
)

// EnvironmentKeys lists every override read by Load.
var EnvironmentKeys = []string{EnvListenAddress, EnvLogLevel, EnvPostgresDSN, EnvPostgresConns}

type Postgres struct {
	DSN      string `yaml:"dsn"`
	MaxConns int    `yaml:"maxConns"`
}

type Field struct {
	Name string `yaml:"name"`
	// Column defaults to the name, or to name + "_id" for foreign keys.
	Column string `yaml:"column"`
	// One of direct (the default), foreignKey or manyToMany.
	Kind     string        `yaml:"kind"`
	Type     string        `yaml:"type"`
	Related  string        `yaml:"related"`
	Through  store.Through `yaml:"through"`
	Nullable bool          `yaml:"nullable"`
}

type Model struct {
	App        string   `yaml:"app"`
	Name       string   `yaml:"name"`
	Table      string   `yaml:"table"`
	PrimaryKey string   `yaml:"primaryKey"`
	NaturalKey []string `yaml:"naturalKey"`
	Fields     []Field  `yaml:"fields"`
}

// Fieldsets configures a selectable field specification.
type Fieldsets struct {
	Marker  string                   `yaml:"marker"`
	Default string                   `yaml:"default"`
	Sets    map[string][]interface{} `yaml:"sets"`
}

/*
Resource configures one resource. Lookup entries under Query and PathLookups are
either a bare parameter name or a mapping with name, conversion, split and field keys.
Field entries under Fields and Fieldsets are either a bare field name or a mapping
expanding a relation, written as {relation: [fields...]} or
{name: relation, fields: [...]}.
*/
type Resource struct {
	Name            string                 `yaml:"name"`
	Path            string                 `yaml:"path"`
	Model           string                 `yaml:"model"`
	Criteria        map[string]interface{} `yaml:"criteria"`
	PaginateBy      int                    `yaml:"paginateBy"`
	AllowEmpty      bool                   `yaml:"allowEmpty"`
	Singleton       bool                   `yaml:"singleton"`
	SlugField       string                 `yaml:"slugField"`
	Query           []interface{}          `yaml:"query"`
	PathLookups     []interface{}          `yaml:"pathLookups"`
	Fields          []interface{}          `yaml:"fields"`
	Fieldsets       *Fieldsets             `yaml:"fieldsets"`
	DefaultFormat   string                 `yaml:"defaultFormat"`
	Methods         []string               `yaml:"methods"`
	StrictRelations bool                   `yaml:"strictRelations"`
}

type Config struct {
	ListenAddress string     `yaml:"listenAddress"`
	LogLevel      string     `yaml:"logLevel"`
	Postgres      Postgres   `yaml:"postgres"`
	Models        []Model    `yaml:"models"`
	Resources     []Resource `yaml:"resources"`
}

// Load reads the configuration file at path and applies overrides. Values in envFiles
// are read first (missing files are skipped) and the process environment wins over
// them.
func Load(path string, envFiles ...string) (*Config, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Errorf("error reading configuration: %w", err)
	}

	newConfig, err := Parse(contents)
	if err != nil {
		return nil, xerrors.Errorf("error parsing %s: %w", path, err)
	}

	environment, err := readEnvironment(envFiles)
	if err != nil {
		return nil, err
	}

	if err := newConfig.applyEnvironment(environment); err != nil {
		return nil, err
	}
	return newConfig, nil
}

// Parse decodes a YAML document and fills in defaults. No environment is applied.
func Parse(contents []byte) (*Config, error) {
	newConfig := &Config{}
	if err := yaml.UnmarshalStrict(contents, newConfig); err != nil {
		return nil, xerrors.Errorf("error decoding yaml: %w", err)
	}

	if newConfig.ListenAddress == "" {
		newConfig.ListenAddress = DefaultListenAddress
	}
	if newConfig.LogLevel == "" {
		newConfig.LogLevel = DefaultLogLevel
	}
	return newConfig, nil
}

func readEnvironment(envFiles []string) (map[string]string, error) {
	environment := make(map[string]string)

	for _, envFile := range envFiles {
		if _, err := os.Stat(envFile); os.IsNotExist(err) {
			continue
		}

		values, err := godotenv.Read(envFile)
		if err != nil {
			return nil, xerrors.Errorf("error reading %s: %w", envFile, err)
		}
		for key, value := range values {
			environment[key] = value
		}
	}

	for _, key := range EnvironmentKeys {
		if value, ok := os.LookupEnv(key); ok {
			environment[key] = value
		}
	}
	return environment, nil
}

func (config *Config) applyEnvironment(environment map[string]string) error {
	if value := strings.TrimSpace(environment[EnvListenAddress]); value != "" {
		config.ListenAddress = value
	}
	if value := strings.TrimSpace(environment[EnvLogLevel]); value != "" {
		config.LogLevel = value
	}
	if value := strings.TrimSpace(environment[EnvPostgresDSN]); value != "" {
		config.Postgres.DSN = value
	}
	if value := strings.TrimSpace(environment[EnvPostgresConns]); value != "" {
		maxConns, err := strconv.Atoi(value)
		if err != nil {
			return xerrors.Errorf("%s is not an integer: %w", EnvPostgresConns, err)
		}
		config.Postgres.MaxConns = maxConns
	}
	return nil
}

// ConnString returns the DSN with the pool size applied, in the pool_max_conns form
// pgxpool parses.
func (postgres Postgres) ConnString() string {
	if postgres.MaxConns <= 0 {
		return postgres.DSN
	}

	maxConns := strconv.Itoa(postgres.MaxConns)
	if strings.Contains(postgres.DSN, "://") {
		separator := "?"
		if strings.Contains(postgres.DSN, "?") {
			separator = "&"
		}
		return postgres.DSN + separator + "pool_max_conns=" + maxConns
	}
	return strings.TrimSpace(postgres.DSN + " pool_max_conns=" + maxConns)
}
