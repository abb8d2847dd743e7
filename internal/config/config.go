package config

import (
	"errors"
	"fmt"
	"readsync/internal/core/domain/models"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"go.uber.org/zap/zapcore"
)

// MaxBatchSize is the largest batch the batch-create endpoint accepts.
const MaxBatchSize = 500

type Config struct {
	FeishuAppID     string `env:"FEISHU_APP_ID,required,notEmpty"`
	FeishuAppSecret string `env:"FEISHU_APP_SECRET,required,notEmpty"`
	FeishuAppToken  string `env:"FEISHU_APP_TOKEN,required,notEmpty"`
	FeishuTableID   string `env:"FEISHU_TABLE_ID,required,notEmpty"`
	FeishuAPIBase   string `env:"FEISHU_API_BASE" envDefault:"https://open.feishu.cn/open-apis"`

	WeReadCookie   string `env:"WEREAD_COOKIE,required,notEmpty"`
	WeReadShelfURL string `env:"WEREAD_SHELF_URL" envDefault:"https://weread.qq.com/web/shelf/sync"`

	BatchSize          int           `env:"SYNC_BATCH_SIZE" envDefault:"10"`
	PacingDelay        time.Duration `env:"SYNC_PACING_DELAY" envDefault:"1s"`
	FetchAttempts      int           `env:"SYNC_FETCH_ATTEMPTS" envDefault:"3"`
	FetchBackoff       time.Duration `env:"SYNC_FETCH_BACKOFF" envDefault:"2s"`
	HTTPTimeout        time.Duration `env:"SYNC_HTTP_TIMEOUT" envDefault:"10s"`
	TreatEmptyAsFailed bool          `env:"SYNC_TREAT_EMPTY_AS_FAILURE" envDefault:"true"`
	DryRun             bool          `env:"SYNC_DRY_RUN" envDefault:"false"`
	Timezone           string        `env:"SYNC_TIMEZONE" envDefault:"UTC"`

	StatusFinished   string `env:"SYNC_STATUS_FINISHED" envDefault:"finished"`
	StatusInProgress string `env:"SYNC_STATUS_IN_PROGRESS" envDefault:"in-progress"`

	ColumnTitle         string `env:"SYNC_COLUMN_TITLE" envDefault:"Title"`
	ColumnAuthor        string `env:"SYNC_COLUMN_AUTHOR" envDefault:"Author"`
	ColumnProgress      string `env:"SYNC_COLUMN_PROGRESS" envDefault:"Reading Progress"`
	ColumnStatus        string `env:"SYNC_COLUMN_STATUS" envDefault:"Reading Status"`
	ColumnCover         string `env:"SYNC_COLUMN_COVER" envDefault:"Cover"`
	ColumnCategories    string `env:"SYNC_COLUMN_CATEGORIES" envDefault:"Categories"`
	ColumnCompletedDate string `env:"SYNC_COLUMN_COMPLETED_DATE" envDefault:"Completed Date"`

	LogLevel string `env:"SYNC_LOG_LEVEL" envDefault:"info"`

	HistorySettings
}

// HistorySettings is loaded on its own by commands that only read the run
// history and need no credentials.
type HistorySettings struct {
	HistoryDB string `env:"SYNC_HISTORY_DB"`
}

// Load parses the environment into a Config and validates it. Every problem
// found is reported in one ConfigurationError.
func Load() (*Config, error) {
	cfg := &Config{}
	problems := &models.ConfigurationError{}

	if err := env.Parse(cfg); err != nil {
		problems.Invalid = append(problems.Invalid, parseProblems(err)...)
	}

	var validation *models.ConfigurationError
	if err := cfg.Validate(); errors.As(err, &validation) {
		problems.Missing = append(problems.Missing, validation.Missing...)
		problems.Invalid = append(problems.Invalid, validation.Invalid...)
	}

	if problems.Empty() {
		return cfg, nil
	}
	return nil, problems
}

// LoadHistorySettings reads SYNC_HISTORY_DB only.
func LoadHistorySettings() (HistorySettings, error) {
	var h HistorySettings
	if err := env.Parse(&h); err != nil {
		return h, fmt.Errorf("%w: %v", models.ErrConfiguration, err)
	}
	return h, nil
}

// parseProblems turns env decoding errors into messages keyed by variable
// name. Missing required variables are left to Validate.
func parseProblems(err error) []string {
	var agg env.AggregateError
	if !errors.As(err, &agg) {
		return []string{err.Error()}
	}

	keys := fieldKeys()
	var out []string
	for _, e := range agg.Errors {
		var notSet env.EnvVarIsNotSetError
		var empty env.EmptyEnvVarError
		var parse env.ParseError
		switch {
		case errors.As(e, &notSet), errors.As(e, &empty):
		case errors.As(e, &parse):
			out = append(out, fmt.Sprintf("%s: %v", keys[parse.Name], parse.Err))
		default:
			out = append(out, e.Error())
		}
	}
	return out
}

// Validate reports every missing required key and every out-of-range
// tunable in a single ConfigurationError.
func (c *Config) Validate() error {
	problems := &models.ConfigurationError{}

	invalid := func(format string, args ...any) {
		problems.Invalid = append(problems.Invalid, fmt.Sprintf(format, args...))
	}

	for _, f := range c.stringFields() {
		blank := strings.TrimSpace(f.value) == ""
		switch {
		case f.required && blank:
			problems.Missing = append(problems.Missing, f.key)
		case isLabel(f.key) && blank:
			invalid("%s cannot be empty", f.key)
		}
	}

	if c.BatchSize < 1 || c.BatchSize > MaxBatchSize {
		invalid("SYNC_BATCH_SIZE must be between 1 and %d", MaxBatchSize)
	}
	if c.FetchAttempts < 1 {
		invalid("SYNC_FETCH_ATTEMPTS must be at least 1")
	}
	if c.FetchBackoff < 0 {
		invalid("SYNC_FETCH_BACKOFF cannot be negative")
	}
	if c.PacingDelay < 0 {
		invalid("SYNC_PACING_DELAY cannot be negative")
	}
	if c.HTTPTimeout <= 0 {
		invalid("SYNC_HTTP_TIMEOUT must be positive")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		invalid("SYNC_TIMEZONE %q is not a known time zone", c.Timezone)
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		invalid("SYNC_LOG_LEVEL %q is not a log level", c.LogLevel)
	}

	if problems.Empty() {
		return nil
	}
	return problems
}

// Location returns the zone used to render completion dates.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) BitableRecordsURL() string {
	return fmt.Sprintf("%s/bitable/v1/apps/%s/tables/%s/records",
		strings.TrimRight(c.FeishuAPIBase, "/"), c.FeishuAppToken, c.FeishuTableID)
}

func (c *Config) TokenURL() string {
	return strings.TrimRight(c.FeishuAPIBase, "/") + "/auth/v3/tenant_access_token/internal"
}

// Column names and status labels are written verbatim into the table.
func isLabel(key string) bool {
	return strings.HasPrefix(key, "SYNC_COLUMN_") || strings.HasPrefix(key, "SYNC_STATUS_")
}

type stringField struct {
	key      string
	required bool
	value    string
}

// stringFields walks the top-level string fields of Config in declaration
// order, reading key and options from their env tags.
func (c *Config) stringFields() []stringField {
	v := reflect.ValueOf(c).Elem()
	t := v.Type()

	var out []stringField
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if sf.Type.Kind() != reflect.String {
			continue
		}
		key, opts, _ := strings.Cut(sf.Tag.Get("env"), ",")
		if key == "" {
			continue
		}
		out = append(out, stringField{
			key:      key,
			required: slices.Contains(strings.Split(opts, ","), "required"),
			value:    v.Field(i).String(),
		})
	}
	return out
}

// fieldKeys maps Config field names to their environment variable.
func fieldKeys() map[string]string {
	t := reflect.TypeOf(Config{})
	keys := make(map[string]string, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		key, _, _ := strings.Cut(t.Field(i).Tag.Get("env"), ",")
		keys[t.Field(i).Name] = key
	}
	return keys
}
