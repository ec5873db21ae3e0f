// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package config loads rawetl's configuration from an optional config
// file and RAWETL_* environment variables.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"

	"github.com/cardinalhq/rawetl/internal/backlog"
	"github.com/cardinalhq/rawetl/internal/officeconv"
	"github.com/cardinalhq/rawetl/internal/pdfprocessing"
	"github.com/cardinalhq/rawetl/internal/pipeline"
	"github.com/cardinalhq/rawetl/internal/pubsub"
	"github.com/cardinalhq/rawetl/internal/transcription"
	"github.com/cardinalhq/rawetl/internal/videoprocessing"
)

// Config aggregates configuration for the application.
// Each worker section is owned by its package.
type Config struct {
	Storage    StorageConfig             `mapstructure:"storage"`
	Areas      AreasConfig               `mapstructure:"areas"`
	RoutesFile string                    `mapstructure:"routes_file"`
	Tools      ToolsConfig               `mapstructure:"tools"`
	PDF        pdfprocessing.Config      `mapstructure:"pdf"`
	Office     officeconv.Config         `mapstructure:"office"`
	Video      videoprocessing.Config    `mapstructure:"video"`
	Transcript transcription.Config      `mapstructure:"transcript"`
	Backlog    BacklogConfig             `mapstructure:"backlog"`
	PubSub     pubsub.Config             `mapstructure:"pubsub"`
	Kafka      transcription.KafkaConfig `mapstructure:"kafka"`
}

// StorageConfig selects the object store behind every area.
type StorageConfig struct {
	// Provider is "s3", "gcs" or "azure".
	Provider string `mapstructure:"provider"`
	Region   string `mapstructure:"region"`
	RoleARN  string `mapstructure:"role_arn"`
	// Endpoint overrides the provider endpoint: MinIO for s3, an emulator
	// for gcs, a blob service URL for azure.
	Endpoint     string `mapstructure:"endpoint"`
	PathStyle    bool   `mapstructure:"path_style"`
	InsecureTLS  bool   `mapstructure:"insecure_tls"`
	AzureAccount string `mapstructure:"azure_account"`
	// ServiceAccount is a GCP service account to impersonate.
	ServiceAccount string `mapstructure:"service_account"`
}

// AreasConfig names the bucket (or container) of each storage area.
type AreasConfig struct {
	Raw     string `mapstructure:"raw"`
	Interim string `mapstructure:"interim"`
	Frames  string `mapstructure:"frames"`
	Audio   string `mapstructure:"audio"`
	Output  string `mapstructure:"output"`
}

func (a AreasConfig) Areas() pipeline.Areas {
	return pipeline.Areas{
		pipeline.AreaRaw:     a.Raw,
		pipeline.AreaInterim: a.Interim,
		pipeline.AreaFrames:  a.Frames,
		pipeline.AreaAudio:   a.Audio,
		pipeline.AreaOutput:  a.Output,
	}
}

// ToolsConfig names the external binaries the workers shell out to.
type ToolsConfig struct {
	PdfInfo     string `mapstructure:"pdfinfo"`
	PdfToText   string `mapstructure:"pdftotext"`
	LibreOffice string `mapstructure:"libreoffice"`
	FFmpeg      string `mapstructure:"ffmpeg"`
}

// BacklogConfig is the continuation queue and its ledger.
type BacklogConfig struct {
	QueueURL      string         `mapstructure:"queue_url"`
	Region        string         `mapstructure:"region"`
	Endpoint      string         `mapstructure:"endpoint"`
	Policy        backlog.Policy `mapstructure:"policy"`
	Ledger        bool           `mapstructure:"ledger"`
	SweepInterval time.Duration  `mapstructure:"sweep_interval"`
	IdleWait      time.Duration  `mapstructure:"idle_wait"`
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults() *Config {
	return &Config{
		Storage: StorageConfig{Provider: "s3"},
		Tools: ToolsConfig{
			PdfInfo:     "pdfinfo",
			PdfToText:   "pdftotext",
			LibreOffice: "soffice",
			FFmpeg:      "ffmpeg",
		},
		PDF:        pdfprocessing.DefaultConfig(),
		Office:     officeconv.DefaultConfig(),
		Video:      videoprocessing.DefaultConfig(),
		Transcript: transcription.DefaultConfig(),
		Backlog: BacklogConfig{
			Policy:        backlog.DefaultPolicy(),
			Ledger:        true,
			SweepInterval: 10 * time.Minute,
			IdleWait:      5 * time.Second,
		},
		PubSub: pubsub.DefaultConfig(),
		Kafka:  transcription.DefaultKafkaConfig(),
	}
}

// Load reads configuration from files and environment variables.
// Environment variables use the prefix "RAWETL" and the dot character
// in keys is replaced by an underscore. For example, "backlog.queue_url"
// becomes "RAWETL_BACKLOG_QUEUE_URL".
func Load() (*Config, error) {
	cfg := Defaults()

	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/rawetl")
	v.SetEnvPrefix("RAWETL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if b := v.GetString("kafka.brokers"); b != "" && !strings.HasPrefix(b, "[") {
		cfg.Kafka.Brokers = splitList(b)
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks the settings every subcommand depends on.
func (c *Config) Validate() error {
	var errs *multierror.Error
	if err := c.Areas.Areas().Validate(); err != nil {
		errs = multierror.Append(errs, err)
	}
	switch c.Storage.Provider {
	case "s3", "gcs":
	case "azure":
		if c.Storage.AzureAccount == "" && c.Storage.Endpoint == "" {
			errs = multierror.Append(errs, errors.New("storage.azure_account or storage.endpoint is required for azure"))
		}
	default:
		errs = multierror.Append(errs, fmt.Errorf("unknown storage provider %q", c.Storage.Provider))
	}
	for name, l := range map[string]interface{ Validate() error }{
		"pdf.limits":        c.PDF.Limits,
		"office.limits":     c.Office.Limits,
		"video.limits":      c.Video.Limits,
		"transcript.limits": c.Transcript.Limits,
	} {
		if err := l.Validate(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if err := c.Backlog.Policy.Validate(c.PDF.Limits.Timeout); err != nil {
		errs = multierror.Append(errs, err)
	}
	if c.Video.FrameInterval <= 0 {
		errs = multierror.Append(errs, errors.New("video.frame_interval must be positive"))
	}
	if c.Transcript.MaxAttempts < 1 {
		errs = multierror.Append(errs, errors.New("transcript.max_attempts must be at least 1"))
	}
	return errs.ErrorOrNil()
}

// bindEnvs registers all keys within cfg so that viper will look up
// corresponding environment variables when unmarshalling.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		if !f.IsExported() {
			continue
		}
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(append([]string(nil), parts...), tag)
		if f.Type.Kind() == reflect.Struct && f.Type != reflect.TypeOf(time.Time{}) {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}
