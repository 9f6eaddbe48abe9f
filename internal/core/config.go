package core

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/go-playground/validator"
	"github.com/spf13/viper"
)

type DatabaseConfig struct {
	Type        string `validate:"required,oneof=postgres sqlite"`
	Host        string
	Port        int
	Name        string
	User        string
	Password    string
	ResultTable string `validate:"required"`
	// Path is the SQLite database file (":memory:" for ephemeral dev runs).
	Path string
}

type S3Config struct {
	Bucket       string `validate:"required"`
	FolderPrefix string
	Region       string `validate:"required"`
}

type AWSConfig struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string `validate:"required"`
}

type LabelStudioConfig struct {
	URL      string `validate:"required,url"`
	APIToken string `validate:"required"`
}

type UploadConfig struct {
	SupportedFormats []string `validate:"required,min=1"`
	MaxFileSizeMB    int      `validate:"required,min=1"`
}

type CacheConfig struct {
	Addr       string
	Password   string
	DB         int
	TTL        time.Duration
	PresignTTL time.Duration
}

type Config struct {
	AppName       string `validate:"required"`
	AppVersion    string
	Debug         bool
	LogLevel      string `validate:"oneof=debug info warn error"`
	Port          int    `validate:"required,min=1,max=65535"`
	SessionSecret string

	Database    DatabaseConfig
	S3          S3Config
	AWS         AWSConfig
	LabelStudio LabelStudioConfig
	Upload      UploadConfig
	Cache       CacheConfig

	LambdaFunctionName string `validate:"required"`
}

// LoadConfig reads an optional YAML file (CONFIG_PATH or the given
// path) and lets environment variables override every value, matching
// the variable names in .env.template.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	setDefaults(v)

	if configPath == "" {
		configPath = os.Getenv("CONFIG_PATH")
	}
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configPath, err)
		}
	}

	cfg := &Config{
		AppName:       v.GetString("APP_NAME"),
		AppVersion:    v.GetString("APP_VERSION"),
		Debug:         v.GetBool("DEBUG"),
		LogLevel:      v.GetString("LOG_LEVEL"),
		Port:          v.GetInt("PORT"),
		SessionSecret: v.GetString("SESSION_SECRET_KEY"),
		Database: DatabaseConfig{
			Type:        v.GetString("DB_TYPE"),
			Host:        v.GetString("DB_HOST"),
			Port:        v.GetInt("DB_PORT"),
			Name:        v.GetString("DB_NAME"),
			User:        v.GetString("DB_USER"),
			Password:    v.GetString("DB_PASSWORD"),
			ResultTable: v.GetString("DB_RESULT_TABLE"),
			Path:        v.GetString("DB_PATH"),
		},
		S3: S3Config{
			Bucket:       v.GetString("S3_BUCKET_NAME"),
			FolderPrefix: v.GetString("S3_FOLDER_PREFIX"),
			Region:       v.GetString("S3_REGION"),
		},
		AWS: AWSConfig{
			AccessKeyID:     v.GetString("AWS_ACCESS_KEY_ID"),
			SecretAccessKey: v.GetString("AWS_SECRET_ACCESS_KEY"),
			Region:          v.GetString("AWS_REGION"),
		},
		LabelStudio: LabelStudioConfig{
			URL:      v.GetString("LABEL_STUDIO_URL"),
			APIToken: v.GetString("LABEL_STUDIO_API_TOKEN"),
		},
		Upload: UploadConfig{
			SupportedFormats: v.GetStringSlice("SUPPORTED_IMAGE_FORMATS"),
			MaxFileSizeMB:    v.GetInt("MAX_FILE_SIZE_MB"),
		},
		Cache: CacheConfig{
			Addr:       v.GetString("REDIS_ADDR"),
			Password:   v.GetString("REDIS_PASSWORD"),
			DB:         v.GetInt("REDIS_DB"),
			TTL:        time.Duration(v.GetInt("CACHE_TTL_SECONDS")) * time.Second,
			PresignTTL: time.Duration(v.GetInt("PRESIGN_TTL_SECONDS")) * time.Second,
		},
		LambdaFunctionName: v.GetString("LAMBDA_FUNCTION_NAME"),
	}

	if cfg.Debug {
		cfg.LogLevel = "debug"
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Database.Type == "postgres" && (cfg.Database.Host == "" || cfg.Database.User == "") {
		return nil, fmt.Errorf("postgres requires DB_HOST and DB_USER to be set")
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_NAME", "planoview")
	v.SetDefault("APP_VERSION", "dev")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("PORT", 8080)
	v.SetDefault("DB_TYPE", "postgres")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_NAME", "planogramdb")
	v.SetDefault("DB_RESULT_TABLE", "results")
	v.SetDefault("DB_PATH", "planoview.db")
	v.SetDefault("S3_REGION", "ap-southeast-1")
	v.SetDefault("AWS_REGION", "ap-southeast-1")
	v.SetDefault("SUPPORTED_IMAGE_FORMATS", []string{"png", "jpg", "jpeg"})
	v.SetDefault("MAX_FILE_SIZE_MB", 200)
	v.SetDefault("CACHE_TTL_SECONDS", 300)
	v.SetDefault("PRESIGN_TTL_SECONDS", 3600)
}

// DSN returns the connection string for the configured backend.
func (c DatabaseConfig) DSN() string {
	if c.Type == "sqlite" {
		return c.Path
	}
	u := url.URL{
		Scheme: "postgresql",
		User:   url.UserPassword(c.User, c.Password),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   "/" + c.Name,
	}
	return u.String()
}
