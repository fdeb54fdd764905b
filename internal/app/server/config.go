package server

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	StoreDriverMemory   = "memory"
	StoreDriverSqlite   = "sqlite"
	StoreDriverDynamodb = "dynamodb"
)

type Config struct {
	Port         string
	IdleTimeout  time.Duration
	WriteTimeout time.Duration
	LogLevel     string

	StoreDriver  string
	SqlitePath   string
	QuizCacheTTL time.Duration
	QuizSeedPath string

	PointsPerCorrect int
	StaleAfter       time.Duration
	SweepInterval    time.Duration
	ResumeGrace      time.Duration
	CallTimeout      time.Duration
	RetryAttempts    int

	AuthEnabled       bool
	AwsRegion         string
	CognitoUserPoolId string

	MatchesTableName   string
	QuizzesTableName   string
	EndGameFunctionArn string
	ApiId              string
	ApiStage           string
}

// env files merged over config.yaml, missing ones are skipped
var envFiles = []string{
	"./configs/aws/base.env",
	"./configs/aws/cognito.env",
	"./configs/aws/lambda.env",
	"./configs/aws/dynamodb.env",
}

func NewConfig() (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs/server")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	if err := loadEnvFiles(v, envFiles); err != nil {
		return Config{}, err
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Config{
		Port:         v.GetString("Server.Port"),
		IdleTimeout:  v.GetDuration("Server.IdleTimeout"),
		WriteTimeout: v.GetDuration("Server.WriteTimeout"),
		LogLevel:     v.GetString("Server.LogLevel"),

		StoreDriver:  strings.ToLower(v.GetString("Store.Driver")),
		SqlitePath:   v.GetString("Store.SqlitePath"),
		QuizCacheTTL: v.GetDuration("Store.QuizCacheTTL"),
		QuizSeedPath: v.GetString("Store.QuizSeedPath"),

		PointsPerCorrect: v.GetInt("Duel.PointsPerCorrect"),
		StaleAfter:       v.GetDuration("Duel.StaleAfter"),
		SweepInterval:    v.GetDuration("Duel.SweepInterval"),
		ResumeGrace:      v.GetDuration("Duel.ResumeGrace"),
		CallTimeout:      v.GetDuration("Duel.CallTimeout"),
		RetryAttempts:    v.GetInt("Duel.RetryAttempts"),

		AuthEnabled:       v.GetBool("Auth.Enabled"),
		AwsRegion:         v.GetString("AWS_REGION"),
		CognitoUserPoolId: v.GetString("COGNITO_USER_POOL_ID"),

		MatchesTableName:   v.GetString("MATCHES_TABLE_NAME"),
		QuizzesTableName:   v.GetString("QUIZZES_TABLE_NAME"),
		EndGameFunctionArn: v.GetString("END_GAME_FUNCTION_ARN"),
		ApiId:              v.GetString("AWS_API_ID"),
		ApiStage:           v.GetString("AWS_API_STAGE"),
	}
	return cfg, cfg.validate()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("Server.Port", "7202")
	v.SetDefault("Server.IdleTimeout", "5m")
	v.SetDefault("Server.WriteTimeout", "10s")
	v.SetDefault("Server.LogLevel", "info")
	v.SetDefault("Store.Driver", StoreDriverMemory)
	v.SetDefault("Store.SqlitePath", "slduel.db")
	v.SetDefault("Store.QuizCacheTTL", "0s")
	v.SetDefault("Duel.PointsPerCorrect", 100)
	v.SetDefault("Duel.StaleAfter", "10m")
	v.SetDefault("Duel.SweepInterval", "1m")
	v.SetDefault("Duel.ResumeGrace", "1m")
	v.SetDefault("Duel.CallTimeout", "5s")
	v.SetDefault("Duel.RetryAttempts", 3)
	v.SetDefault("Auth.Enabled", false)
	v.SetDefault("AWS_API_STAGE", "Prod")
}

func (cfg Config) validate() error {
	switch cfg.StoreDriver {
	case StoreDriverMemory, StoreDriverSqlite, StoreDriverDynamodb:
	default:
		return fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
	if cfg.IdleTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.SweepInterval <= 0 {
		return errors.New("server timeouts and sweep interval must be positive")
	}
	if cfg.AuthEnabled && (cfg.AwsRegion == "" || cfg.CognitoUserPoolId == "") {
		return errors.New("auth requires AWS_REGION and COGNITO_USER_POOL_ID")
	}
	return nil
}

func loadEnvFiles(v *viper.Viper, filenames []string) error {
	for _, file := range filenames {
		if _, err := os.Stat(file); errors.Is(err, os.ErrNotExist) {
			continue
		}
		v.SetConfigFile(file)
		v.SetConfigType("env")
		if err := v.MergeInConfig(); err != nil {
			return fmt.Errorf("failed to merge %s: %w", file, err)
		}
	}
	return nil
}
