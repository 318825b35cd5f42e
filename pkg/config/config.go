package config

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	CORS          CORSConfig
	Log           LogConfig
	Calendar      CalendarConfig
	Solver        SolverConfig
	Analyzer      AnalyzerConfig
	Modifications ModificationsConfig
	Export        ExportConfig
}

type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

type RedisConfig struct {
	Host        string
	Port        int
	Password    string
	DB          int
	PingTimeout time.Duration
}

type JWTConfig struct {
	Secret string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// CalendarConfig shapes the weekly slot universe.
type CalendarConfig struct {
	ActiveDays    []int
	PeriodsPerDay int
	BreakPeriods  []int
}

// SolverConfig governs the solve orchestration and the relaxation ladder.
type SolverConfig struct {
	TimeBudget           time.Duration
	CompactnessHard      bool
	GapWeight            int
	GapWeightRelaxed     int
	BlockBonus           int
	LateWeight           int
	LateThreshold        int
	DayBalanceWeight     int
	TargetHoursPerDay    int
	MaxTeacherViolations int
	SubjectWeight        int
}

// AnalyzerConfig holds the soft-quality detector thresholds.
type AnalyzerConfig struct {
	AmplitudeThreshold int
	OverloadThreshold  int
	WeeklyGapDays      int
	LateThreshold      int
	HighDifficultyTier int
}

// ModificationsConfig tunes the incremental edit engine.
type ModificationsConfig struct {
	MaxAlternatives int
}

// ExportConfig toggles timetable export formats.
type ExportConfig struct {
	Enabled bool
	Title   string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:            v.GetString("DB_HOST"),
		Port:            v.GetInt("DB_PORT"),
		User:            v.GetString("DB_USER"),
		Password:        v.GetString("DB_PASSWORD"),
		Name:            v.GetString("DB_NAME"),
		SSLMode:         v.GetString("DB_SSL_MODE"),
		MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
		ConnMaxLifetime: v.GetDuration("DB_CONN_MAX_LIFETIME"),
		ConnMaxIdleTime: v.GetDuration("DB_CONN_MAX_IDLE_TIME"),
	}

	cfg.Redis = RedisConfig{
		Host:        v.GetString("REDIS_HOST"),
		Port:        v.GetInt("REDIS_PORT"),
		Password:    v.GetString("REDIS_PASSWORD"),
		DB:          v.GetInt("REDIS_DB"),
		PingTimeout: v.GetDuration("REDIS_PING_TIMEOUT"),
	}

	cfg.JWT = JWTConfig{Secret: v.GetString("JWT_SECRET")}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Calendar = CalendarConfig{
		ActiveDays:    splitAndTrimInts(v.GetString("CALENDAR_ACTIVE_DAYS")),
		PeriodsPerDay: v.GetInt("CALENDAR_PERIODS_PER_DAY"),
		BreakPeriods:  splitAndTrimInts(v.GetString("CALENDAR_BREAK_PERIODS")),
	}

	cfg.Solver = SolverConfig{
		TimeBudget:           parseDuration(v.GetString("SOLVER_TIME_BUDGET"), 60*time.Second),
		CompactnessHard:      v.GetBool("SOLVER_COMPACTNESS_HARD"),
		GapWeight:            v.GetInt("SOLVER_GAP_WEIGHT"),
		GapWeightRelaxed:     v.GetInt("SOLVER_GAP_WEIGHT_RELAXED"),
		BlockBonus:           v.GetInt("SOLVER_BLOCK_BONUS"),
		LateWeight:           v.GetInt("SOLVER_LATE_WEIGHT"),
		LateThreshold:        v.GetInt("SOLVER_LATE_THRESHOLD"),
		DayBalanceWeight:     v.GetInt("SOLVER_DAY_BALANCE_WEIGHT"),
		TargetHoursPerDay:    v.GetInt("SOLVER_TARGET_HOURS_PER_DAY"),
		MaxTeacherViolations: v.GetInt("SOLVER_MAX_TEACHER_VIOLATIONS"),
		SubjectWeight:        v.GetInt("SOLVER_SUBJECT_WEIGHT"),
	}

	cfg.Analyzer = AnalyzerConfig{
		AmplitudeThreshold: v.GetInt("ANALYZER_AMPLITUDE_THRESHOLD"),
		OverloadThreshold:  v.GetInt("ANALYZER_OVERLOAD_THRESHOLD"),
		WeeklyGapDays:      v.GetInt("ANALYZER_WEEKLY_GAP_DAYS"),
		LateThreshold:      v.GetInt("ANALYZER_LATE_THRESHOLD"),
		HighDifficultyTier: v.GetInt("ANALYZER_HIGH_DIFFICULTY_TIER"),
	}

	cfg.Modifications = ModificationsConfig{
		MaxAlternatives: v.GetInt("MODIFICATIONS_MAX_ALTERNATIVES"),
	}

	cfg.Export = ExportConfig{
		Enabled: v.GetBool("ENABLE_EXPORT"),
		Title:   v.GetString("EXPORT_TITLE"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "timetable")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_CONN_MAX_LIFETIME", "1h")
	v.SetDefault("DB_CONN_MAX_IDLE_TIME", "30m")

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_PING_TIMEOUT", "5s")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("CALENDAR_ACTIVE_DAYS", "0,1,2,3,4")
	v.SetDefault("CALENDAR_PERIODS_PER_DAY", 8)
	v.SetDefault("CALENDAR_BREAK_PERIODS", "4")

	v.SetDefault("SOLVER_TIME_BUDGET", "60s")
	v.SetDefault("SOLVER_COMPACTNESS_HARD", false)
	v.SetDefault("SOLVER_GAP_WEIGHT", 8)
	v.SetDefault("SOLVER_GAP_WEIGHT_RELAXED", 16)
	v.SetDefault("SOLVER_BLOCK_BONUS", 2)
	v.SetDefault("SOLVER_LATE_WEIGHT", 3)
	v.SetDefault("SOLVER_LATE_THRESHOLD", 6)
	v.SetDefault("SOLVER_DAY_BALANCE_WEIGHT", 1)
	v.SetDefault("SOLVER_TARGET_HOURS_PER_DAY", 6)
	v.SetDefault("SOLVER_MAX_TEACHER_VIOLATIONS", 2)
	v.SetDefault("SOLVER_SUBJECT_WEIGHT", 10)

	v.SetDefault("ANALYZER_AMPLITUDE_THRESHOLD", 8)
	v.SetDefault("ANALYZER_OVERLOAD_THRESHOLD", 4)
	v.SetDefault("ANALYZER_WEEKLY_GAP_DAYS", 3)
	v.SetDefault("ANALYZER_LATE_THRESHOLD", 6)
	v.SetDefault("ANALYZER_HIGH_DIFFICULTY_TIER", 7)

	v.SetDefault("MODIFICATIONS_MAX_ALTERNATIVES", 5)

	v.SetDefault("ENABLE_EXPORT", true)
	v.SetDefault("EXPORT_TITLE", "Weekly Timetable")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func splitAndTrimInts(raw string) []int {
	var result []int
	for _, part := range splitAndTrim(raw) {
		value, err := strconv.Atoi(part)
		if err != nil || value < 0 {
			continue
		}
		result = append(result, value)
	}
	return result
}
