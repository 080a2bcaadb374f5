package config

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/spf13/viper"

	"video-splitter/constant"
)

type Config struct {
	MinIOBucket string        `yaml:"minio_bucket"`
	App         App           `yaml:"app"`
	DB          *sql.DB       `yaml:"db"`
	Redis       Redis         `yaml:"redis"`
	Queue       Queue         `yaml:"queue"`
	RabbitMQ    *RabbitMQ     `yaml:"rabbitmq"`
	Storage     *minio.Client `yaml:"storage"`
	Server      Server        `yaml:"server"`
	Split       Split         `yaml:"split"`
	Tools       Tools         `yaml:"tools"`
	Tracing     Tracing       `yaml:"tracing"`
}

type App struct {
	Environment string `yaml:"environment"`
	Host        string `yaml:"host"`
	Protocol    string `yaml:"protocol"`
}

type Server struct {
	HttpPort        string        `yaml:"http_port"`
	Workers         int           `yaml:"workers"`
	RateLimit       int           `yaml:"rate_limit"`
	RateWindow      time.Duration `yaml:"rate_window"`
	CorsOrigin      string        `yaml:"cors_origin"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type Queue struct {
	Name          string        `yaml:"name"`
	Prefix        string        `yaml:"prefix"`
	Attempts      int           `yaml:"attempts"`
	Backoff       time.Duration `yaml:"backoff"`
	MaxBackoff    time.Duration `yaml:"max_backoff"`
	LockDuration  time.Duration `yaml:"lock_duration"`
	StalledCheck  time.Duration `yaml:"stalled_check"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	KeepCompleted int           `yaml:"keep_completed"`
	KeepFailed    int           `yaml:"keep_failed"`
	Priority      int           `yaml:"priority"`
	DedupTTL      time.Duration `yaml:"dedup_ttl"`
}

type RabbitMQ struct {
	Enabled      bool   `json:"enabled"`
	Host         string `json:"host"`
	Port         int    `json:"port"`
	User         string `json:"user"`
	Pass         string `json:"pass"`
	ExchangeName string `json:"exchange_name"`
	Kind         string `json:"kind"`
	QueueName    string `json:"queue_name"`
	RoutingKey   string `json:"routing_key"`
	MaxRetries   uint   `json:"max_retries"`
}

type Split struct {
	Durations         []int         `yaml:"durations"`
	MaxSourceDuration int           `yaml:"max_source_duration"`
	UploadDir         string        `yaml:"upload_dir"`
	OutputDir         string        `yaml:"output_dir"`
	CacheTTL          time.Duration `yaml:"cache_ttl"`
	FileRetention     time.Duration `yaml:"file_retention"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
}

type Tools struct {
	FFmpeg          string        `yaml:"ffmpeg"`
	FFmpegThreads   int           `yaml:"ffmpeg_threads"`
	YtDlp           string        `yaml:"ytdlp"`
	MetadataTimeout time.Duration `yaml:"metadata_timeout"`
	DownloadTimeout time.Duration `yaml:"download_timeout"`
}

type Tracing struct {
	Endpoint string `yaml:"endpoint"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", constant.EnvironmentDevelop.String())
	v.SetDefault("app.host", "localhost")
	v.SetDefault("app.protocol", "http")

	v.SetDefault("server.port", "3000")
	v.SetDefault("server.workers", 5)
	v.SetDefault("server.rate_limit", 100)
	v.SetDefault("server.rate_window", time.Minute)
	v.SetDefault("server.cors_origin", "*")
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("queue.name", "video-processing")
	v.SetDefault("queue.prefix", "splitter")
	v.SetDefault("queue.attempts", 3)
	v.SetDefault("queue.backoff", 2*time.Second)
	v.SetDefault("queue.max_backoff", 5*time.Minute)
	v.SetDefault("queue.lock_duration", 30*time.Second)
	v.SetDefault("queue.stalled_check", 30*time.Second)
	v.SetDefault("queue.poll_interval", time.Second)
	v.SetDefault("queue.keep_completed", 100)
	v.SetDefault("queue.keep_failed", 50)
	v.SetDefault("queue.priority", 1)
	v.SetDefault("queue.dedup_ttl", 2*time.Hour)

	v.SetDefault("rabbitmq.enabled", false)
	v.SetDefault("rabbitmq.host", "localhost")
	v.SetDefault("rabbitmq.port", 5672)
	v.SetDefault("rabbitmq.user", "guest")
	v.SetDefault("rabbitmq.pass", "guest")
	v.SetDefault("rabbitmq.exchange_name", "split_events_exchange")
	v.SetDefault("rabbitmq.kind", "topic")
	v.SetDefault("rabbitmq.queue_name", "split_history_queue")
	v.SetDefault("rabbitmq.routing_key", "split.job.#")
	v.SetDefault("rabbitmq.max_retries", 5)

	v.SetDefault("split.durations", constant.DefaultSupportedDurations)
	v.SetDefault("split.max_source_duration", 7200)
	v.SetDefault("split.upload_dir", "./uploads")
	v.SetDefault("split.output_dir", "./output")
	v.SetDefault("split.cache_ttl", 24*time.Hour)
	v.SetDefault("split.file_retention", 7*24*time.Hour)
	v.SetDefault("split.cleanup_interval", 24*time.Hour)

	v.SetDefault("tools.ffmpeg", "ffmpeg")
	v.SetDefault("tools.ffmpeg_threads", 4)
	v.SetDefault("tools.ytdlp", "yt-dlp")
	v.SetDefault("tools.metadata_timeout", time.Minute)
	v.SetDefault("tools.download_timeout", 30*time.Minute)

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("minio.url", "")
	v.SetDefault("minio.bucket", "clips")
	v.SetDefault("tracing.endpoint", "")
}

// Load reads config.yaml from path, when present, on top of the defaults.
// Environment variables override both; REDIS_ADDR maps to redis.addr. A .env
// file in path is loaded into the environment first.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(filepath.Join(path, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	durations, err := parseDurations(v.GetStringSlice("split.durations"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		MinIOBucket: v.GetString("minio.bucket"),
		App: App{
			Environment: v.GetString("app.environment"),
			Host:        v.GetString("app.host"),
			Protocol:    v.GetString("app.protocol"),
		},
		Server: Server{
			HttpPort:        v.GetString("server.port"),
			Workers:         v.GetInt("server.workers"),
			RateLimit:       v.GetInt("server.rate_limit"),
			RateWindow:      v.GetDuration("server.rate_window"),
			CorsOrigin:      v.GetString("server.cors_origin"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
		},
		Redis: Redis{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Queue: Queue{
			Name:          v.GetString("queue.name"),
			Prefix:        v.GetString("queue.prefix"),
			Attempts:      v.GetInt("queue.attempts"),
			Backoff:       v.GetDuration("queue.backoff"),
			MaxBackoff:    v.GetDuration("queue.max_backoff"),
			LockDuration:  v.GetDuration("queue.lock_duration"),
			StalledCheck:  v.GetDuration("queue.stalled_check"),
			PollInterval:  v.GetDuration("queue.poll_interval"),
			KeepCompleted: v.GetInt("queue.keep_completed"),
			KeepFailed:    v.GetInt("queue.keep_failed"),
			Priority:      v.GetInt("queue.priority"),
			DedupTTL:      v.GetDuration("queue.dedup_ttl"),
		},
		RabbitMQ: &RabbitMQ{
			Enabled:      v.GetBool("rabbitmq.enabled"),
			Host:         v.GetString("rabbitmq.host"),
			Port:         v.GetInt("rabbitmq.port"),
			User:         v.GetString("rabbitmq.user"),
			Pass:         v.GetString("rabbitmq.pass"),
			ExchangeName: v.GetString("rabbitmq.exchange_name"),
			Kind:         v.GetString("rabbitmq.kind"),
			QueueName:    v.GetString("rabbitmq.queue_name"),
			RoutingKey:   v.GetString("rabbitmq.routing_key"),
			MaxRetries:   v.GetUint("rabbitmq.max_retries"),
		},
		Split: Split{
			Durations:         durations,
			MaxSourceDuration: v.GetInt("split.max_source_duration"),
			UploadDir:         v.GetString("split.upload_dir"),
			OutputDir:         v.GetString("split.output_dir"),
			CacheTTL:          v.GetDuration("split.cache_ttl"),
			FileRetention:     v.GetDuration("split.file_retention"),
			CleanupInterval:   v.GetDuration("split.cleanup_interval"),
		},
		Tools: Tools{
			FFmpeg:          v.GetString("tools.ffmpeg"),
			FFmpegThreads:   v.GetInt("tools.ffmpeg_threads"),
			YtDlp:           v.GetString("tools.ytdlp"),
			MetadataTimeout: v.GetDuration("tools.metadata_timeout"),
			DownloadTimeout: v.GetDuration("tools.download_timeout"),
		},
		Tracing: Tracing{
			Endpoint: v.GetString("tracing.endpoint"),
		},
	}

	if dsn := v.GetString("postgres.dsn"); dsn != "" {
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, err
		}
		cfg.DB = db
	}

	if url := v.GetString("minio.url"); url != "" {
		minioClient, err := minio.New(url, &minio.Options{
			Creds:  credentials.NewStaticV4(v.GetString("minio.access_id"), v.GetString("minio.secret_access_key"), ""),
			Secure: v.GetBool("minio.secure"),
		})
		if err != nil {
			return nil, err
		}
		cfg.Storage = minioClient
	}

	return cfg, nil
}

// parseDurations accepts both list values and a single comma separated
// string such as "30,45,60".
func parseDurations(raw []string) ([]int, error) {
	var out []int
	for _, item := range raw {
		for _, field := range strings.Split(item, ",") {
			field = strings.TrimSpace(field)
			if field == "" {
				continue
			}
			n, err := strconv.Atoi(field)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("invalid split duration %q", field)
			}
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		return constant.DefaultSupportedDurations, nil
	}
	return out, nil
}
