package config

import (
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	Audio     AudioConfig
	Whisper   WhisperConfig
	Worker    WorkerConfig
}

type ServerConfig struct {
	Port      string
	Env       string
	LogLevel  string
	BodyLimit int // max accepted upload payload, bytes
	ApiDomain string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type RateLimitConfig struct {
	TranscribePerHour int
}

type AudioConfig struct {
	SampleRate  int
	Channels    int
	MaxBytes    int // in-memory waveform ceiling
	FFmpegPath  string
	FFprobePath string
	TempDir     string
}

type WhisperConfig struct {
	Model       string
	Device      string
	ComputeType string
	PythonPath  string
}

type WorkerConfig struct {
	Concurrency       int
	JobRetentionHours int
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("server.body_limit_mb", "MAX_FORM_MB")
	_ = viper.BindEnv("server.api_domain", "API_DOMAIN")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("ratelimit.transcribe_per_hour", "TRANSCRIBE_PER_HOUR")
	_ = viper.BindEnv("audio.sample_rate", "AUDIO_SAMPLE_RATE")
	_ = viper.BindEnv("audio.channels", "AUDIO_CHANNELS")
	_ = viper.BindEnv("audio.max_mb", "MAX_AUDIO_MB")
	_ = viper.BindEnv("audio.ffmpeg_path", "FFMPEG_PATH")
	_ = viper.BindEnv("audio.ffprobe_path", "FFPROBE_PATH")
	_ = viper.BindEnv("audio.temp_dir", "AUDIO_TEMP_DIR")
	_ = viper.BindEnv("whisper.model", "WHISPER_MODEL")
	_ = viper.BindEnv("whisper.device", "WHISPER_DEVICE")
	_ = viper.BindEnv("whisper.compute_type", "WHISPER_COMPUTE_TYPE")
	_ = viper.BindEnv("whisper.python_path", "WHISPER_PYTHON")
	_ = viper.BindEnv("worker.concurrency", "WORKER_CONCURRENCY")
	_ = viper.BindEnv("worker.job_retention_hours", "JOB_RETENTION_HOURS")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("server.body_limit_mb", 200)
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("ratelimit.transcribe_per_hour", 50)

	// Waveform defaults: 16 kHz mono PCM16 is what the recognizer expects
	viper.SetDefault("audio.sample_rate", 16000)
	viper.SetDefault("audio.channels", 1)
	viper.SetDefault("audio.max_mb", 1024)
	viper.SetDefault("audio.ffmpeg_path", "ffmpeg")
	viper.SetDefault("audio.ffprobe_path", "ffprobe")
	viper.SetDefault("audio.temp_dir", "")

	// Whisper defaults
	viper.SetDefault("whisper.model", "large-v3")
	viper.SetDefault("whisper.device", "auto")
	viper.SetDefault("whisper.compute_type", "default")
	viper.SetDefault("whisper.python_path", "python3")

	// Worker defaults
	viper.SetDefault("worker.concurrency", 10)
	viper.SetDefault("worker.job_retention_hours", 24)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:      viper.GetString("server.port"),
			Env:       viper.GetString("server.env"),
			LogLevel:  viper.GetString("server.log_level"),
			BodyLimit: viper.GetInt("server.body_limit_mb") * 1024 * 1024,
			ApiDomain: viper.GetString("server.api_domain"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		RateLimit: RateLimitConfig{
			TranscribePerHour: viper.GetInt("ratelimit.transcribe_per_hour"),
		},
		Audio: AudioConfig{
			SampleRate:  viper.GetInt("audio.sample_rate"),
			Channels:    viper.GetInt("audio.channels"),
			MaxBytes:    viper.GetInt("audio.max_mb") * 1024 * 1024,
			FFmpegPath:  viper.GetString("audio.ffmpeg_path"),
			FFprobePath: viper.GetString("audio.ffprobe_path"),
			TempDir:     viper.GetString("audio.temp_dir"),
		},
		Whisper: WhisperConfig{
			Model:       viper.GetString("whisper.model"),
			Device:      viper.GetString("whisper.device"),
			ComputeType: viper.GetString("whisper.compute_type"),
			PythonPath:  viper.GetString("whisper.python_path"),
		},
		Worker: WorkerConfig{
			Concurrency:       viper.GetInt("worker.concurrency"),
			JobRetentionHours: viper.GetInt("worker.job_retention_hours"),
		},
	}

	return cfg, nil
}
