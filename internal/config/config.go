package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"15m"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	AuthToken   string   `env:"AUTH_TOKEN"`
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:","`
	LogLevel    string   `env:"LOG_LEVEL" envDefault:"info"`

	UploadsDir  string `env:"UPLOADS_DIR" envDefault:"./data/uploads"`
	OutputsDir  string `env:"OUTPUTS_DIR" envDefault:"./data/outputs"`
	WorkDir     string `env:"WORK_DIR" envDefault:"./data/work"`
	ModelsDir   string `env:"MODELS_DIR" envDefault:"./models"`
	MaxUploadMB int64  `env:"MAX_UPLOAD_MB" envDefault:"500"`

	// Comma-separated, lower case, with leading dots.
	AllowedUploadExtensions string `env:"ALLOWED_UPLOAD_EXTENSIONS" envDefault:".mp4,.mov,.mkv,.webm,.avi,.mp3,.wav,.m4a,.flac,.ogg"`

	DefaultSrcLang string `env:"DEFAULT_SRC_LANG" envDefault:"en"`
	DefaultDstLang string `env:"DEFAULT_DST_LANG" envDefault:"pt"`
	SampleRate     int    `env:"SAMPLE_RATE" envDefault:"16000"`
	FFmpegBinary   string `env:"FFMPEG_BINARY" envDefault:"ffmpeg"`

	// Speech recognition
	ASRProvider      string        `env:"ASR_PROVIDER" envDefault:"whisper"`
	WhisperURL       string        `env:"WHISPER_URL" envDefault:"http://localhost:8000/v1/audio/transcriptions"`
	WhisperModel     string        `env:"WHISPER_MODEL" envDefault:"base"`
	WhisperTimeout   time.Duration `env:"WHISPER_TIMEOUT" envDefault:"5m"`
	OpenAIAPIKey     string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL    string        `env:"OPENAI_BASE_URL"`
	ASRModel         string        `env:"ASR_MODEL"`
	ElevenLabsAPIKey string        `env:"ELEVENLABS_API_KEY"`

	// Translation
	TranslationBackend string `env:"TRANSLATION_BACKEND" envDefault:"dictionary"`
	TranslationModel   string `env:"TRANSLATION_MODEL"`

	// Speech synthesis
	TTSBackend        string        `env:"TTS_BACKEND" envDefault:"tone"`
	TTSModel          string        `env:"TTS_MODEL"`
	TTSVoice          string        `env:"TTS_VOICE"`
	TTSTimeout        time.Duration `env:"TTS_TIMEOUT" envDefault:"60s"`
	ElevenLabsVoiceID string        `env:"ELEVENLABS_VOICE_ID"`
	ElevenLabsModel   string        `env:"ELEVENLABS_MODEL"`

	// Voice matching
	VoiceCloneMode     string  `env:"VOICE_CLONE_MODE" envDefault:"spectral"`
	PitchStrength      float64 `env:"VOICE_CLONE_PITCH_STRENGTH" envDefault:"0.6"`
	FormantStrength    float64 `env:"VOICE_CLONE_FORMANT_STRENGTH" envDefault:"0.5"`
	OpenVoiceModelsDir string  `env:"OPENVOICE_MODELS_DIR"`
	OpenVoiceCLI       string  `env:"OPENVOICE_CLI" envDefault:"openvoice"`

	// Background execution
	PipelineWorkers   int `env:"PIPELINE_WORKERS" envDefault:"2"`
	PipelineQueueSize int `env:"PIPELINE_QUEUE_SIZE" envDefault:"32"`

	// Optional integrations; empty disables each one.
	DatabaseURL           string `env:"DATABASE_URL"`
	MQTTBrokerURL         string `env:"MQTT_BROKER_URL"`
	MQTTClientID          string `env:"MQTT_CLIENT_ID" envDefault:"dubby"`
	MQTTRequestTopic      string `env:"MQTT_REQUEST_TOPIC" envDefault:"dubby/jobs/request"`
	MQTTStatusTopic       string `env:"MQTT_STATUS_TOPIC" envDefault:"dubby/jobs/status"`
	MQTTUsername          string `env:"MQTT_USERNAME"`
	MQTTPassword          string `env:"MQTT_PASSWORD"`
	MQTTAvailabilityTopic string `env:"MQTT_AVAILABILITY_TOPIC" envDefault:"dubby/availability"`
	AMQPURL               string `env:"AMQP_URL"`
	AMQPQueue             string `env:"AMQP_QUEUE" envDefault:"dubby.jobs"`
	WatchDir              string `env:"WATCH_DIR"`

	S3 S3Config
}

// S3Config configures the optional S3-compatible artifact archive.
type S3Config struct {
	Bucket        string        `env:"S3_BUCKET"`
	Endpoint      string        `env:"S3_ENDPOINT"`
	Region        string        `env:"S3_REGION" envDefault:"us-east-1"`
	AccessKey     string        `env:"S3_ACCESS_KEY"`
	SecretKey     string        `env:"S3_SECRET_KEY"`
	Prefix        string        `env:"S3_PREFIX"`
	PresignExpiry time.Duration `env:"S3_PRESIGN_EXPIRY" envDefault:"1h"`

	// Outputs stay on disk; the bucket holds a backup copy. Retention and
	// size cap evict local copies already in the bucket.
	CacheRetention time.Duration `env:"S3_CACHE_RETENTION"`
	CacheMaxGB     int           `env:"S3_CACHE_MAX_GB"`
	AsyncUpload    bool          `env:"S3_ASYNC_UPLOAD" envDefault:"false"`
}

// Enabled reports whether an S3 bucket is configured.
func (c S3Config) Enabled() bool { return c.Bucket != "" }

// UploadExtensions returns the allowed upload extensions as a set.
func (c *Config) UploadExtensions() map[string]bool {
	exts := make(map[string]bool)
	for _, e := range strings.Split(c.AllowedUploadExtensions, ",") {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts[e] = true
	}
	return exts
}

// MaxUploadBytes returns the upload limit in bytes.
func (c *Config) MaxUploadBytes() int64 { return c.MaxUploadMB << 20 }

// Overrides are command-line flag values. A non-empty field replaces the
// environment value.
type Overrides struct {
	EnvFile       string
	HTTPAddr      string
	LogLevel      string
	DatabaseURL   string
	MQTTBrokerURL string
	OutputsDir    string
	VoiceClone    string
}

func (o Overrides) apply(cfg *Config) {
	for _, f := range []struct {
		dst *string
		val string
	}{
		{&cfg.HTTPAddr, o.HTTPAddr},
		{&cfg.LogLevel, o.LogLevel},
		{&cfg.DatabaseURL, o.DatabaseURL},
		{&cfg.MQTTBrokerURL, o.MQTTBrokerURL},
		{&cfg.OutputsDir, o.OutputsDir},
		{&cfg.VoiceCloneMode, o.VoiceClone},
	} {
		if f.val != "" {
			*f.dst = f.val
		}
	}
}

// Load resolves the configuration. Flags win over the process environment,
// which wins over the env file (".env" unless o.EnvFile names another),
// which wins over the envDefault tags.
func Load(o Overrides) (*Config, error) {
	envFile := o.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("read %s: %w", envFile, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	o.apply(&cfg)

	cfg.PitchStrength = clamp01(cfg.PitchStrength)
	cfg.FormantStrength = clamp01(cfg.FormantStrength)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("SAMPLE_RATE must be positive, got %d", c.SampleRate)
	}
	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("MAX_UPLOAD_MB must be positive, got %d", c.MaxUploadMB)
	}
	return nil
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
