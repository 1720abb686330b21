package config

import (
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

var (
	globalConfig *Config
	globalMu     sync.RWMutex
)

// SetGlobalConfig 设置全局配置
func SetGlobalConfig(cfg *Config) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalConfig = cfg
}

// GetGlobalConfig 获取全局配置
func GetGlobalConfig() *Config {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalConfig
}

// Config 应用配置
type Config struct {
	Server          ServerConfig          `mapstructure:"server"`
	Database        DatabaseConfig        `mapstructure:"database"`
	Redis           RedisConfig           `mapstructure:"redis"`
	Kafka           KafkaConfig           `mapstructure:"kafka"`
	JWT             JWTConfig             `mapstructure:"jwt"`
	Log             LogConfig             `mapstructure:"log"`
	Minio           MinioConfig           `mapstructure:"minio"`
	Recorder        RecorderConfig        `mapstructure:"recorder"`
	FFmpeg          FFmpegConfig          `mapstructure:"ffmpeg"`
	Worker          WorkerConfig          `mapstructure:"worker"`
	Queue           QueueConfig           `mapstructure:"queue"`
	Quota           QuotaConfig           `mapstructure:"quota"`
	Email           EmailConfig           `mapstructure:"email"`
	ServiceRegistry ServiceRegistryConfig `mapstructure:"service_registry"`
	Public          PublicConfig          `mapstructure:"public"`
	Observability   ObservabilityConfig   `mapstructure:"observability"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// StagingDir holds uploaded spreadsheets and overlay videos until a job consumes them.
	StagingDir string        `mapstructure:"staging_dir"`
	StagingTTL time.Duration `mapstructure:"staging_ttl"`
	MaxWait    time.Duration `mapstructure:"max_wait"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	Charset         string        `mapstructure:"charset"`
	ParseTime       bool          `mapstructure:"parse_time"`
	Loc             string        `mapstructure:"loc"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// RedisConfig Redis配置
type RedisConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	EnableTLS    bool          `mapstructure:"enable_tls"`
}

// ServiceRegistryConfig registration configuration.
type ServiceRegistryConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Endpoints       []string      `mapstructure:"endpoints"`
	DialTimeout     time.Duration `mapstructure:"dial_timeout"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	ServiceName     string        `mapstructure:"service_name"`
	ServiceID       string        `mapstructure:"service_id"`
	RegisterHost    string        `mapstructure:"register_host"`
	TTL             time.Duration `mapstructure:"ttl"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

// MinioConfig MinIO配置
type MinioConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKey       string `mapstructure:"access_key"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	SecretKey       string `mapstructure:"secret_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
	ObjectPrefix    string `mapstructure:"object_prefix"`
	// PublicRead grants anonymous GetObject on ObjectPrefix so emailed links resolve.
	PublicRead bool `mapstructure:"public_read"`
}

// PublicConfig 对外访问配置
type PublicConfig struct {
	StorageBase string `mapstructure:"storage_base"`
}

// RecorderConfig drives the headless Chrome recorder. An empty BrowserPath lets chromedp
// look for Chrome or Chromium on PATH.
type RecorderConfig struct {
	BrowserPath       string        `mapstructure:"browser_path"`
	Width             int           `mapstructure:"width"`
	Height            int           `mapstructure:"height"`
	FPS               int           `mapstructure:"fps"`
	OutputDir         string        `mapstructure:"output_dir"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	Timeout           time.Duration `mapstructure:"timeout"`
	Concurrency       int           `mapstructure:"concurrency"`
}

// FFmpegConfig FFmpeg相关配置
type FFmpegConfig struct {
	BinaryPath  string        `mapstructure:"binary_path"`
	TempDir     string        `mapstructure:"temp_dir"`
	Timeout     time.Duration `mapstructure:"timeout"`
	VideoCodec  string        `mapstructure:"video_codec"`
	VideoPreset string        `mapstructure:"video_preset"`
	AudioCodec  string        `mapstructure:"audio_codec"`
}

// WorkerConfig Worker相关配置
type WorkerConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	WorkerID            string        `mapstructure:"worker_id"`
	Concurrency         int           `mapstructure:"concurrency"`
	PollInterval        time.Duration `mapstructure:"poll_interval"`
	ReclaimInterval     time.Duration `mapstructure:"reclaim_interval"`
	ShutdownGracePeriod time.Duration `mapstructure:"shutdown_grace_period"`
	// BrokerFailureThreshold is the number of consecutive broker errors tolerated before a rebuild.
	BrokerFailureThreshold int  `mapstructure:"broker_failure_threshold"`
	CleanupInputs          bool `mapstructure:"cleanup_inputs"`
}

// QueueConfig 任务队列配置
type QueueConfig struct {
	Name         string        `mapstructure:"name"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
	LockDuration time.Duration `mapstructure:"lock_duration"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	ResultTTL    time.Duration `mapstructure:"result_ttl"`
}

// QuotaConfig 配额配置
type QuotaConfig struct {
	PlanCeilings map[string]int `mapstructure:"plan_ceilings"`
	// EmailTiers maps a days-with-sends threshold to a daily ceiling.
	EmailTiers        []EmailTierConfig `mapstructure:"email_tiers"`
	DefaultEmailLimit int               `mapstructure:"default_email_limit"`
	Timezone          string            `mapstructure:"timezone"`
}

// EmailTierConfig one row of the tenure table.
type EmailTierConfig struct {
	Days  int `mapstructure:"days"`
	Limit int `mapstructure:"limit"`
}

// EmailConfig 邮件发送配置
type EmailConfig struct {
	MinDelay        time.Duration `mapstructure:"min_delay"`
	MaxDelay        time.Duration `mapstructure:"max_delay"`
	SenderName      string        `mapstructure:"sender_name"`
	SubjectTemplate string        `mapstructure:"subject_template"`
	BodyTemplate    string        `mapstructure:"body_template"`
	Google          OAuthConfig   `mapstructure:"google"`
	Microsoft       OAuthConfig   `mapstructure:"microsoft"`
	SMTPTimeout     time.Duration `mapstructure:"smtp_timeout"`
}

// OAuthConfig provider application credentials.
type OAuthConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	Tenant       string `mapstructure:"tenant"`
	APIBase      string `mapstructure:"api_base"`
}

// JWTConfig JWT配置
type JWTConfig struct {
	Secret     string        `mapstructure:"secret"`
	Issuer     string        `mapstructure:"issuer"`
	ExpireTime time.Duration `mapstructure:"expire_time"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	Filename string `mapstructure:"filename"`
}

// ObservabilityConfig 监控配置
type ObservabilityConfig struct {
	MetricsEnabled bool `mapstructure:"metrics_enabled"`
}

// KafkaConfig Kafka配置
type KafkaConfig struct {
	BootstrapServers []string          `mapstructure:"bootstrap_servers"`
	ClientID         string            `mapstructure:"client_id"`
	GroupID          string            `mapstructure:"group_id"`
	Enabled          bool              `mapstructure:"enabled"`
	Topics           KafkaTopicsConfig `mapstructure:"topics"`

	// RetryBackoff and MaxRetryBackoff bound the in-place retry of a submission that failed transiently.
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
	MaxRetryBackoff time.Duration `mapstructure:"max_retry_backoff"`
}

type KafkaTopicsConfig struct {
	JobSubmissions string `mapstructure:"job_submissions"`
	Notifications  string `mapstructure:"notifications"`
}

// Load 加载配置
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	setDefaults(v)

	// 设置环境变量前缀
	v.SetEnvPrefix("OUTREACH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.normalize()

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service_registry.enabled", false)
	v.SetDefault("service_registry.service_name", "outreach-service")
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.client_id", "outreach-service")
	v.SetDefault("kafka.group_id", "outreach-service-group")
	v.SetDefault("kafka.bootstrap_servers", []string{"localhost:29092"})
	v.SetDefault("kafka.topics.job_submissions", "outreach.jobs")
	v.SetDefault("kafka.topics.notifications", "outreach.notifications")
	v.SetDefault("kafka.retry_backoff", "1s")
	v.SetDefault("kafka.max_retry_backoff", "30s")
	v.SetDefault("worker.enabled", true)
	v.SetDefault("worker.cleanup_inputs", true)
	v.SetDefault("observability.metrics_enabled", true)
	v.SetDefault("minio.public_read", true)
}

// normalize 补全配置的默认值
func (c *Config) normalize() {
	if c.Minio.AccessKeyID == "" {
		c.Minio.AccessKeyID = c.Minio.AccessKey
	}
	if c.Minio.SecretAccessKey == "" {
		c.Minio.SecretAccessKey = c.Minio.SecretKey
	}
	if c.Minio.ObjectPrefix == "" {
		c.Minio.ObjectPrefix = "processed_videos"
	}

	if c.Server.Port <= 0 {
		c.Server.Port = 8083
	}
	if c.Server.StagingDir == "" {
		c.Server.StagingDir = "/tmp/outreach/staging"
	}
	if c.Server.StagingTTL <= 0 {
		c.Server.StagingTTL = time.Hour
	}
	if c.Server.MaxWait <= 0 {
		c.Server.MaxWait = 60 * time.Second
	}

	// Worker相关默认值
	if c.Worker.Concurrency <= 0 {
		c.Worker.Concurrency = DefaultWorkerConcurrency()
	}
	if c.Worker.WorkerID == "" {
		c.Worker.WorkerID = "outreach-worker"
	}
	if c.Worker.PollInterval <= 0 {
		c.Worker.PollInterval = time.Second
	}
	if c.Worker.ShutdownGracePeriod <= 0 {
		c.Worker.ShutdownGracePeriod = 5 * time.Second
	}
	if c.Worker.BrokerFailureThreshold <= 0 {
		c.Worker.BrokerFailureThreshold = 5
	}

	if c.Queue.Name == "" {
		c.Queue.Name = "videoProcessing"
	}
	if c.Queue.KeyPrefix == "" {
		c.Queue.KeyPrefix = "outreach:queue:" + c.Queue.Name
	}
	if c.Queue.LockDuration <= 0 {
		c.Queue.LockDuration = 10 * time.Minute
	}
	if c.Queue.MaxAttempts <= 0 {
		c.Queue.MaxAttempts = 2
	}
	if c.Queue.RetryBackoff <= 0 {
		c.Queue.RetryBackoff = 5 * time.Second
	}
	if c.Queue.ResultTTL <= 0 {
		c.Queue.ResultTTL = 24 * time.Hour
	}
	if c.Worker.ReclaimInterval <= 0 {
		c.Worker.ReclaimInterval = c.Queue.LockDuration / 2
	}

	if c.Recorder.Width <= 0 {
		c.Recorder.Width = 1280
	}
	if c.Recorder.Height <= 0 {
		c.Recorder.Height = 720
	}
	if c.Recorder.FPS <= 0 {
		c.Recorder.FPS = 30
	}
	if c.Recorder.OutputDir == "" {
		c.Recorder.OutputDir = "/tmp/outreach/recordings"
	}
	if c.Recorder.NavigationTimeout <= 0 {
		c.Recorder.NavigationTimeout = 45 * time.Second
	}
	if c.Recorder.Timeout <= 0 {
		c.Recorder.Timeout = 3 * time.Minute
	}
	if c.Recorder.Concurrency <= 0 {
		c.Recorder.Concurrency = 2
	}

	// FFmpeg临时目录默认值
	if c.FFmpeg.TempDir == "" {
		c.FFmpeg.TempDir = "/tmp/outreach/merged"
	}
	if c.FFmpeg.BinaryPath == "" {
		c.FFmpeg.BinaryPath = "ffmpeg"
	}
	if c.FFmpeg.VideoCodec == "" {
		c.FFmpeg.VideoCodec = "libx264"
	}
	if c.FFmpeg.VideoPreset == "" {
		c.FFmpeg.VideoPreset = "veryfast"
	}
	if c.FFmpeg.AudioCodec == "" {
		c.FFmpeg.AudioCodec = "aac"
	}
	if c.FFmpeg.Timeout <= 0 {
		c.FFmpeg.Timeout = 10 * time.Minute
	}

	if len(c.Quota.PlanCeilings) == 0 {
		c.Quota.PlanCeilings = map[string]int{"Silver": 2000, "Gold": 5000, "Diamond": 10000}
	}
	if len(c.Quota.EmailTiers) == 0 {
		c.Quota.EmailTiers = []EmailTierConfig{
			{Days: 3, Limit: 30},
			{Days: 7, Limit: 70},
			{Days: 14, Limit: 200},
			{Days: 30, Limit: 500},
			{Days: 60, Limit: 1000},
			{Days: 90, Limit: 2000},
		}
	}
	if c.Quota.DefaultEmailLimit <= 0 {
		c.Quota.DefaultEmailLimit = 500
	}
	if c.Quota.Timezone == "" {
		c.Quota.Timezone = "UTC"
	}

	if c.Email.MinDelay <= 0 {
		c.Email.MinDelay = 5 * time.Second
	}
	if c.Email.MaxDelay < c.Email.MinDelay {
		c.Email.MaxDelay = c.Email.MinDelay + 5*time.Second
	}
	if c.Email.SMTPTimeout <= 0 {
		c.Email.SMTPTimeout = 30 * time.Second
	}
	if c.Email.Microsoft.Tenant == "" {
		c.Email.Microsoft.Tenant = "common"
	}

	if c.JWT.Issuer == "" {
		c.JWT.Issuer = "outreach-service"
	}

	if c.ServiceRegistry.ServiceName == "" {
		c.ServiceRegistry.ServiceName = "outreach-service"
	}
	if c.ServiceRegistry.DialTimeout <= 0 {
		c.ServiceRegistry.DialTimeout = 5 * time.Second
	}
	if c.ServiceRegistry.TTL == 0 {
		c.ServiceRegistry.TTL = 30 * time.Second
	}
	if c.ServiceRegistry.RefreshInterval == 0 {
		c.ServiceRegistry.RefreshInterval = 10 * time.Second
	}
	if len(c.Kafka.BootstrapServers) == 0 {
		c.Kafka.BootstrapServers = []string{"localhost:29092"}
	}
	if c.Kafka.ClientID == "" {
		c.Kafka.ClientID = "outreach-service"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// DefaultWorkerConcurrency is one less than the available CPUs, never below one.
func DefaultWorkerConcurrency() int {
	n := runtime.NumCPU() - 1
	if n < 1 {
		return 1
	}
	return n
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	charset := c.Charset
	if charset == "" {
		charset = "utf8mb4"
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=True&loc=Local",
		c.Username, c.Password, c.Host, c.Port, c.Database, charset)
}

// GetRedisAddr 获取Redis地址
func (c *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetMinioEndpoint 获取MinIO端点
func (c *MinioConfig) GetMinioEndpoint() string {
	return c.Endpoint
}

// Location resolves the configured quota timezone, falling back to UTC.
func (c *QuotaConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
