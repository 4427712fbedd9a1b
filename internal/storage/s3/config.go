package s3

import (
	"time"

	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	awsconfig "github.com/scttfrdmn/cargoship/pkg/aws/config"
)

// Storage classes accepted in Config.StorageClass.
const (
	StorageClassStandard    = "STANDARD"
	StorageClassStandardIA  = "STANDARD_IA"
	StorageClassOneZoneIA   = "ONEZONE_IA"
	StorageClassIntelligent = "INTELLIGENT_TIERING"
)

// Config represents S3 backend configuration
type Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	Prefix          string `yaml:"prefix"`
	ForcePathStyle  bool   `yaml:"force_path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`

	MaxRetries     int           `yaml:"max_retries"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// Payloads at or above MultipartThreshold go through the cargoship
	// transporter when it is enabled.
	EnableTransporter  bool  `yaml:"enable_transporter"`
	MultipartThreshold int64 `yaml:"multipart_threshold"`
	MultipartChunkSize int64 `yaml:"multipart_chunk_size"`
	Concurrency        int   `yaml:"concurrency"`

	StorageClass string `yaml:"storage_class"`

	// TTL is the default entry lifetime when used as a cache tier.
	TTL time.Duration `yaml:"ttl"`
}

// NewDefaultConfig returns a configuration with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Region:             "us-east-1",
		MaxRetries:         3,
		RequestTimeout:     30 * time.Second,
		EnableTransporter:  true,
		MultipartThreshold: 32 << 20,
		MultipartChunkSize: 16 << 20,
		Concurrency:        4,
		StorageClass:       StorageClassStandard,
	}
}

func (c *Config) applyDefaults() {
	def := NewDefaultConfig()
	if c.Region == "" {
		c.Region = def.Region
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	if c.MultipartThreshold <= 0 {
		c.MultipartThreshold = def.MultipartThreshold
	}
	if c.MultipartChunkSize <= 0 {
		c.MultipartChunkSize = def.MultipartChunkSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = def.Concurrency
	}
	if c.StorageClass == "" {
		c.StorageClass = def.StorageClass
	}
}

func toStorageClass(class string) s3types.StorageClass {
	switch class {
	case StorageClassStandardIA:
		return s3types.StorageClassStandardIa
	case StorageClassOneZoneIA:
		return s3types.StorageClassOnezoneIa
	case StorageClassIntelligent:
		return s3types.StorageClassIntelligentTiering
	default:
		return s3types.StorageClassStandard
	}
}

func toCargoShipStorageClass(class string) awsconfig.StorageClass {
	switch class {
	case StorageClassStandardIA:
		return awsconfig.StorageClassStandardIA
	case StorageClassOneZoneIA:
		return awsconfig.StorageClassOneZoneIA
	case StorageClassIntelligent:
		return awsconfig.StorageClassIntelligentTiering
	default:
		return awsconfig.StorageClassStandard
	}
}
