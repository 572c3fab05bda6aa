// Package config loads the daemon configuration from a file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full daemon configuration.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`

	// DataDir holds the metadata database and the filesystem block store
	// unless their paths are set explicitly.
	DataDir string `mapstructure:"data_dir" validate:"required"`

	Metadata    MetadataConfig    `mapstructure:"metadata"`
	Blocks      BlocksConfig      `mapstructure:"blocks"`
	Backend     BackendConfig     `mapstructure:"backend"`
	Policy      PolicyConfig      `mapstructure:"policy"`
	Quotaholder QuotaholderConfig `mapstructure:"quotaholder"`
	Server      ServerConfig      `mapstructure:"server"`
	Reconcile   ReconcileConfig   `mapstructure:"reconcile"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR"`
}

type MetadataConfig struct {
	// Path of the SQLite database.
	Path string `mapstructure:"path" validate:"required"`
}

type BlocksConfig struct {
	Type     string   `mapstructure:"type" validate:"required,oneof=filesystem s3"`
	Path     string   `mapstructure:"path"`
	Compress bool     `mapstructure:"compress"`
	S3       S3Config `mapstructure:"s3"`
}

type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Prefix    string `mapstructure:"prefix"`
}

type BackendConfig struct {
	BlockSize         int    `mapstructure:"block_size" validate:"gt=0"`
	HashAlgorithm     string `mapstructure:"hash_algorithm" validate:"required,oneof=sha256 sha1 sha512 md5"`
	FreeVersioning    bool   `mapstructure:"free_versioning"`
	InstanceID        string `mapstructure:"instance_id" validate:"required"`
	PublicURLSecurity int    `mapstructure:"public_url_security" validate:"gte=8"`
	PublicURLAlphabet string `mapstructure:"public_url_alphabet" validate:"required,min=2"`
}

type PolicyConfig struct {
	Account   AccountPolicyConfig   `mapstructure:"account"`
	Container ContainerPolicyConfig `mapstructure:"container"`
}

type AccountPolicyConfig struct {
	// Quota in bytes. Zero is unlimited.
	Quota int64 `mapstructure:"quota" validate:"gte=0"`
}

type ContainerPolicyConfig struct {
	Quota      int64  `mapstructure:"quota" validate:"gte=0"`
	Versioning string `mapstructure:"versioning" validate:"required,oneof=auto none"`
}

// QuotaholderConfig points at an external quotaholder. An empty URL keeps
// account quota local.
type QuotaholderConfig struct {
	URL     string        `mapstructure:"url" validate:"omitempty,url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

type ServerConfig struct {
	Listen          string        `mapstructure:"listen" validate:"required"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	// CertFile and KeyFile enable TLS when both are set.
	CertFile string `mapstructure:"cert_file" validate:"required_with=KeyFile"`
	KeyFile  string `mapstructure:"key_file" validate:"required_with=CertFile"`

	// Admin credentials guard POST /reconcile. It is not served when none
	// are set.
	AdminUser     string `mapstructure:"admin_user" validate:"required_with=AdminPassword"`
	AdminPassword string `mapstructure:"admin_password" validate:"required_with=AdminUser"`
	AdminToken    string `mapstructure:"admin_token"`
}

type ReconcileConfig struct {
	// Interval between commission reconciliations. Zero disables them.
	Interval time.Duration `mapstructure:"interval" validate:"gte=0"`
}

// keys are bound to the environment so that PITHOS_* variables apply even
// when the configuration file does not mention them.
var keys = []string{
	"logging.level",
	"data_dir",
	"metadata.path",
	"blocks.type",
	"blocks.path",
	"blocks.compress",
	"blocks.s3.endpoint",
	"blocks.s3.bucket",
	"blocks.s3.access_key",
	"blocks.s3.secret_key",
	"blocks.s3.use_ssl",
	"blocks.s3.prefix",
	"backend.block_size",
	"backend.hash_algorithm",
	"backend.free_versioning",
	"backend.instance_id",
	"backend.public_url_security",
	"backend.public_url_alphabet",
	"policy.account.quota",
	"policy.container.quota",
	"policy.container.versioning",
	"quotaholder.url",
	"quotaholder.token",
	"quotaholder.timeout",
	"server.listen",
	"server.shutdown_timeout",
	"server.cert_file",
	"server.key_file",
	"server.admin_user",
	"server.admin_password",
	"server.admin_token",
	"reconcile.interval",
}

// Load reads the configuration file at path, applies PITHOS_* environment
// overrides and defaults, and validates the result. A missing file is not
// an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setupViper(v, path)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func setupViper(v *viper.Viper, path string) {
	v.SetEnvPrefix("PITHOS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range keys {
		_ = v.BindEnv(key)
	}
	v.SetDefault("reconcile.interval", DefaultReconcile)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("pithos")
		v.SetConfigType("yaml")
	}
}

func readConfigFile(v *viper.Viper) error {
	err := v.ReadInConfig()

	var notFound viper.ConfigFileNotFoundError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &notFound), errors.Is(err, fs.ErrNotExist):
		return nil
	default:
		return fmt.Errorf("failed to read config file: %w", err)
	}
}
