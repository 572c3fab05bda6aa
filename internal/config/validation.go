package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks the struct tags of cfg and the rules tags cannot
// express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

func validateCustomRules(cfg *Config) error {
	switch cfg.Blocks.Type {
	case "filesystem":
		if cfg.Blocks.Path == "" {
			return fmt.Errorf("blocks.path: required for the filesystem block store")
		}
	case "s3":
		if cfg.Blocks.S3.Endpoint == "" {
			return fmt.Errorf("blocks.s3.endpoint: required for the s3 block store")
		}
		if cfg.Blocks.S3.Bucket == "" {
			return fmt.Errorf("blocks.s3.bucket: required for the s3 block store")
		}
	}

	if cfg.Quotaholder.URL != "" && cfg.Quotaholder.Token == "" {
		return fmt.Errorf("quotaholder.token: required with quotaholder.url")
	}
	return nil
}

// formatValidationError reports the first failed field.
func formatValidationError(err error) error {
	var errs validator.ValidationErrors
	if errors.As(err, &errs) && len(errs) > 0 {
		e := errs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)", e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
