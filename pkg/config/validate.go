package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration for structural errors.
func Validate(cfg *Config) error {
	validate := validator.New()

	if err := validate.Struct(cfg); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range errs {
				return fmt.Errorf("invalid config field %s: failed %q validation", fe.Namespace(), fe.Tag())
			}
		}
		return err
	}

	if cfg.Database.Type == DatabasePostgres {
		if cfg.Database.Host == "" {
			return fmt.Errorf("postgres host is required")
		}
		if cfg.Database.Name == "" {
			return fmt.Errorf("postgres database name is required")
		}
		if cfg.Database.User == "" {
			return fmt.Errorf("postgres user is required")
		}
	}

	if cfg.Storage.HotPath == cfg.Storage.ColdPath {
		return fmt.Errorf("hot and cold storage paths must differ")
	}

	if cfg.Upload.ChunkSize == 0 {
		return fmt.Errorf("upload chunk size must be positive")
	}

	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth jwt_secret is required")
	}

	return nil
}
