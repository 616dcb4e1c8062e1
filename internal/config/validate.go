// FeedSpine - Feed Capture and Deduplication Framework
// Copyright 2026 FeedSpine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedspine/feedspine

package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/feedspine/feedspine/internal/model"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks tag constraints and cross-field rules the tags cannot
// express. All failures are reported as ErrConfig.
func (c *Config) Validate() error {
	if err := validatorInstance().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: invalid fields: %s", model.ErrConfig, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", model.ErrConfig, err)
	}

	if c.Database.Backend == "duckdb" && c.Database.Path == "" {
		return fmt.Errorf("%w: database.path required for duckdb backend", model.ErrConfig)
	}
	if (c.Checkpoints.Backend == "file" || c.Checkpoints.Backend == "badger") && c.Checkpoints.Path == "" {
		return fmt.Errorf("%w: checkpoints.path required for %s backend", model.ErrConfig, c.Checkpoints.Backend)
	}

	seen := make(map[string]bool)
	for _, name := range c.feedNames() {
		if name == "" {
			return fmt.Errorf("%w: feed with empty name", model.ErrConfig)
		}
		if seen[name] {
			return fmt.Errorf("%w: duplicate feed name %q", model.ErrConfig, name)
		}
		seen[name] = true
	}
	return nil
}

// feedNames collects names across all adapter kinds.
func (c *Config) feedNames() []string {
	var names []string
	for _, f := range c.Feeds.RSS {
		names = append(names, f.Name)
	}
	for _, f := range c.Feeds.JSONAPI {
		names = append(names, f.Name)
	}
	for _, f := range c.Feeds.Dir {
		names = append(names, f.Name)
	}
	return names
}
