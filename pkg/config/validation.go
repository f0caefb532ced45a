package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	cdsterrors "github.com/pathdx/cdst-go/pkg/errors"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// getValidator returns the singleton validator instance.
func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// Validate checks structural constraints via struct tags plus the
// cross-field constraints the tags cannot express.
func (c *Config) Validate() error {
	if err := getValidator().Struct(c); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok {
			var parts []string
			for _, fe := range errs {
				parts = append(parts, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return cdsterrors.New(cdsterrors.ValidationFailed, "invalid configuration: "+strings.Join(parts, "; "))
		}
		return cdsterrors.Wrap(err, cdsterrors.ValidationFailed, "invalid configuration")
	}

	if !weightsSumOK(c.Optimization.Weights) {
		return cdsterrors.New(cdsterrors.ValidationFailed, "objective weights must sum to 1")
	}

	return nil
}
