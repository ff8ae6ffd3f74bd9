// Package catalog loads and validates the shop catalog declaration.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/and161185/streakkeeper/internal/errs"
	"github.com/and161185/streakkeeper/internal/model"
)

//go:embed default.yaml
var defaultYAML []byte

type file struct {
	Items []model.ShopItem `yaml:"items"`
}

var validate = validator.New()

// Default returns the built-in catalog.
func Default() ([]model.ShopItem, error) {
	return Parse(defaultYAML)
}

// Load reads a catalog file; an empty path yields the built-in catalog.
func Load(path string) ([]model.ShopItem, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a catalog document.
func Parse(data []byte) ([]model.ShopItem, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: parsing catalog: %v", errs.ErrInvalidArgument, err)
	}
	if len(f.Items) == 0 {
		return nil, fmt.Errorf("%w: catalog has no items", errs.ErrInvalidArgument)
	}

	seen := make(map[string]struct{}, len(f.Items))
	for i, it := range f.Items {
		if err := validate.Struct(it); err != nil {
			return nil, fmt.Errorf("%w: item[%d] %q: %s", errs.ErrInvalidArgument, i, it.ID, describe(err))
		}
		if _, dup := seen[it.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate item id %q", errs.ErrInvalidArgument, it.ID)
		}
		seen[it.ID] = struct{}{}
	}
	return f.Items, nil
}

func describe(err error) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) || len(ve) == 0 {
		return err.Error()
	}
	fe := ve[0]
	if fe.Param() != "" {
		return fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
}
