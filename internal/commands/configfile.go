package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/vitaminmoo/esplink/internal/config"
)

// ShowConfig prints the effective configuration as YAML.
func ShowConfig(cfg *config.Config, out io.Writer) error {
	data, err := cfg.YAML()
	if err != nil {
		return err
	}
	_, err = out.Write(data)
	return err
}

// InitConfig writes the built-in defaults to path, or to the default
// location when path is empty. An existing file is only replaced after
// confirm returns true.
func InitConfig(path string, out io.Writer, confirm func(prompt string) bool) error {
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return err
		}
		path = p
	}

	if _, err := os.Stat(path); err == nil {
		if confirm == nil || !confirm(fmt.Sprintf("%s exists. Type 'yes' to overwrite: ", path)) {
			return errors.New("aborted")
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to check %s: %w", path, err)
	}

	data, err := config.Defaults().YAML()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	fmt.Fprintf(out, "Wrote %s\n", path)
	return nil
}
