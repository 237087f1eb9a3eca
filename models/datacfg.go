package models

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ErrMissingNames is returned when a data configuration names no class list.
var ErrMissingNames = errors.New("class-name list not defined in data configuration")

// DataConfig is the darknet-style data file that accompanies a network:
//
//	classes = 12
//	names = data/robot.names
type DataConfig struct {
	// Classes is the number of classes the network was trained on.
	Classes int
	// Names holds one label per class, in class index order.
	Names []string
}

// LoadDataConfig reads a data configuration and the class-name list it refers to.
//
// Arguments:
//   - path: Path to the data configuration file.
//
// Returns:
//   - *DataConfig: The parsed configuration.
//   - error: ErrMissingNames when no "names" key is present, or a read error.
func LoadDataConfig(path string) (*DataConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open data configuration")
	}
	defer f.Close()

	options := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		options[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "read data configuration")
	}

	cfg := &DataConfig{Classes: 20}
	if v, ok := options["classes"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, errors.Errorf("invalid classes value %q", v)
		}
		cfg.Classes = n
	}

	namesPath, ok := options["names"]
	if !ok || namesPath == "" {
		return nil, ErrMissingNames
	}
	if !filepath.IsAbs(namesPath) {
		if _, err := os.Stat(namesPath); err != nil {
			namesPath = filepath.Join(filepath.Dir(path), namesPath)
		}
	}

	cfg.Names, err = LoadNames(namesPath)
	if err != nil {
		return nil, err
	}
	if len(cfg.Names) < cfg.Classes {
		return nil, errors.Errorf("class-name list %s has %d names, need %d",
			namesPath, len(cfg.Names), cfg.Classes)
	}
	cfg.Names = cfg.Names[:cfg.Classes]

	return cfg, nil
}

// LoadNames reads one class label per line, skipping blank lines.
func LoadNames(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read class-name list")
	}

	var names []string
	for _, line := range strings.Split(string(data), "\n") {
		if name := strings.TrimSpace(line); name != "" {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil, errors.Wrapf(ErrMissingNames, "%s is empty", path)
	}
	return names, nil
}
