package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Limits applied to configuration files before they are decoded
const (
	maxConfigSize = 1 << 20
	maxJSONDepth  = 32
)

// readConfigFile reads a JSON or YAML configuration file. Only regular
// files under maxConfigSize are accepted.
func readConfigFile(path string) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("unsupported config file type %q, want .json, .yaml or .yml", filepath.Ext(path))
	}

	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", path)
	}
	if info.Size() > maxConfigSize {
		return nil, fmt.Errorf("config file is %d bytes, limit is %d", info.Size(), maxConfigSize)
	}

	// The limit also covers files that grow after Stat
	data, err := io.ReadAll(io.LimitReader(f, maxConfigSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxConfigSize {
		return nil, fmt.Errorf("config file exceeds %d bytes", maxConfigSize)
	}
	return data, nil
}

// checkJSONDepth rejects documents nested deeper than maxJSONDepth
func checkJSONDepth(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	depth := 0
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		delim, ok := tok.(json.Delim)
		if !ok {
			continue
		}
		switch delim {
		case '{', '[':
			depth++
			if depth > maxJSONDepth {
				return fmt.Errorf("nesting depth exceeds %d", maxJSONDepth)
			}
		case '}', ']':
			depth--
		}
	}
}
