// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package conf

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// Default locations of the configuration files when running in a container.
const (
	DefaultConfigPath  = "/etc/config/conf.json"
	DefaultSecretsPath = "/etc/secrets/secrets.json"
)

// Load a configuration from the given files.
//
// The base config is read from confPath, then the optional secrets file is
// read from secretsPath. The values read from the secrets file override the
// values in the base config. Both files may be JSON or YAML.
func Load[C any](confPath, secretsPath string) (C, error) {
	var c C
	// Note: We need to read the config as a raw map first, to avoid golang
	// unmarshalling default values for the fields.
	baseConf, err := readRawConfig(confPath)
	if err != nil {
		return c, fmt.Errorf("failed to read config %s: %w", confPath, err)
	}
	secretConf := map[string]any{}
	if secretsPath != "" {
		secretConf, err = readRawConfig(secretsPath)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			// Secrets are optional, e.g. when the config is self-contained.
			secretConf = map[string]any{}
		case err != nil:
			return c, fmt.Errorf("failed to read secrets %s: %w", secretsPath, err)
		}
	}
	return newConfigFromMaps[C](baseConf, secretConf)
}

func newConfigFromMaps[C any](base, override map[string]any) (C, error) {
	var c C
	// Merge the base config with the override config.
	mergedConf := mergeMaps(base, override)
	// Marshal again, and then unmarshal into the config struct.
	mergedBytes, err := json.Marshal(mergedConf)
	if err != nil {
		return c, err
	}
	if err := json.Unmarshal(mergedBytes, &c); err != nil {
		return c, err
	}
	return c, nil
}

// Read the config as a map from the given file path.
func readRawConfig(filepath string) (map[string]any, error) {
	file, err := os.Open(filepath)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	bytes, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}
	return readRawConfigFromBytes(bytes)
}

// JSON is valid YAML, so both formats are parsed by the yaml decoder.
func readRawConfigFromBytes(data []byte) (map[string]any, error) {
	var conf map[string]any
	if err := yaml.Unmarshal(data, &conf); err != nil {
		return nil, err
	}
	if conf == nil {
		conf = map[string]any{}
	}
	return conf, nil
}

// mergeMaps recursively overrides dst with src (in-place)
func mergeMaps(dst, src map[string]any) map[string]any {
	result := dst
	for k, v := range src {
		if v == nil {
			// If src value is nil, skip override
			continue
		}
		if dstVal, ok := dst[k]; ok {
			// If both are maps, merge recursively
			dstMap, dstIsMap := dstVal.(map[string]any)
			srcMap, srcIsMap := v.(map[string]any)
			if dstIsMap && srcIsMap {
				result[k] = mergeMaps(dstMap, srcMap)
				continue
			}
		}
		// Otherwise, override
		result[k] = v
	}
	return result
}
