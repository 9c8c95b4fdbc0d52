package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v2"
)

var cfgStore Store

type Store struct {
	LogLevel    string `json:"log_level" toml:"log_level" yaml:"log_level"`
	LogFileName string `json:"log_filename" toml:"log_filename" yaml:"log_filename"`

	Driver            string `json:"driver" toml:"driver" yaml:"driver"`
	StorageConnString string `json:"storage_connstring" toml:"storage_connstring" yaml:"storage_connstring"`
	Table             string `json:"table" toml:"table" yaml:"table"`
}

func initStoreConfig(file *os.File, filepath string) error {
	if strings.HasSuffix(filepath, ".toml") {
		_, err := toml.NewDecoder(file).Decode(&cfgStore)
		return err
	}
	if strings.HasSuffix(filepath, ".yaml") {
		return yaml.NewDecoder(file).Decode(&cfgStore)
	}
	if strings.HasSuffix(filepath, ".json") {
		return json.NewDecoder(file).Decode(&cfgStore)
	}
	return fmt.Errorf("unknown config format type: %s. Use .toml, .yaml or .json suffix in filename", filepath)
}

func LoadStoreCfg(cfgPath string) (string, error) {
	file, err := os.Open(cfgPath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	if err := initStoreConfig(file, cfgPath); err != nil {
		return "", err
	}

	configBytes, err := json.MarshalIndent(&cfgStore, "", "  ")
	if err != nil {
		return "", err
	}

	return string(configBytes), nil
}

func StoreConfig() *Store {
	return &cfgStore
}
