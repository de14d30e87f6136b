package main

import (
	"os"

	"sigs.k8s.io/yaml"
)

// fileConfig is the optional YAML config file shape loaded
// by -config. Every field is optional; a zero value leaves
// the corresponding default (or environment override)
// untouched.
type fileConfig struct {
	StorageDir     string `json:"storage_dir"`
	Port           int    `json:"port"`
	WorkerPoolSize int    `json:"worker_pool_size"`
}

func loadConfigFile(path string) (fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, err
	}
	var c fileConfig
	if err := yaml.Unmarshal(data, &c); err != nil {
		return fileConfig{}, err
	}
	return c, nil
}
