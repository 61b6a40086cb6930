// Package config defines the format-agnostic workflow model produced by the
// file loaders, along with the Loader interface they implement.
//
// The `config.Model` is the single source of truth for the app layer, which
// turns it into task definitions and workflow options. Concrete loaders live
// in separate packages: `hcl` for .hcl files and `yamlconfig` for the
// ordered task-list format in .yaml, .yml and .json files.
package config
