package config

import "errors"

var (
	errConfigFileNotFound = errors.New("config file not found")
	errConfigFileRead     = errors.New("cannot read config file")
	errConfigInvalid      = errors.New("invalid config file")
	errDataDirEmpty       = errors.New("data_dir cannot be empty")
	errInvalidCompression = errors.New("compression must be \"zstd\" or \"none\"")
	errInvalidSlabBounds  = errors.New("slab_min_size must be nonzero and slab_max_size must be >= slab_min_size")
)
