package storage

import (
	"elvlicense/internal/config"
)

// configWithoutURI returns a Mongo config that skips the connection attempt
func configWithoutURI() config.MongoConfig {
	return config.MongoConfig{
		Database:   "elv_licenses_test",
		Collection: "licenses",
	}
}

func pathsFor(dataDir string) config.PathsConfig {
	return config.PathsConfig{DataDir: dataDir}
}
