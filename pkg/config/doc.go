// Package config loads typed configuration structs from environment
// variables, with an optional .env file for local development.
//
// It wraps github.com/joho/godotenv and github.com/caarlos0/env/v11: annotate
// a struct with env tags, call Load, and the parsed value is cached per type
// for the lifetime of the process so every component sees the same settings.
//
//	type MongoConfig struct {
//	    URL string `env:"MONGODB_URL,required"`
//	}
//
//	var cfg MongoConfig
//	config.MustLoad(&cfg)
package config
