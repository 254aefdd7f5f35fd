// Package config loads the collector configuration from the `collector:`
// section of collector.yaml.
//
// Config fields:
//   - HTTPPort       port for ingestion, the REST API and the hit stream (default 8080)
//   - HitTTL         how long a received hit stays queryable (default 30m)
//   - MaxBatchHits   most hits accepted per /batch request (default 20)
//   - MaxHitBytes    largest accepted single hit (default 8 KiB)
//   - MaxBatchBytes  largest accepted /batch body (default 16 KiB)
//   - StreamInterval broadcast period of /ws/hits (default 5s)
//   - Auth.Mode      "apikey" or "none"
//   - Auth.KeyEnv    environment variable holding the expected API key
//   - Auth.Header    HTTP header carrying the key (default "x-api-key")
//
// Load(path) applies defaults before unmarshalling, then validates.
package config
