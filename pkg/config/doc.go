// Package config loads softuac settings from a YAML file and the
// environment.
//
// Values are layered: [Default], then the YAML file, then environment
// variables prefixed with SOFTUAC_ (an optional .env file is read first).
// Nested keys join with underscores, so stream.rate is SOFTUAC_STREAM_RATE
// and codec.attempts is SOFTUAC_CODEC_ATTEMPTS.
//
// Example file:
//
//	log:
//	  level: debug
//	  format: json
//	stream:
//	  slots: 8
//	  rate: 48000
//	  governor_interval: 10ms
//	codec:
//	  address: 0x1a
//	  attempts: 3
//	device:
//	  packet_interval: 125us
//	  skew_ppm: 120
//	  arbitration_loss: 0.01
//	metrics:
//	  enabled: true
//	  address: ":9090"
package config
