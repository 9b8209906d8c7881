// Package config loads the awsrt configuration file.
//
// The file is YAML (awsrt.yaml by default) or CUE. CUE files are checked
// against a closed #Config schema before decoding. Keys left out keep
// their defaults, and AWSRT_DATA_DIR and AWSRT_LOG_LEVEL override the
// file. Validate applies struct-tag rules to the merged result.
//
//	data_dir: ./data
//	fields:
//	  tile_size: 256
//	  compression_level: default
//	runs:
//	  default_horizon: 24
//	  default_step_duration: 1h
//	  default_spread_probability: 0.3
//	policy:
//	  enabled: true
//	  paths: [./policies]
package config
