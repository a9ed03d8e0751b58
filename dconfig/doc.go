// Package dconfig loads [dflow.PublisherConfig] and [dflow.ProcessorConfig]
// values from configuration files and the environment, using viper.
//
// A publisher section looks like:
//
//	publisher:
//	  name: orders
//	  max_buffer_capacity: 512
//	  saturation: fail
//
// Environment variables override file values,
// using the upper-cased key path with dots replaced by underscores
// and an optional prefix, e.g. DFLOW_PUBLISHER_SATURATION=block.
package dconfig
