package dconfig

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gordian-engine/dflow"
	"github.com/spf13/viper"
)

// Publisher is the file representation of a [dflow.PublisherConfig].
// Tracer and meter providers are not file-configurable.
type Publisher struct {
	Name              string
	MaxBufferCapacity int    `validate:"gte=0"`
	Saturation        string `validate:"omitempty,oneof=block fail"`
}

// Processor is the file representation of a [dflow.ProcessorConfig].
type Processor struct {
	Publisher     Publisher
	UpstreamBatch int64 `validate:"gte=0"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// NewViper returns a viper instance that reads env overrides
// with the given prefix (which may be empty).
func NewViper(envPrefix string) *viper.Viper {
	v := viper.New()
	if envPrefix != "" {
		v.SetEnvPrefix(envPrefix)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadPublisherConfig reads the publisher section under key
// and converts it to a [dflow.PublisherConfig].
func LoadPublisherConfig(v *viper.Viper, key string) (dflow.PublisherConfig, error) {
	return readPublisher(v, key).PublisherConfig()
}

// LoadProcessorConfig reads the processor section under key
// and converts it to a [dflow.ProcessorConfig].
// The downstream publisher settings are under key.publisher.
func LoadProcessorConfig(v *viper.Viper, key string) (dflow.ProcessorConfig, error) {
	p := Processor{
		Publisher:     readPublisher(v, key+".publisher"),
		UpstreamBatch: v.GetInt64(key + ".upstream_batch"),
	}

	if err := validate.Struct(p); err != nil {
		return dflow.ProcessorConfig{}, fmt.Errorf("invalid processor config %q: %w", key, err)
	}

	pub, err := p.Publisher.PublisherConfig()
	if err != nil {
		return dflow.ProcessorConfig{}, err
	}

	return dflow.ProcessorConfig{
		Publisher:     pub,
		UpstreamBatch: p.UpstreamBatch,
	}, nil
}

// readPublisher reads leaf keys individually,
// because only per-key lookups consult environment overrides;
// decoding a whole section would return the file values alone.
func readPublisher(v *viper.Viper, key string) Publisher {
	return Publisher{
		Name:              v.GetString(key + ".name"),
		MaxBufferCapacity: v.GetInt(key + ".max_buffer_capacity"),
		Saturation:        v.GetString(key + ".saturation"),
	}
}

// PublisherConfig validates p and converts it.
func (p Publisher) PublisherConfig() (dflow.PublisherConfig, error) {
	if err := validate.Struct(p); err != nil {
		return dflow.PublisherConfig{}, fmt.Errorf("invalid publisher config: %w", err)
	}

	pol, err := ParseSaturationPolicy(p.Saturation)
	if err != nil {
		return dflow.PublisherConfig{}, err
	}

	return dflow.PublisherConfig{
		Name:              p.Name,
		MaxBufferCapacity: p.MaxBufferCapacity,
		Saturation:        pol,
	}, nil
}

// ParseSaturationPolicy parses the output of [dflow.SaturationPolicy.String].
// The empty string is the default, [dflow.BlockOnSaturation].
func ParseSaturationPolicy(s string) (dflow.SaturationPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "block":
		return dflow.BlockOnSaturation, nil
	case "fail":
		return dflow.FailOnSaturation, nil
	default:
		return 0, fmt.Errorf("unknown saturation policy %q", s)
	}
}
