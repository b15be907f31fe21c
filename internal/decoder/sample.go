package decoder

import (
	"errors"
	"maps"
)

// Sample maps channel keys to decoded values from one fetch.
type Sample map[string]float64

func (s Sample) Clone() Sample {
	return maps.Clone(s)
}

// Decode applies every compiled channel to payload. Channels whose bytes fall
// outside the payload read as 0 and are reported in the joined error.
// Time placeholders are not part of the sample.
func (t *Tables) Decode(payload []byte) (Sample, error) {
	out := make(Sample, len(t.Channels))
	var errs []error
	for _, key := range t.Keys {
		d := t.Channels[key]
		if d.Kind == KindTime {
			continue
		}
		v, err := d.Extract(payload)
		if err != nil {
			errs = append(errs, err)
		}
		out[key] = v
	}
	return out, errors.Join(errs...)
}

// Unit returns the configured unit of a channel, or "".
func (t *Tables) Unit(key string) string {
	return t.Channels[key].Unit
}
