package broadcast

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/oklog/ulid/v2"

	"github.com/danmuck/mslogger/internal/decoder"
)

var codec = sonic.ConfigStd

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// Metadata keys carried next to the flat JSON body.
const (
	MetadataSeq         = "seq"
	MetadataTimestamp   = "ts"
	MetadataContentType = "content-type"
)

// Encode renders a sample as a flat JSON object of channel key to value.
func Encode(sample decoder.Sample) ([]byte, error) {
	if sample == nil {
		sample = decoder.Sample{}
	}
	data, err := codec.Marshal(sample)
	if err != nil {
		return nil, fmt.Errorf("broadcast: encode: %w", err)
	}
	return data, nil
}

func Decode(data []byte) (decoder.Sample, error) {
	var sample decoder.Sample
	if err := codec.Unmarshal(data, &sample); err != nil {
		return nil, fmt.Errorf("broadcast: decode: %w", err)
	}
	return sample, nil
}

// newID returns a time-sortable message id.
func newID(at time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), entropy).String()
}
