package datasets

import (
	"errors"
	"io"

	"github.com/chatgram/chatgram/encoder"
)

// EncodeAll drains the dataset through the encoder. Under non-strict
// operation, recoverable per-example errors (malformed records, unsupported
// grammar features, length drops) are counted and skipped; any other error,
// or any error under strict operation, aborts. A summary is logged once the
// run finishes.
func EncodeAll(ds *ConversationDataset, enc *encoder.Encoder, strict bool) ([]*encoder.Example, *Stats, error) {
	stats := NewStats()
	var examples []*encoder.Example
	for {
		batch, err := ds.YieldRaw()
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, stats, err
		}
		for i := range batch {
			ex, encodeErr := encodeRecord(enc, &batch[i])
			stats.Observe(encodeErr)
			if encodeErr == nil {
				examples = append(examples, ex)
				continue
			}
			if strict || !encoder.IsRecoverable(encodeErr) {
				return nil, stats, encodeErr
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
	}
	stats.LogSummary("encode_all")
	return examples, stats, nil
}

func encodeRecord(enc *encoder.Encoder, record *encoder.Record) (*encoder.Example, error) {
	conv, err := record.Conversation()
	if err != nil {
		return nil, err
	}
	return enc.Encode(conv)
}
