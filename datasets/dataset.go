// Package datasets feeds conversation records to the encoder: batched jsonl
// reading, bulk encoding with drop accounting, lazy per-index encoding with
// deterministic resampling, and packed training iteration.
package datasets

import (
	"bufio"
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"

	"github.com/chatgram/chatgram/encoder"
	"github.com/chatgram/chatgram/util/fileutil"
)

var json = jsoniter.ConfigFastest

// RecordPreprocessFunc can rewrite a batch of raw records before encoding,
// e.g. to normalize dataset-specific fields into the canonical schema.
type RecordPreprocessFunc func([]encoder.Record) ([]encoder.Record, error)

// ConversationDataset reads conversation records, either from a .jsonl file
// (each line one record with a "messages" key) or from memory.
type ConversationDataset struct {
	trainingPath   string
	batchSize      int
	records        []encoder.Record
	preprocessFunc RecordPreprocessFunc

	reader     *bufio.Reader
	sourceFile io.ReadCloser
	batchN     int
	verbose    bool
}

func (d *ConversationDataset) SetVerbose(v bool) {
	d.verbose = v
}

func (d *ConversationDataset) validate() error {
	if len(d.records) == 0 && d.trainingPath == "" {
		return fmt.Errorf("a training path or in-memory records are required")
	}
	if d.batchSize <= 0 {
		return fmt.Errorf("batch size must be > 0, got %d", d.batchSize)
	}
	return nil
}

// NewConversationDataset creates a dataset over a .jsonl file where each line
// has the format {"messages":[{"role":"user","content":"..."},...]} with
// optional "images", "videos", "audios" and "tools" lists.
func NewConversationDataset(trainingPath string, batchSize int, preprocessFunc RecordPreprocessFunc) (*ConversationDataset, error) {
	d := &ConversationDataset{
		trainingPath:   trainingPath,
		batchSize:      batchSize,
		preprocessFunc: preprocessFunc,
	}
	if err := d.validate(); err != nil {
		return nil, err
	}
	sourceReadCloser, err := fileutil.OpenFile(trainingPath)
	if err != nil {
		return nil, err
	}
	d.reader = bufio.NewReader(sourceReadCloser)
	d.sourceFile = sourceReadCloser
	return d, nil
}

// NewInMemoryConversationDataset creates a dataset over a record slice.
func NewInMemoryConversationDataset(records []encoder.Record, batchSize int, preprocessFunc RecordPreprocessFunc) (*ConversationDataset, error) {
	d := &ConversationDataset{
		records:        records,
		batchSize:      batchSize,
		preprocessFunc: preprocessFunc,
	}
	if err := d.validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Reset rewinds the dataset to the beginning of the training data.
func (d *ConversationDataset) Reset() error {
	if d.verbose {
		fmt.Printf("completed epoch in %d batches of %d records, resetting dataset\n", d.batchN, d.batchSize)
	}
	d.batchN = 0
	if len(d.records) > 0 {
		return nil
	}
	if err := d.sourceFile.Close(); err != nil {
		return err
	}
	sourceReadCloser, err := fileutil.OpenFile(d.trainingPath)
	if err != nil {
		return err
	}
	d.sourceFile = sourceReadCloser
	d.reader = bufio.NewReader(sourceReadCloser)
	return nil
}

// YieldRaw returns the next batch of raw records, preprocessed when a
// preprocessing function was provided. io.EOF signals the end of the data;
// a batch cut short by EOF is still returned alongside it.
func (d *ConversationDataset) YieldRaw() ([]encoder.Record, error) {
	batch := make([]encoder.Record, 0, d.batchSize)
	if len(d.records) > 0 {
		start := d.batchN * d.batchSize
		if start >= len(d.records) {
			return nil, io.EOF
		}
		end := min(start+d.batchSize, len(d.records))
		batch = append(batch, d.records[start:end]...)
		d.batchN++
		return d.preprocess(batch)
	}

	for len(batch) < d.batchSize {
		lineBytes, readErr := fileutil.ReadLine(d.reader)
		if readErr == io.EOF {
			if len(batch) == 0 {
				return nil, io.EOF
			}
			break
		}
		if readErr != nil {
			return nil, readErr
		}
		if len(lineBytes) == 0 {
			continue
		}
		var record encoder.Record
		if err := json.Unmarshal(lineBytes, &record); err != nil {
			return nil, fmt.Errorf("failed to parse JSON line: %w", err)
		}
		batch = append(batch, record)
	}
	d.batchN++
	return d.preprocess(batch)
}

func (d *ConversationDataset) preprocess(batch []encoder.Record) ([]encoder.Record, error) {
	if d.preprocessFunc == nil {
		return batch, nil
	}
	return d.preprocessFunc(batch)
}

func (d *ConversationDataset) Close() error {
	if d.sourceFile != nil {
		return d.sourceFile.Close()
	}
	return nil
}
