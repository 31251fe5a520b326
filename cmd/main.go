package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/mattn/go-isatty"
	"github.com/phuslu/log"
	"github.com/urfave/cli/v2"

	"github.com/chatgram/chatgram"
	"github.com/chatgram/chatgram/datasets"
	"github.com/chatgram/chatgram/encoder"
	"github.com/chatgram/chatgram/options"
	"github.com/chatgram/chatgram/packing"
	"github.com/chatgram/chatgram/util/fileutil"
	"github.com/chatgram/chatgram/vocab"
)

var json = jsoniter.ConfigFastest

var (
	templateType  string
	tokenizerPath string
	backend       string
	encodingName  string
	specialTokens cli.StringSlice
	inputPath     string
	outputPath    string
	maxLength     int
	truncation    string
	strict        bool
	defaultSystem string
	trainEOS      bool
	batchSize     int
	blockLength   int
	padID         int
)

func grammarFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "template",
			Usage:       "Chat template type (see the templates command)",
			Aliases:     []string{"t"},
			Destination: &templateType,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "tokenizer",
			Usage:       "Path to a tokenizer.json file, or hf://org/model to download one (GO and RUST backends)",
			Destination: &tokenizerPath,
		},
		&cli.StringFlag{
			Name:        "backend",
			Usage:       "Vocabulary backend: GO, RUST or TIKTOKEN",
			Destination: &backend,
			Value:       vocab.BackendGo,
		},
		&cli.StringFlag{
			Name:        "encoding",
			Usage:       "Tiktoken encoding name, e.g. cl100k_base (TIKTOKEN backend)",
			Destination: &encodingName,
		},
		&cli.StringSliceFlag{
			Name:        "special",
			Usage:       "Override a well-known token literal, e.g. eos_token_id=<|im_end|> (repeatable)",
			Destination: &specialTokens,
		},
		&cli.StringFlag{
			Name:        "input",
			Usage:       "Path to a .jsonl file with conversation records. If omitted, records are read from stdin.",
			Aliases:     []string{"i"},
			Destination: &inputPath,
		},
		&cli.StringFlag{
			Name:        "output",
			Usage:       "Path to write the encoded output. If omitted, the output is sent to stdout.",
			Aliases:     []string{"o"},
			Destination: &outputPath,
		},
		&cli.IntFlag{
			Name:        "max-length",
			Usage:       "Token length budget per example, 0 for unlimited",
			Destination: &maxLength,
		},
		&cli.StringFlag{
			Name:        "truncation",
			Usage:       "Truncation strategy: delete or truncation_left",
			Destination: &truncation,
			Value:       string(options.TruncationDelete),
		},
		&cli.BoolFlag{
			Name:        "strict",
			Usage:       "Abort on the first malformed or unsupported record instead of skipping it",
			Destination: &strict,
		},
		&cli.StringFlag{
			Name:        "default-system",
			Usage:       "System message used when a conversation has none",
			Destination: &defaultSystem,
		},
		&cli.BoolFlag{
			Name:        "train-eos",
			Usage:       "Make a trailing end-of-sequence token in the suffix trainable",
			Destination: &trainEOS,
		},
		&cli.IntFlag{
			Name:        "batchSize",
			Usage:       "Number of records to read per batch",
			Aliases:     []string{"b"},
			Destination: &batchSize,
			Value:       20,
		},
	}
}

var encodeCommand = &cli.Command{
	Name:  "encode",
	Usage: "Encode conversation records through a chat template",
	Description: `Encode expects .jsonl input where each line holds a conversation record:
				{"messages":[{"role":"user","content":"hello"},{"role":"assistant","content":"hi"}]}
				with optional "images", "videos" and "audios" reference lists. Each encoded
				example is written as one json line with token_ids and labels. A summary of
				dropped records is logged at the end.`,
	Flags: grammarFlags(),
	Action: func(_ *cli.Context) error {
		enc, err := buildEncoder()
		if err != nil {
			return err
		}
		out, closeOut, err := openOutput()
		if err != nil {
			return err
		}
		defer closeOut()

		stats := datasets.NewStats()
		writeErr := forEachRecord(func(record *encoder.Record) error {
			ex, encodeErr := encodeOne(enc, record)
			stats.Observe(encodeErr)
			if encodeErr != nil {
				if strict || !encoder.IsRecoverable(encodeErr) {
					return encodeErr
				}
				return nil
			}
			return writeLine(out, ex)
		})
		stats.LogSummary("cli_encode")
		return writeErr
	},
}

var packCommand = &cli.Command{
	Name:  "pack",
	Usage: "Encode conversation records and pack them into fixed-length blocks",
	Flags: append(grammarFlags(),
		&cli.IntFlag{
			Name:        "block-length",
			Usage:       "Fixed token length of packed blocks",
			Destination: &blockLength,
			Value:       2048,
		},
		&cli.IntFlag{
			Name:        "pad-id",
			Usage:       "Token id used to pad the tail of a block",
			Destination: &padID,
		},
	),
	Action: func(_ *cli.Context) error {
		enc, err := buildEncoder()
		if err != nil {
			return err
		}
		packer, err := packing.New(blockLength, padID)
		if err != nil {
			return err
		}
		out, closeOut, err := openOutput()
		if err != nil {
			return err
		}
		defer closeOut()

		stats := datasets.NewStats()
		writeErr := forEachRecord(func(record *encoder.Record) error {
			ex, encodeErr := encodeOne(enc, record)
			stats.Observe(encodeErr)
			if encodeErr != nil {
				if strict || !encoder.IsRecoverable(encodeErr) {
					return encodeErr
				}
				return nil
			}
			if flushed := packer.Add(ex); flushed != nil {
				return writeLine(out, flushed)
			}
			return nil
		})
		if writeErr == nil {
			if last := packer.Flush(); last != nil {
				writeErr = writeLine(out, last)
			}
		}
		stats.LogSummary("cli_pack")
		return writeErr
	},
}

var templatesCommand = &cli.Command{
	Name:  "templates",
	Usage: "List the built-in chat template types",
	Action: func(_ *cli.Context) error {
		for _, templateType := range chatgram.Default().Types() {
			fmt.Println(templateType)
		}
		return nil
	},
}

func buildEncoder() (*encoder.Encoder, error) {
	overrides := map[string]string{}
	for _, pair := range specialTokens.Value() {
		name, literal, found := strings.Cut(pair, "=")
		if !found {
			return nil, fmt.Errorf("--special expects name=literal, got %q", pair)
		}
		overrides[name] = literal
	}
	vocabulary, err := vocab.Load(vocab.Config{
		Backend:       backend,
		Path:          tokenizerPath,
		Encoding:      encodingName,
		SpecialTokens: overrides,
	})
	if err != nil {
		return nil, err
	}
	resolved, err := chatgram.Default().Lookup(templateType, vocabulary)
	if err != nil {
		return nil, err
	}
	withOptions := []options.WithOption{
		options.WithMaxLength(maxLength),
		options.WithTruncation(options.TruncationStrategy(truncation)),
	}
	if strict {
		withOptions = append(withOptions, options.WithStrict())
	}
	if defaultSystem != "" {
		withOptions = append(withOptions, options.WithDefaultSystem(defaultSystem))
	}
	if trainEOS {
		withOptions = append(withOptions, options.WithTrainableSuffixEOS())
	}
	opts, err := options.New(withOptions...)
	if err != nil {
		return nil, err
	}
	return encoder.New(resolved, opts)
}

func encodeOne(enc *encoder.Encoder, record *encoder.Record) (*encoder.Example, error) {
	conv, err := record.Conversation()
	if err != nil {
		return nil, err
	}
	return enc.Encode(conv)
}

// forEachRecord streams records from the configured input: a jsonl file (or
// s3 URL) through the dataset layer, or stdin line by line.
func forEachRecord(fn func(*encoder.Record) error) error {
	if inputPath != "" {
		ds, err := datasets.NewConversationDataset(inputPath, batchSize, nil)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := ds.Close(); closeErr != nil {
				log.Warn().Err(closeErr).Msg("closing input")
			}
		}()
		for {
			batch, err := ds.YieldRaw()
			if err != nil && !errors.Is(err, io.EOF) {
				return err
			}
			for i := range batch {
				if fnErr := fn(&batch[i]); fnErr != nil {
					return fnErr
				}
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
		}
	}

	if isatty.IsTerminal(os.Stdin.Fd()) {
		log.Info().Msg("reading conversation records from stdin, one json object per line")
	}
	reader := bufio.NewReader(os.Stdin)
	for {
		lineBytes, err := fileutil.ReadLine(reader)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if len(lineBytes) == 0 {
			continue
		}
		var record encoder.Record
		if err := json.Unmarshal(lineBytes, &record); err != nil {
			return fmt.Errorf("failed to parse JSON line: %w", err)
		}
		if fnErr := fn(&record); fnErr != nil {
			return fnErr
		}
	}
}

func openOutput() (io.Writer, func(), error) {
	if outputPath == "" {
		return os.Stdout, func() {}, nil
	}
	writer, err := fileutil.NewWriter(outputPath)
	if err != nil {
		return nil, nil, err
	}
	return writer, func() {
		if closeErr := writer.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("closing output")
		}
	}, nil
}

func writeLine(out io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := out.Write(data); err != nil {
		return err
	}
	_, err = out.Write([]byte("\n"))
	return err
}

func main() {
	app := &cli.App{
		Name:     "chatgram",
		Usage:    "Compile chat templates and encode conversations into token sequences",
		Commands: []*cli.Command{encodeCommand, packCommand, templatesCommand},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("chatgram failed")
	}
}
