//go:build !NODOWNLOAD

package vocab

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gomlx/go-huggingface/hub"

	"github.com/chatgram/chatgram/util/fileutil"
)

// DownloadOptions tunes tokenizer downloads from the HuggingFace hub.
type DownloadOptions struct {
	AuthToken             string
	Branch                string
	MaxRetries            int
	RetryInterval         int
	ConcurrentConnections int
	Verbose               bool
}

// NewDownloadOptions creates new DownloadOptions struct with default values.
// Override the values to specify different download options.
func NewDownloadOptions() DownloadOptions {
	d := DownloadOptions{}
	d.Branch = "main"
	d.MaxRetries = 5
	d.RetryInterval = 5
	d.ConcurrentConnections = 5
	return d
}

// DownloadTokenizer fetches the tokenizer files of a HuggingFace model into
// destination and returns the local path of the tokenizer.json file. Before
// anything is downloaded the repository is validated to actually carry a
// tokenizer.json.
func DownloadTokenizer(modelName string, destination string, options DownloadOptions) (string, error) {
	modelDir := fileutil.PathJoinSafe(destination, strings.ReplaceAll(modelName, "/", "_"))

	// A previously downloaded tokenizer is reused as is.
	cachedPath := fileutil.PathJoinSafe(modelDir, "tokenizer.json")
	if exists, err := fileutil.FileExists(cachedPath); err == nil && exists {
		return cachedPath, nil
	}

	repo := hub.New(modelName)
	if options.AuthToken != "" {
		repo = repo.WithAuth(options.AuthToken)
	}
	if options.ConcurrentConnections > 0 {
		repo.MaxParallelDownload = options.ConcurrentConnections
	}
	if options.Verbose {
		repo.Verbosity = 1
		repo.WithProgressBar(true)
	} else {
		repo.Verbosity = 0
		repo.WithProgressBar(false)
	}
	if options.Branch != "" {
		repo.WithRevision(options.Branch)
	}

	downloadFiles, err := validateTokenizerRepo(repo, options)
	if err != nil {
		return "", err
	}

	for i := 0; i < options.MaxRetries; i++ {
		downloadPaths, downloadErr := repo.DownloadFiles(downloadFiles...)
		if downloadErr != nil {
			if options.Verbose {
				fmt.Printf("Warning: attempt %d / %d failed, error: %s\n", i+1, options.MaxRetries, downloadErr)
			}
			time.Sleep(time.Duration(options.RetryInterval) * time.Second)
			continue
		}

		tokenizerPath := ""
		for j, downloadPath := range downloadPaths {
			truePath, symErr := filepath.EvalSymlinks(downloadPath)
			if symErr != nil {
				return "", symErr
			}
			localPath := fileutil.PathJoinSafe(modelDir, path.Base(downloadFiles[j]))
			if copyErr := copyTokenizerFile(truePath, localPath); copyErr != nil {
				return "", copyErr
			}
			if path.Base(downloadFiles[j]) == "tokenizer.json" {
				tokenizerPath = localPath
			}
		}

		if options.Verbose {
			fmt.Printf("\nDownload of %s completed successfully\n", modelName)
		}
		return tokenizerPath, nil
	}

	return "", fmt.Errorf("failed to download %s after %d attempts", modelName, options.MaxRetries)
}

// validateTokenizerRepo lists the repository and picks the tokenizer files to
// fetch. A repository without a tokenizer.json cannot back a GO or RUST
// vocabulary and is rejected up front.
func validateTokenizerRepo(repo *hub.Repo, options DownloadOptions) ([]string, error) {
	for i := 0; i < options.MaxRetries; i++ {
		err := repo.DownloadInfo(false)
		if err != nil {
			if options.Verbose {
				fmt.Printf("Warning: list repo attempt %d / %d failed, error: %s\n", i+1, options.MaxRetries, err)
			}
			if i+1 == options.MaxRetries {
				return nil, err
			}
			time.Sleep(time.Duration(options.RetryInterval) * time.Second)
		}
	}

	tokenizerPath := ""
	var toDownload []string
	for fileName, err := range repo.IterFileNames() {
		if err != nil {
			return nil, err
		}
		switch filepath.Base(fileName) {
		case "tokenizer.json":
			tokenizerPath = fileName
		case "tokenizer_config.json", "special_tokens_map.json", "generation_config.json":
			toDownload = append(toDownload, fileName)
		}
	}

	if tokenizerPath == "" {
		return nil, errors.New("model does not have a tokenizer.json file")
	}
	return append(toDownload, tokenizerPath), nil
}

func copyTokenizerFile(source, destination string) error {
	data, err := fileutil.ReadFileBytes(source)
	if err != nil {
		return err
	}
	return fileutil.WriteFileBytes(destination, data)
}
