//go:build NODOWNLOAD

package vocab

import "errors"

type DownloadOptions struct{}

func NewDownloadOptions() DownloadOptions {
	return DownloadOptions{}
}

func DownloadTokenizer(_ string, _ string, _ DownloadOptions) (string, error) {
	return "", errors.New("hub downloads are disabled in this build")
}
