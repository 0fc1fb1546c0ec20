package services

import (
	"github.com/go-kit/log"

	"github.com/donmikel/rangeserve/applications/server"
	"github.com/donmikel/rangeserve/applications/server/interfaces"
)

const defaultMaxRanges = 32

type Options struct {
	// Root is the directory GET paths are resolved against.
	Root      string
	MaxRanges int
	Upload    UploadOptions
}

type UploadOptions struct {
	Enabled       bool
	Dir           string
	StagingDir    string
	MaxSize       uint64
	AllowedMIME   []string
	PreserveNames bool
	Overwrite     bool
	Intolerant    bool
	// Destinations maps POST form fields to directories.
	Destinations map[string]string
}

// Collaborators are resolved once at startup and shared by every request.
type Collaborators struct {
	FileMetaStorage interfaces.FileMetaStorage
	Validators      interfaces.ValidatorCache
	Headers         interfaces.HeaderEmitter
	Sanitizer       interfaces.FilenameSanitizer
	Mimes           interfaces.MimeResolver
	Throttler       *Throttler
}

type service struct {
	fileMetaStorage interfaces.FileMetaStorage
	validators      interfaces.ValidatorCache
	headers         interfaces.HeaderEmitter
	sanitizer       interfaces.FilenameSanitizer
	mimes           interfaces.MimeResolver
	throttler       *Throttler
	opts            Options
	logger          log.Logger
}

func NewService(opts Options, c Collaborators, logger log.Logger) server.FileService {
	if opts.MaxRanges == 0 {
		opts.MaxRanges = defaultMaxRanges
	}

	return &service{
		fileMetaStorage: c.FileMetaStorage,
		validators:      c.Validators,
		headers:         c.Headers,
		sanitizer:       c.Sanitizer,
		mimes:           c.Mimes,
		throttler:       c.Throttler,
		opts:            opts,
		logger:          logger,
	}
}
