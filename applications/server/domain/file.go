package domain

import (
	"io"
	"net/http"
	"os"
)

// ByteRange is an inclusive [Start, End] offset pair into a resource.
type ByteRange struct {
	Start uint64
	End   uint64
}

// Length returns the number of bytes covered by the range.
func (r ByteRange) Length() uint64 {
	return r.End - r.Start + 1
}

// Overlaps reports whether both ranges cover at least one common byte.
func (r ByteRange) Overlaps(o ByteRange) bool {
	return r.Start <= o.End && o.Start <= r.End
}

// RangeSet keeps ranges in the order the client declared them.
type RangeSet []ByteRange

// Total returns the sum of all range lengths.
func (s RangeSet) Total() uint64 {
	var total uint64
	for _, r := range s {
		total += r.Length()
	}

	return total
}

// TransferPlan is built per GET request and dropped once the response is flushed.
type TransferPlan struct {
	Resource *os.File
	Size     uint64
	MIME     string
	Ranges   RangeSet
	Boundary string
}

type UploadSession struct {
	StagingPath   string
	ExpectedSize  uint64
	CurrentOffset uint64
	Resumable     bool
}

// Remaining returns how many bytes are still missing from the staging file.
func (s UploadSession) Remaining() uint64 {
	if s.CurrentOffset >= s.ExpectedSize {
		return 0
	}

	return s.ExpectedSize - s.CurrentOffset
}

type UploadedFileDescriptor struct {
	ServerName string `json:"server_name"`
	ServerPath string `json:"server_path"`
	UserName   string `json:"user_name"`
	Size       uint64 `json:"size"`
	MIME       string `json:"mime"`
	Hash       string `json:"hash"`
	Field      string `json:"field,omitempty"`
}

// DownloadRequest carries everything the download path needs from one GET.
type DownloadRequest struct {
	Method     string
	Path       string
	Range      string
	Header     http.Header
	MIME       string
	Speed      int64
	Filename   string
	Attachment bool
}

// UploadRequest carries everything the resumable PUT path needs.
type UploadRequest struct {
	Method             string
	ContentLength      int64
	ContentType        string
	ContentDisposition string
	Body               io.Reader
}

// BatchRequest is a multipart/form-data POST carrying one or more files.
type BatchRequest struct {
	ContentType string
	Body        io.Reader
}
