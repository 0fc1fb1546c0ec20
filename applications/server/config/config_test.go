package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig(t *testing.T) {
	want := Server{
		API: Api{HTTPAddr: "0.0.0.0:8002"},
		Download: Download{
			Root:         "./data",
			MaxRanges:    32,
			CacheControl: "private, max-age=0, must-revalidate",
		},
		Transfer: Transfer{
			MemoryLimit:    512 << 20,
			SafetyFraction: 0.9,
		},
		Upload: Upload{
			Enabled: true,
			Dir:     "./data/uploads",
			MaxSize: 1 << 30,
		},
	}

	got, err := Parse("config.yml")

	assert.NoError(t, got.Validate())
	assert.Equal(t, nil, err)
	assert.Equal(t, want, got)
}

func TestParseConfigErrors(t *testing.T) {
	_, err := Parse("missing.yml")
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yml")
	require.NoError(t, os.WriteFile(path, []byte("upload:\n  max_size: \"lots\"\n"), 0o644))
	_, err = Parse(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("unknown_section: 1\n"), 0o644))
	_, err = Parse(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := Server{
		API:      Api{HTTPAddr: ":8002"},
		Download: Download{Root: "."},
	}
	assert.NoError(t, valid.Validate())

	tests := []func(s *Server){
		func(s *Server) { s.API.HTTPAddr = "" },
		func(s *Server) { s.Download.Root = "" },
		func(s *Server) { s.Download.MaxRanges = -1 },
		func(s *Server) { s.Transfer.SafetyFraction = 1.5 },
		func(s *Server) { s.Upload.Enabled = true },
		func(s *Server) { s.Upload.Destinations = map[string]string{"f": ""} },
	}

	for i, mutate := range tests {
		s := valid
		mutate(&s)
		assert.Error(t, s.Validate(), "case %d", i)
	}
}

func TestByteSizeString(t *testing.T) {
	assert.Equal(t, "1.0 MB", ByteSize(1000*1000).String())
}
