package constants

import (
	"io/fs"
	"time"
)

const (
	// DefaultDirPerm is the default permission used when creating directories.
	DefaultDirPerm fs.FileMode = 0o755
	// DefaultFilePerm is the default permission used when creating files.
	DefaultFilePerm fs.FileMode = 0o644
)

const (
	// RawCaptureLimitBytes caps how many bytes of a response body are kept as finding evidence.
	RawCaptureLimitBytes = 2048
	// MaxResponseBodyBytes caps how much of a response body the executor reads.
	MaxResponseBodyBytes = 2 << 20
)

// Scan defaults applied when neither flags nor the config file set a value.
const (
	DefaultThreads      = 10
	DefaultTimeout      = 10 * time.Second
	DefaultRetries      = 2
	DefaultRetryDelay   = 500 * time.Millisecond
	DefaultPayloadLimit = 20
	DefaultPacing       = 100 * time.Millisecond
	DefaultDoHEndpoint  = "https://cloudflare-dns.com/dns-query"
)

// ConfidenceFloor is the minimum confidence a finding needs to be reported.
const ConfidenceFloor = 0.7
