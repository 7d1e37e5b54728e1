package intake

import (
	"fmt"
	"strings"

	"github.com/go-go-golems/palaver/pkg/chat"
)

const (
	// MaxFileBytes is the hard per-file size ceiling.
	MaxFileBytes = 20 * 1024 * 1024
	// InlineThresholdBytes is the largest payload attached inline; bigger
	// files go through upload-and-poll and are referenced by URI.
	InlineThresholdBytes = 4 * 1024 * 1024
)

const mimePDF = "application/pdf"

var allowedImageTypes = map[string]struct{}{
	"image/png":  {},
	"image/jpeg": {},
	"image/webp": {},
	"image/gif":  {},
	"image/heic": {},
}

// Result separates the files that may proceed from per-file rejection
// messages. Acceptance is per file: one rejected file does not block the
// rest of the batch.
type Result struct {
	Valid  []chat.Attachment
	Errors []string
}

// Validate checks size and declared type for each file. Every rejection
// produces a human-readable message naming the file.
func Validate(files []chat.Attachment) Result {
	var res Result
	for _, f := range files {
		if len(f.Data) > MaxFileBytes {
			res.Errors = append(res.Errors,
				fmt.Sprintf("%s is too large (%.1f MB, limit is %d MB)",
					f.Name, float64(len(f.Data))/(1024*1024), MaxFileBytes/(1024*1024)))
			continue
		}
		if !AllowedType(f.MIMEType) {
			res.Errors = append(res.Errors,
				fmt.Sprintf("%s has unsupported type %q (images and PDF documents only)", f.Name, f.MIMEType))
			continue
		}
		res.Valid = append(res.Valid, f)
	}
	return res
}

// AllowedType reports whether the declared type is an image or a PDF.
func AllowedType(mimeType string) bool {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if mt == mimePDF {
		return true
	}
	_, ok := allowedImageTypes[mt]
	return ok
}

// CacheCandidate returns the single attachment that should be bound into a
// server-side context cache: exactly one file in the batch, of a cacheable
// document type, too large to attach inline. Any other batch shape sends
// files alongside the message instead.
func CacheCandidate(files []chat.Attachment) (chat.Attachment, bool) {
	if len(files) != 1 {
		return chat.Attachment{}, false
	}
	f := files[0]
	if strings.ToLower(f.MIMEType) != mimePDF {
		return chat.Attachment{}, false
	}
	if len(f.Data) <= InlineThresholdBytes {
		return chat.Attachment{}, false
	}
	return f, true
}

// Inline reports whether the file is small enough to ride inside the
// message payload.
func Inline(f chat.Attachment) bool {
	return len(f.Data) <= InlineThresholdBytes
}
