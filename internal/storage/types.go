// Package storage defines the persistence contract for captured frames and
// their enrichment data (OCR text, window context, vision summaries), plus
// the storage pipeline stage that dedups, encodes, and writes each frame
// that reaches it.
package storage

import (
	"context"
	"image"
	"time"

	"github.com/google/uuid"
)

// Envelope is what the forwarder stage hands to the storage stage: a
// captured frame stamped with its capture time, still carrying the decoded
// image so the storage stage can run DB-level dedup before ever encoding
// a JPEG.
type Envelope struct {
	DisplayID  string
	Image      image.Image
	PHash      int64
	CapturedAt time.Time
}

// VisionStatus tracks LLM-based vision summarisation progress for a frame.
type VisionStatus int16

const (
	VisionPending VisionStatus = iota
	VisionProcessed
	VisionFailed
	VisionSkipped
)

// VisionStatusFromInt16 converts a stored SMALLINT back to a VisionStatus,
// defaulting unrecognized values to VisionPending.
func VisionStatusFromInt16(v int16) VisionStatus {
	switch v {
	case 1:
		return VisionProcessed
	case 2:
		return VisionFailed
	case 3:
		return VisionSkipped
	default:
		return VisionPending
	}
}

// EmbeddingStatus tracks embedding-generation progress for a frame.
type EmbeddingStatus int16

const (
	EmbeddingPending EmbeddingStatus = iota
	EmbeddingProcessed
	EmbeddingFailed
	EmbeddingSkipped
)

// EmbeddingStatusFromInt16 converts a stored SMALLINT back to an
// EmbeddingStatus, defaulting unrecognized values to EmbeddingPending.
func EmbeddingStatusFromInt16(v int16) EmbeddingStatus {
	switch v {
	case 1:
		return EmbeddingProcessed
	case 2:
		return EmbeddingFailed
	case 3:
		return EmbeddingSkipped
	default:
		return EmbeddingPending
	}
}

// FrameWithContext is a stored frame together with its denormalised
// OCR/vision/window context.
type FrameWithContext struct {
	ID              uuid.UUID
	CapturedAt      time.Time
	DeploymentID    string
	WindowTitle     string
	AppName         string
	ImageRef        string
	ImageSizeBytes  int64
	PHash           int64
	HasText         bool
	HasActivity     bool
	OCRText         string
	OCRConfidence   float32
	VisionSummary   string
	VisionStatus    VisionStatus
	EmbeddingStatus EmbeddingStatus
}

// AppStats summarizes usage of a single application over a time range.
type AppStats struct {
	AppName      string
	FrameCount   int64
	TotalSeconds int64
	FirstSeen    time.Time
	LastSeen     time.Time
}

// Stats is a high-level summary of the whole store.
type Stats struct {
	TotalFrames     int64
	FramesWithOCR   int64
	TotalImageBytes int64
}

// Storage is the persistence contract the storage stage and the
// (not-yet-built) downstream enrichment workers depend on. A deployment
// runs exactly one Storage implementation, shared across all display
// capture streams.
type Storage interface {
	// IsDuplicate reports whether a frame within windowSecs of now has a
	// phash within the dedup Hamming-distance threshold, returning its id.
	IsDuplicate(ctx context.Context, phash int64, windowSecs int) (uuid.UUID, bool, error)

	// InsertFrame persists a new frame and returns its generated id.
	InsertFrame(ctx context.Context, capturedAt time.Time, deploymentID, windowTitle, appName, imageRef string, imageSizeBytes, phash int64) (uuid.UUID, error)

	GetRecentFrames(ctx context.Context, limit, offset int) ([]FrameWithContext, error)
	SearchText(ctx context.Context, query string, limit int) ([]FrameWithContext, error)
	SearchByTime(ctx context.Context, start, end time.Time) ([]FrameWithContext, error)
	SearchByApp(ctx context.Context, appName string, limit int) ([]FrameWithContext, error)
	GetAppStats(ctx context.Context, start, end time.Time) ([]AppStats, error)

	// CleanupOldData deletes frames older than retentionDays and returns
	// the number of rows removed.
	CleanupOldData(ctx context.Context, retentionDays int) (int64, error)

	GetStats(ctx context.Context) (Stats, error)

	SetFrameHasText(ctx context.Context, frameID uuid.UUID, hasText bool) error
	InsertOCRText(ctx context.Context, frameID uuid.UUID, text string, confidence float32, language, bbox string) error
	InsertWindowContext(ctx context.Context, frameID uuid.UUID, appName, windowTitle, processName string, isFocused bool, url string) error

	GetFramesPendingVision(ctx context.Context, limit int) ([]FrameWithContext, error)
	UpdateVisionSummary(ctx context.Context, frameID uuid.UUID, summary string, status VisionStatus) error

	Close() error
}

// ImageStore persists encoded frame images to durable storage and resolves
// an ImageRef back to decoded pixels.
type ImageStore interface {
	// SaveJPEG encodes img as JPEG at the given quality (1-100) and
	// returns its store-relative ImageRef plus the file size in bytes.
	SaveJPEG(img image.Image, timestamp time.Time, quality int) (imageRef string, sizeBytes int64, err error)

	// LoadImage decodes a previously saved image back from disk.
	LoadImage(imageRef string) (image.Image, error)

	// CleanupOldImages removes date directories older than retentionDays
	// and returns the number of files removed.
	CleanupOldImages(retentionDays int) (int64, error)
}
