package hybridrag

import "errors"

var (
	// ErrEmptyQuestion is returned when Ask receives a blank question.
	ErrEmptyQuestion = errors.New("hybridrag: question is empty")

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("hybridrag: invalid configuration")

	// ErrStoreClosed is returned when operating on a closed engine.
	ErrStoreClosed = errors.New("hybridrag: store is closed")

	// ErrUnsupportedFormat is returned for unrecognized file formats.
	ErrUnsupportedFormat = errors.New("hybridrag: unsupported document format")

	// ErrParsingFailed is returned when an input file cannot be parsed.
	ErrParsingFailed = errors.New("hybridrag: parsing failed")

	// ErrEmbeddingFailed is returned when embedding generation fails during ingestion.
	ErrEmbeddingFailed = errors.New("hybridrag: embedding generation failed")

	// ErrGraphBuildFailed is returned when graph loading cannot write to the graph store.
	ErrGraphBuildFailed = errors.New("hybridrag: graph build failed")

	// ErrModelUnavailable is returned when an operation needs an embedding
	// provider and none is configured.
	ErrModelUnavailable = errors.New("hybridrag: model provider unavailable")
)
