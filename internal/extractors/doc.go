// Package extractors provides the extraction gateway: signature-based
// file type detection plus dispatch to per-type extractor
// implementations under time bounds and concurrency caps.
//
// Extractor implementations live in subpackages, one per file type, and
// are registered with the Gateway at startup.
package extractors
