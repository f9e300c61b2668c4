// Package workload defines the platform's three job families — video
// transcoding, document parsing, and AI inference — as typed job
// definitions over pluggable collaborator interfaces.
package workload
