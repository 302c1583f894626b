// Package blockdown turns content arrays (markdown prose interleaved with
// fenced, language-tagged JSON payloads) into typed blocks.
//
// A page flows through three stages. Builder resolves {{identifier}}
// placeholders against named providers, then Parser converts each segment
// into Blocks in input order, dropping malformed fenced segments with a
// diagnostic. A Session then gives each viewer a shared-state store written
// by dropdown blocks and one live-metric card per card configuration, which
// re-fetches whenever a state key its URL references changes.
//
// Blocks form a closed set of kinds; renderers implement Visitor, so a new
// kind without a renderer method does not compile.
package blockdown
