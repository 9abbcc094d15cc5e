// Package generation provides interfaces for interacting with external
// AI/LLM services. It abstracts the details of LLM API integration
// (Gemini), allowing job handlers to produce contact insights, reply
// drafts, and text embeddings without coupling to a specific provider.
package generation
