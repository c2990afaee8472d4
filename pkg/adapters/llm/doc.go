// Package llm provides LLM client implementations for LLM-backed workers.
//
// The factory creates LLM clients based on provider configuration.
// Currently supports:
//   - Anthropic Claude
package llm
