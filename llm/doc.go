// Package llm is the provider-neutral wire model shared by every prompt
// function in promptcall.
//
// A Request carries messages, tool specs and CallParams. Providers in the
// subpackages (anthropic, openai, ollama) translate it to their SDKs and map
// replies back into a Response or a Stream of StreamEvents. Tool-call
// arguments stay as raw JSON here; decoding belongs to package tool.
//
// Streams report tool-call fragments tagged with an id, a position index or
// both. Assembling them into complete calls is left to package call.
//
// ProviderRegistry turns a preference list and configured credentials into a
// ClientKey. WrapWithMiddleware decorates any Client with hooks such as the
// one returned by NewLoggingMiddleware:
//
//	client := llm.WrapWithMiddleware(base, llm.NewLoggingMiddleware(logger))
//	resp, err := client.Synchronous(ctx, &llm.Request{
//		Model:    "gpt-4o-mini",
//		Messages: []llm.Message{llm.NewTextMessage(llm.RoleUser, "Hello")},
//	})
//
// Transport failures are *Error values classified by ErrorType. Failures
// raised by promptcall itself have their own types: TemplateError,
// ArgumentDecodeError, ExtractionError and StreamFinalizationError.
package llm
