// Package embeddings turns chunk text and questions into vectors.
//
// Three providers are available: fastembed runs an ONNX model in process
// (cgo builds only), while ollama and openai call a model server through
// langchaingo. Every provider is wrapped with OpenTelemetry metrics.
package embeddings
