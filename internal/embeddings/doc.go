// Package embeddings turns passage and query text into vectors.
//
// Three embedders are available: FastEmbed (local ONNX models, requires
// cgo), TEI (a text-embeddings-inference server on the local network) and a
// deterministic lexical hashing embedder that needs no model files. The
// embedder of a library is fixed when the library is created; the vector
// index refuses to open with a different model or dimension.
package embeddings
