// Package pipelines resolves a (model architecture, task) pair to a pipeline
// implementation and an engine loader, wires a tokenizer and a built engine
// together, and returns a runnable pipeline. The lookup table is constructed
// once and owned by the Registry so tests can substitute implementations.
package pipelines
