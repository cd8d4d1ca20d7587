// Package vector implements vector-search providers: an in-process index
// for development and tests, and a Redis index built on RediSearch HNSW
// vectors with cosine distance.
package vector
