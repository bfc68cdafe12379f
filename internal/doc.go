// Package internal holds identity helpers shared by the root package and its
// coordination subpackages. Nothing here is part of the public API.
package internal
