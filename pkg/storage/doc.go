// Package storage lays out per-project files on an afero filesystem.
//
// Layout under the projects root:
//
//	<project>/studio/...                   generated artifacts
//	<project>/ai-images/<file>             charts and generated images
//	<project>/sources/index.json           source metadata
//	<project>/sources/raw/<id>.<ext>       uploaded source files
//	<project>/sources/processed/<id>.txt   extracted source text
//
// Every caller-supplied path component is validated before use.
package storage
